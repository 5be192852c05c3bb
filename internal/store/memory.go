package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// NewToken returns a fresh channel name.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Memory is an in-process Store. Subscribers are called synchronously
// from the writing goroutine, outside the store lock but under the
// channel's delivery lock, so every subscriber sees writes in the order
// they were applied. A subscriber must not write to the channel it is
// being called for.
type Memory struct {
	mu      sync.Mutex
	order   map[string]*sync.Mutex
	values  map[string]Message
	subs    map[string]map[int]func(*Message)
	writes  map[string][]Message
	nextSub int
	offline error
}

func NewMemory() *Memory {
	return &Memory{
		order:  make(map[string]*sync.Mutex),
		values: make(map[string]Message),
		subs:   make(map[string]map[int]func(*Message)),
		writes: make(map[string][]Message),
	}
}

// SetOffline makes every store call fail with err wrapped in
// ErrUnavailable. A nil err brings the store back.
func (s *Memory) SetOffline(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = err
}

func (s *Memory) checkLocked(op string) error {
	if s.offline != nil {
		return fmt.Errorf("memory %s: %w: %v", op, ErrUnavailable, s.offline)
	}
	return nil
}

func (s *Memory) CreateUnique(ctx context.Context) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("create"); err != nil {
		return Handle{}, err
	}
	for {
		id := NewToken()
		if _, taken := s.values[id]; !taken {
			return Handle{ID: id}, nil
		}
	}
}

func (s *Memory) FromToken(token string) Handle {
	return Handle{ID: token}
}

func (s *Memory) Subscribe(ctx context.Context, h Handle, fn func(*Message)) (Subscription, error) {
	unlock := s.lockChannel(h.ID)
	defer unlock()
	s.mu.Lock()
	if err := s.checkLocked("subscribe"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	id := s.nextSub
	s.nextSub++
	if s.subs[h.ID] == nil {
		s.subs[h.ID] = make(map[int]func(*Message))
	}
	s.subs[h.ID][id] = fn
	current := s.valueLocked(h.ID)
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return subscriptionFunc(func() error {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[h.ID], id)
			if len(s.subs[h.ID]) == 0 {
				delete(s.subs, h.ID)
			}
		})
		return nil
	}), nil
}

func (s *Memory) Update(ctx context.Context, h Handle, partial Message) error {
	unlock := s.lockChannel(h.ID)
	defer unlock()
	s.mu.Lock()
	if err := s.checkLocked("update"); err != nil {
		s.mu.Unlock()
		return err
	}
	if merged := s.values[h.ID].Merge(partial); merged.Empty() {
		delete(s.values, h.ID)
	} else {
		s.values[h.ID] = merged
	}
	s.writes[h.ID] = append(s.writes[h.ID], partial.clone())
	value := s.valueLocked(h.ID)
	fns := s.subscribersLocked(h.ID)
	s.mu.Unlock()

	deliver(fns, value)
	return nil
}

func (s *Memory) Remove(ctx context.Context, h Handle) error {
	unlock := s.lockChannel(h.ID)
	defer unlock()
	s.mu.Lock()
	if err := s.checkLocked("remove"); err != nil {
		s.mu.Unlock()
		return err
	}
	delete(s.values, h.ID)
	fns := s.subscribersLocked(h.ID)
	s.mu.Unlock()

	deliver(fns, nil)
	return nil
}

// Value returns a copy of the channel value, nil when empty.
func (s *Memory) Value(h Handle) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valueLocked(h.ID)
}

// Writes returns every partial passed to Update for the channel, in order.
func (s *Memory) Writes(h Handle) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.writes[h.ID]))
	copy(out, s.writes[h.ID])
	return out
}

// lockChannel serialises writes and deliveries on one channel. It is
// always taken before s.mu.
func (s *Memory) lockChannel(id string) func() {
	s.mu.Lock()
	l, ok := s.order[id]
	if !ok {
		l = &sync.Mutex{}
		s.order[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Memory) valueLocked(id string) *Message {
	v, ok := s.values[id]
	if !ok {
		return nil
	}
	c := v.clone()
	return &c
}

func (s *Memory) subscribersLocked(id string) []func(*Message) {
	fns := make([]func(*Message), 0, len(s.subs[id]))
	for _, fn := range s.subs[id] {
		fns = append(fns, fn)
	}
	return fns
}

func deliver(fns []func(*Message), value *Message) {
	for _, fn := range fns {
		if value == nil {
			fn(nil)
			continue
		}
		c := value.clone()
		fn(&c)
	}
}
