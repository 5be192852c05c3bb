package relay

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"collabtext/internal/session"
	"collabtext/internal/store"
)

// OpRelay is the merge engine seen from the session: it moves well-formed
// ops between an editor and every other editor in the same room. Merging
// them is left to the editors.
type OpRelay struct {
	bus Bus
	log zerolog.Logger
}

var _ session.MergeEngine = (*OpRelay)(nil)

func NewOpRelay(bus Bus, log zerolog.Logger) *OpRelay {
	return &OpRelay{bus: bus, log: log}
}

func (r *OpRelay) Attach(ctx context.Context, h store.Handle, ed session.Editor) (io.Closer, error) {
	remote, unsubscribe, err := r.bus.Subscribe(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	log := r.log.With().Str("room", h.ID).Logger()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ed.Edits():
				if !ok {
					return
				}
				if _, err := DecodeOp(raw); err != nil {
					log.Warn().Err(err).Msg("dropping malformed edit")
					continue
				}
				if err := r.bus.Publish(ctx, h.ID, raw); err != nil {
					log.Warn().Err(err).Msg("edit not relayed")
				}
			}
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-remote:
				if !ok {
					return
				}
				if err := ed.Apply(raw); err != nil {
					log.Warn().Err(err).Msg("remote edit not applied")
				}
			}
		}
	}()

	return closer(func() error {
		cancel()
		unsubscribe()
		wg.Wait()
		return nil
	}), nil
}

type closer func() error

func (f closer) Close() error { return f() }
