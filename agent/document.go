package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"collabtext/internal/relay"
)

// document is the agent's in-memory copy of the shared text. It is the
// editor handed to the merge engine: local edits leave through Edits and
// remote ones come back through Apply.
type document struct {
	id    string
	mu    sync.Mutex
	chars []string
	edits chan []byte
}

func newDocument() *document {
	return &document{
		id:    uuid.NewString(),
		edits: make(chan []byte, 256),
	}
}

func (d *document) Edits() <-chan []byte {
	return d.edits
}

// Apply takes a remote op. Ops this agent sent are skipped, and
// crdt ops are left to the editors that understand them.
func (d *document) Apply(raw []byte) error {
	op, err := relay.DecodeOp(raw)
	if err != nil {
		return err
	}
	if op.ClientID == d.id {
		return nil
	}
	d.apply(op)
	return nil
}

func (d *document) apply(op relay.Op) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Indexes past either end are clamped, never trusted.
	index := min(max(op.Index, 0), len(d.chars))
	switch op.Action {
	case relay.ActionRawInsert:
		d.chars = append(d.chars[:index], append([]string{op.Char.Value}, d.chars[index:]...)...)
	case relay.ActionRawDelete:
		if op.Index >= 0 && op.Index < len(d.chars) {
			d.chars = append(d.chars[:op.Index], d.chars[op.Index+1:]...)
		}
	}
}

// Insert applies text at index locally and queues one op per character.
func (d *document) Insert(index int, text string) error {
	if index < 0 {
		return fmt.Errorf("index must not be negative")
	}
	for i, r := range []rune(text) {
		op := relay.Op{Action: relay.ActionRawInsert, Char: relay.Char{Value: string(r)}, Index: index + i}
		d.apply(op)
		if err := d.send(op); err != nil {
			return err
		}
	}
	return nil
}

func (d *document) Delete(index int) error {
	if index < 0 {
		return fmt.Errorf("index must not be negative")
	}
	op := relay.Op{Action: relay.ActionRawDelete, Index: index}
	d.apply(op)
	return d.send(op)
}

func (d *document) send(op relay.Op) error {
	op.ClientID = d.id
	buf, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode op: %w", err)
	}
	select {
	case d.edits <- buf:
		return nil
	default:
		return fmt.Errorf("edit queue full")
	}
}

func (d *document) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.Join(d.chars, "")
}
