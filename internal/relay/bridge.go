package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"collabtext/internal/clock"
	"collabtext/internal/session"
	"collabtext/internal/store"
)

const (
	sendBuffer = 256
	editBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Bridge serves one session per websocket. The browser tab on the other
// end is both the UI layer and the editor: it sends intents and edits,
// and receives mode, kill and locator updates plus remote edits.
type Bridge struct {
	Store  store.Store
	Config session.Config
	Merge  session.MergeEngine
	Clock  clock.Clock
	Log    zerolog.Logger
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.Log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{
		ws:    ws,
		id:    uuid.NewString(),
		send:  make(chan []byte, sendBuffer),
		edits: make(chan []byte, editBuffer),
	}
	c.log = b.Log.With().Str("client", c.id).Logger()
	go c.writePump()
	defer c.shutdown()

	ctrl, err := b.start(r, c)
	if err != nil {
		c.log.Warn().Err(err).Msg("session not started")
		c.enqueue(Error{Type: TypeError, Message: err.Error()})
		return
	}
	defer ctrl.Close()
	c.readPump(ctrl)
}

// start waits for the client's start message and runs its session.
func (b *Bridge) start(r *http.Request, c *client) (*session.Controller, error) {
	_, buf, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read start: %w", err)
	}
	var mt MsgType
	if err := json.Unmarshal(buf, &mt); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if mt.Type != TypeStart {
		return nil, fmt.Errorf("expected %q message, got %q", TypeStart, mt.Type)
	}
	var msg Start
	if err := json.Unmarshal(buf, &msg); err != nil {
		return nil, fmt.Errorf("decode start: %w", err)
	}
	c.fragment = msg.Fragment

	ctrl := session.New(b.Config, session.Deps{
		Store:   b.Store,
		Locator: c,
		Clock:   b.Clock,
		Log:     c.log,
		Merge:   b.Merge,
		Editor:  c,
	})
	ctrl.OnModeChanged(func(mode string) { c.enqueue(Mode{Type: TypeMode, Mode: mode}) })
	ctrl.OnKilling(func() { c.enqueue(Status{Type: TypeKilling}) })
	ctrl.OnKilled(func() { c.enqueue(Status{Type: TypeKilled}) })
	if err := ctrl.Start(r.Context(), msg.Fragment); err != nil {
		ctrl.Close()
		return nil, err
	}
	st := ctrl.State()
	c.enqueue(Joined{Type: TypeJoined, Room: st.Room, Role: st.Role.String(), Mode: st.Mode})
	return ctrl, nil
}

type client struct {
	ws  *websocket.Conn
	id  string
	log zerolog.Logger

	mu       sync.Mutex
	closed   bool
	fragment string
	send     chan []byte
	edits    chan []byte
}

func (c *client) readPump(ctrl *session.Controller) {
	for {
		_, buf, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) || (ce.Code != websocket.CloseNormalClosure && ce.Code != websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("client disconnected")
			}
			return
		}
		var mt MsgType
		if err := json.Unmarshal(buf, &mt); err != nil {
			c.enqueue(Error{Type: TypeError, Message: "malformed message"})
			continue
		}
		switch mt.Type {
		case TypeMode:
			var msg Mode
			if err := json.Unmarshal(buf, &msg); err != nil {
				c.enqueue(Error{Type: TypeError, Message: "malformed mode message"})
				continue
			}
			ctrl.ChangeMode(msg.Mode)
		case TypeKill:
			ctrl.RequestKill()
		case TypeOp:
			var msg Edit
			if err := json.Unmarshal(buf, &msg); err != nil {
				c.enqueue(Error{Type: TypeError, Message: "malformed op message"})
				continue
			}
			c.edit(msg.Op)
		case TypeBeforeUnload:
			text, warn := ctrl.UnloadWarning()
			c.enqueue(UnloadWarning{Type: TypeUnloadWarning, Warn: warn, Message: text})
		default:
			c.enqueue(Error{Type: TypeError, Message: fmt.Sprintf("unknown message type %q", mt.Type)})
		}
	}
}

// edit stamps the op with this client's id so its echo can be dropped.
func (c *client) edit(raw json.RawMessage) {
	op, err := DecodeOp(raw)
	if err != nil {
		c.enqueue(Error{Type: TypeError, Message: err.Error()})
		return
	}
	op.ClientID = c.id
	buf, err := json.Marshal(op)
	if err != nil {
		c.log.Warn().Err(err).Msg("encode op")
		return
	}
	select {
	case c.edits <- buf:
	default:
		c.log.Warn().Msg("edit queue full, dropping edit")
	}
}

func (c *client) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.log.Debug().Err(err).Msg("write to client failed")
			// Keep draining so enqueue never blocks on a dead client.
			for range c.send {
			}
			return
		}
	}
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *client) enqueue(v any) {
	buf, err := json.Marshal(v)
	if err != nil {
		c.log.Warn().Err(err).Msg("encode message")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- buf:
	default:
		c.log.Warn().Msg("client too slow, dropping message")
	}
}

func (c *client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Fragment and SetFragment make the tab's location fragment the locator.
func (c *client) Fragment() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fragment, nil
}

func (c *client) SetFragment(fragment string) error {
	c.mu.Lock()
	c.fragment = fragment
	c.mu.Unlock()
	c.enqueue(Locator{Type: TypeLocator, Fragment: fragment})
	return nil
}

// Edits and Apply make the tab the editor handed to the merge engine.
func (c *client) Edits() <-chan []byte {
	return c.edits
}

func (c *client) Apply(raw []byte) error {
	op, err := DecodeOp(raw)
	if err != nil {
		return err
	}
	if op.ClientID == c.id {
		return nil
	}
	c.enqueue(Edit{Type: TypeOp, Op: raw})
	return nil
}
