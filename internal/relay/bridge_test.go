package relay

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/internal/session"
	"collabtext/internal/store"
)

type testServer struct {
	*httptest.Server
	store *store.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	hub := runHub(t)
	bridge := &Bridge{
		Store:  mem,
		Config: session.DefaultConfig(),
		Merge:  NewOpRelay(hub, zerolog.Nop()),
		Log:    zerolog.Nop(),
	}
	srv := httptest.NewServer(NewRouter(bridge, &OpsHandler{Bus: hub, Log: zerolog.Nop()}, ""))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: mem}
}

func (s *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

// await reads until a message of type typ arrives and returns it raw.
func await(t *testing.T, ws *websocket.Conn, typ string) []byte {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, buf, err := ws.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		var mt MsgType
		require.NoError(t, json.Unmarshal(buf, &mt))
		if mt.Type == typ {
			return buf
		}
	}
}

func decode[T any](t *testing.T, buf []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(buf, &v))
	return v
}

func TestBridgeSessionLifecycle(t *testing.T) {
	srv := newTestServer(t)

	creator := srv.dial(t, "/ws")
	send(t, creator, Start{Type: TypeStart})
	loc := decode[Locator](t, await(t, creator, TypeLocator))
	require.NotEmpty(t, loc.Fragment)
	joined := decode[Joined](t, await(t, creator, TypeJoined))
	assert.Equal(t, loc.Fragment, joined.Room)
	assert.Equal(t, "creator", joined.Role)
	assert.Equal(t, "scala", joined.Mode)

	joiner := srv.dial(t, "/ws")
	send(t, joiner, Start{Type: TypeStart, Fragment: loc.Fragment})
	joined = decode[Joined](t, await(t, joiner, TypeJoined))
	assert.Equal(t, "joiner", joined.Role)
	assert.Equal(t, loc.Fragment, joined.Room)

	send(t, creator, Mode{Type: TypeMode, Mode: "python"})
	mode := decode[Mode](t, await(t, joiner, TypeMode))
	assert.Equal(t, "python", mode.Mode)

	send(t, creator, BeforeUnload{Type: TypeBeforeUnload})
	warn := decode[UnloadWarning](t, await(t, creator, TypeUnloadWarning))
	assert.True(t, warn.Warn)
	send(t, joiner, BeforeUnload{Type: TypeBeforeUnload})
	warn = decode[UnloadWarning](t, await(t, joiner, TypeUnloadWarning))
	assert.False(t, warn.Warn)

	send(t, joiner, Kill{Type: TypeKill})
	await(t, joiner, TypeKilling)
	await(t, joiner, TypeKilled)
	await(t, creator, TypeKilled)

	h := srv.store.FromToken(loc.Fragment)
	require.Eventually(t, func() bool { return srv.store.Value(h) == nil }, 2*time.Second, 10*time.Millisecond)
}

func TestBridgeRelaysEditsWithoutEcho(t *testing.T) {
	srv := newTestServer(t)

	a := srv.dial(t, "/ws")
	send(t, a, Start{Type: TypeStart})
	room := decode[Joined](t, await(t, a, TypeJoined)).Room

	b := srv.dial(t, "/ws")
	send(t, b, Start{Type: TypeStart, Fragment: room})
	await(t, b, TypeJoined)

	op := json.RawMessage(`{"action":"raw_insert","char":{"value":"h"},"index":0}`)
	// The subscription is set up before joined is sent, so this edit
	// reaches b.
	send(t, a, Edit{Type: TypeOp, Op: op})
	got := decode[Edit](t, await(t, b, TypeOp))
	relayed, err := DecodeOp(got.Op)
	require.NoError(t, err)
	assert.Equal(t, "h", relayed.Char.Value)
	assert.NotEmpty(t, relayed.ClientID)

	// a's own edit is not echoed back: the next op a sees is b's.
	send(t, b, Edit{Type: TypeOp, Op: json.RawMessage(`{"action":"raw_delete","index":0}`)})
	got = decode[Edit](t, await(t, a, TypeOp))
	relayed, err = DecodeOp(got.Op)
	require.NoError(t, err)
	assert.Equal(t, ActionRawDelete, relayed.Action)
}

func TestBridgeRejectsBadInput(t *testing.T) {
	srv := newTestServer(t)

	ws := srv.dial(t, "/ws")
	send(t, ws, Mode{Type: TypeMode, Mode: "python"})
	msg := decode[Error](t, await(t, ws, TypeError))
	assert.Contains(t, msg.Message, "start")

	ws = srv.dial(t, "/ws")
	send(t, ws, Start{Type: TypeStart, Fragment: "abc123"})
	await(t, ws, TypeJoined)
	send(t, ws, Edit{Type: TypeOp, Op: json.RawMessage(`{"action":"shuffle"}`)})
	msg = decode[Error](t, await(t, ws, TypeError))
	assert.Contains(t, msg.Message, "shuffle")
	send(t, ws, MsgType{Type: "dance"})
	msg = decode[Error](t, await(t, ws, TypeError))
	assert.Contains(t, msg.Message, "dance")
}

func TestBridgeStoreUnavailable(t *testing.T) {
	srv := newTestServer(t)
	srv.store.SetOffline(assert.AnError)

	ws := srv.dial(t, "/ws")
	send(t, ws, Start{Type: TypeStart})
	msg := decode[Error](t, await(t, ws, TypeError))
	assert.Contains(t, msg.Message, "store unavailable")
}

func TestOpsHandlerRelaysToRoom(t *testing.T) {
	srv := newTestServer(t)

	a := srv.dial(t, "/rooms/doc-1/ops")
	b := srv.dial(t, "/rooms/doc-1/ops")
	other := srv.dial(t, "/rooms/doc-2/ops")

	// Subscriptions are registered asynchronously after the upgrade; keep
	// publishing until b sees one.
	op := []byte(`{"action":"raw_insert","char":{"value":"x"},"index":1}`)
	require.NoError(t, b.SetReadDeadline(time.Now().Add(3*time.Second)))
	received := make(chan []byte, 1)
	go func() {
		_, msg, err := b.ReadMessage()
		if err == nil {
			received <- msg
		}
	}()
	var got []byte
	require.Eventually(t, func() bool {
		_ = a.WriteMessage(websocket.TextMessage, op)
		select {
		case got = <-received:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
	assert.JSONEq(t, string(op), string(got))

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"action":"bogus"}`)))
	require.NoError(t, other.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := other.ReadMessage()
	require.Error(t, err, "doc-2 must not see doc-1 ops")
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}
