package relay

import "encoding/json"

// Websocket message types. Every message carries Type so the reader can
// decode it twice: once into MsgType, then into the concrete struct.
const (
	TypeStart         = "start"
	TypeMode          = "mode"
	TypeKill          = "kill"
	TypeOp            = "op"
	TypeBeforeUnload  = "beforeunload"
	TypeJoined        = "joined"
	TypeLocator       = "locator"
	TypeKilling       = "killing"
	TypeKilled        = "killed"
	TypeUnloadWarning = "unload_warning"
	TypeError         = "error"
)

type MsgType struct {
	Type string `json:"type"`
}

// Sent from client to server. Must be the first message on /ws.
type Start struct {
	Type     string `json:"type"`
	Fragment string `json:"fragment"`
}

// Sent in both directions: a local mode change in, an applied mode out.
type Mode struct {
	Type string `json:"type"`
	Mode string `json:"mode"`
}

// Sent from client to server; the reply is Killing then Killed.
type Kill struct {
	Type string `json:"type"`
}

// Sent in both directions.
type Edit struct {
	Type string          `json:"type"`
	Op   json.RawMessage `json:"op"`
}

// Sent from client to server before the tab unloads.
type BeforeUnload struct {
	Type string `json:"type"`
}

// Sent from server to client once the session is running.
type Joined struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Role string `json:"role"`
	Mode string `json:"mode"`
}

// Sent from server to client; an empty Fragment clears the location.
type Locator struct {
	Type     string `json:"type"`
	Fragment string `json:"fragment"`
}

// Killing and Killed carry nothing but their type.
type Status struct {
	Type string `json:"type"`
}

type UnloadWarning struct {
	Type    string `json:"type"`
	Warn    bool   `json:"warn"`
	Message string `json:"message,omitempty"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
