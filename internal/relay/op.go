package relay

import (
	"encoding/json"
	"fmt"
)

// Edit op actions. Raw actions come straight from an editor; crdt actions
// have already been positioned by a merge engine.
const (
	ActionRawInsert  = "raw_insert"
	ActionRawDelete  = "raw_delete"
	ActionCRDTInsert = "crdt_insert"
	ActionCRDTDelete = "crdt_delete"
)

// CharID is a globally unique identifier for a character, combining a
// logical clock and the ID of the peer that created it.
type CharID struct {
	Clock  int    `json:"clock"`
	PeerID string `json:"peerID"`
}

// Char is one character of the shared sequence with its sortable position.
type Char struct {
	ID       CharID `json:"id"`
	Value    string `json:"value"`
	Position []int  `json:"position"`
}

// Op is one edit as relayed between peers. The relay only checks its
// shape; applying it belongs to the merge engine on each end.
type Op struct {
	Action   string `json:"action"`
	Char     Char   `json:"char"`
	Index    int    `json:"index"`    // raw ops only
	ClientID string `json:"clientID"` // origin tab, used to drop echoes
}

func DecodeOp(raw []byte) (Op, error) {
	var op Op
	if err := json.Unmarshal(raw, &op); err != nil {
		return Op{}, fmt.Errorf("decode op: %w", err)
	}
	if err := op.Validate(); err != nil {
		return Op{}, err
	}
	return op, nil
}

func (op Op) Validate() error {
	switch op.Action {
	case ActionRawInsert:
		if op.Char.Value == "" {
			return fmt.Errorf("%s without a value", op.Action)
		}
		if op.Index < 0 {
			return fmt.Errorf("%s at negative index %d", op.Action, op.Index)
		}
	case ActionRawDelete:
		if op.Index < 0 {
			return fmt.Errorf("%s at negative index %d", op.Action, op.Index)
		}
	case ActionCRDTInsert, ActionCRDTDelete:
		if op.Char.ID.PeerID == "" {
			return fmt.Errorf("%s without a peer id", op.Action)
		}
		if len(op.Char.Position) == 0 {
			return fmt.Errorf("%s without a position", op.Action)
		}
	default:
		return fmt.Errorf("unknown op action %q", op.Action)
	}
	return nil
}
