package chat

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ParentMode discriminates how a node resolves its parent.
type ParentMode int

const (
	// ParentModeAuto resolves to the root for an empty topic, otherwise to a
	// child of the topic's active node.
	ParentModeAuto ParentMode = iota
	// ParentModeRoot requests the topic's root slot explicitly.
	ParentModeRoot
	// ParentModeNode names an existing node as the parent.
	ParentModeNode
)

func (m ParentMode) String() string {
	switch m {
	case ParentModeAuto:
		return "auto"
	case ParentModeRoot:
		return "root"
	case ParentModeNode:
		return "node"
	default:
		return fmt.Sprintf("parent_mode(%d)", int(m))
	}
}

// ParentRef is a tagged parent reference. Build it with the constructors;
// the zero value is the auto variant.
type ParentRef struct {
	Mode   ParentMode
	NodeID uuid.UUID
}

func ParentAuto() ParentRef { return ParentRef{Mode: ParentModeAuto} }

func ParentRoot() ParentRef { return ParentRef{Mode: ParentModeRoot} }

func ParentNode(id uuid.UUID) ParentRef { return ParentRef{Mode: ParentModeNode, NodeID: id} }

// ParentField decodes the wire form of parent_id, which is a tri-state:
// key absent, explicit null, or a node id. Gin's JSON binding cannot see key
// presence through a plain *uuid.UUID, so handlers bind into this instead.
type ParentField struct {
	Set  bool
	Null bool
	ID   uuid.UUID
}

func (f *ParentField) UnmarshalJSON(raw []byte) error {
	f.Set = true
	if string(raw) == "null" {
		f.Null = true
		return nil
	}
	var id uuid.UUID
	if err := json.Unmarshal(raw, &id); err != nil {
		return fmt.Errorf("parent_id: %w", err)
	}
	f.ID = id
	return nil
}

// Ref maps the wire tri-state onto a creation ParentRef: absent means auto,
// null means root, an id means that node.
func (f ParentField) Ref() ParentRef {
	switch {
	case !f.Set:
		return ParentAuto()
	case f.Null:
		return ParentRoot()
	default:
		return ParentNode(f.ID)
	}
}

// MoveRef maps the wire tri-state onto an update: absent leaves the parent
// untouched (nil), null asks for the root slot, an id asks for a move.
func (f ParentField) MoveRef() *ParentRef {
	switch {
	case !f.Set:
		return nil
	case f.Null:
		ref := ParentRoot()
		return &ref
	default:
		ref := ParentNode(f.ID)
		return &ref
	}
}
