package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Bracket prefixes recognized in the textual shorthand for next-list entries.
const (
	jumpBackPrefix = "[JumpBack]"
	anchorPrefix   = "[Anchor]"
)

// NodeAttr is a flow-control reference to another node, optionally tagged
// "jump back after" or "is an anchor". It appears in a node's next and
// on_error lists.
//
// Two textual shorthands exist at the wire boundary: a bare name is a plain
// reference, and a bracket-prefixed name ("[JumpBack]Name", "[Anchor]Name")
// sets the corresponding flag. The object form sets fields directly.
type NodeAttr struct {
	Name     string `json:"name"`
	JumpBack bool   `json:"jump_back"`
	Anchor   bool   `json:"anchor"`
}

// ParseNodeAttr decodes the textual shorthand into a NodeAttr.
func ParseNodeAttr(s string) NodeAttr {
	if name, ok := strings.CutPrefix(s, jumpBackPrefix); ok {
		return NodeAttr{Name: name, JumpBack: true}
	}
	if name, ok := strings.CutPrefix(s, anchorPrefix); ok {
		return NodeAttr{Name: name, Anchor: true}
	}
	return NodeAttr{Name: s}
}

// String renders the attribute back into its shorthand form.
func (a NodeAttr) String() string {
	switch {
	case a.JumpBack:
		return jumpBackPrefix + a.Name
	case a.Anchor:
		return anchorPrefix + a.Name
	default:
		return a.Name
	}
}

func (a *NodeAttr) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = ParseNodeAttr(s)
		return nil
	}
	type alias NodeAttr
	var obj alias
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("node attribute: expected name or object: %w", err)
	}
	*a = NodeAttr(obj)
	return nil
}

// ParseNextList decodes a wire-format next list: an array mixing bare names,
// bracket-tagged names and attribute objects.
func ParseNextList(data []byte) ([]NodeAttr, error) {
	var attrs []NodeAttr
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("next list: %w", err)
	}
	return attrs, nil
}
