package pipeline

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/mitchellh/mapstructure"
)

// Node is one unit of the pipeline graph: a recognition test, an action to
// perform where the recognition hit, flow control to the following nodes,
// and timing policy. A node's identity is its name in the table that owns
// it; the model itself never stores the name.
type Node struct {
	Recognition Recognition `json:"recognition"`
	Action      Action      `json:"action"`
	Next        []NodeAttr  `json:"next"`
	OnError     []NodeAttr  `json:"on_error"`
	RateLimit   int32       `json:"rate_limit"`
	Timeout     int32       `json:"timeout"`
	Anchor      []string    `json:"anchor"`
	Inverse     bool        `json:"inverse"`
	Enabled     bool        `json:"enabled"`
	PreDelay    int32       `json:"pre_delay"`
	PostDelay   int32       `json:"post_delay"`
	Repeat      int32       `json:"repeat"`
	RepeatDelay int32       `json:"repeat_delay"`
	MaxHit      uint32      `json:"max_hit"`

	PreWaitFreezes    *WaitFreezes `json:"pre_wait_freezes,omitempty"`
	PostWaitFreezes   *WaitFreezes `json:"post_wait_freezes,omitempty"`
	RepeatWaitFreezes *WaitFreezes `json:"repeat_wait_freezes,omitempty"`

	Focus  any `json:"focus,omitempty"`
	Attach any `json:"attach,omitempty"`
}

// DefaultNode returns a node with every field at its documented default:
// a DirectHit recognition, a DoNothing action, and the standard timing
// policy.
func DefaultNode() Node {
	reco, _ := NewRecognition(RecognitionDirectHit)
	act, _ := NewAction(ActionDoNothing)
	return Node{
		Recognition: reco,
		Action:      act,
		RateLimit:   1000,
		Timeout:     20000,
		Enabled:     true,
		PreDelay:    200,
		PostDelay:   200,
		Repeat:      1,
		MaxHit:      math.MaxUint32,
	}
}

// UnmarshalJSON decodes a full node definition. Omitted fields take their
// defaults, so a freshly parsed node always round-trips to the same wire
// value the defaults would have produced.
func (n *Node) UnmarshalJSON(data []byte) error {
	type alias Node
	a := alias(DefaultNode())
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*n = Node(a)
	return nil
}

// Clone returns a deep copy of the node. All node state is
// wire-serializable, so the copy goes through the codec.
func (n *Node) Clone() (*Node, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("clone node: %w", err)
	}
	var out Node
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone node: %w", err)
	}
	return &out, nil
}

// DecodeAttach decodes the opaque attach payload into out, matching fields
// by their json tags.
func (n *Node) DecodeAttach(out any) error {
	return decodeOpaque(n.Attach, out)
}

// DecodeFocus decodes the opaque focus payload into out.
func (n *Node) DecodeFocus(out any) error {
	return decodeOpaque(n.Focus, out)
}

func decodeOpaque(in, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
