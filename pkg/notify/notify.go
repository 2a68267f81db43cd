// Package notify parses the engine's notification stream into typed
// events. Every notification is a message string plus a JSON detail
// payload; the message encodes both the subject (its prefix) and the phase
// (its suffix).
package notify

import (
	"encoding/json"
	"strings"
)

// Phase is the lifecycle stage a notification reports.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseStarting
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message prefixes and full message constants emitted by the engine.
const (
	PrefixResourceLoading     = "Resource.Loading"
	PrefixControllerAction    = "Controller.Action"
	PrefixTaskerTask          = "Tasker.Task"
	PrefixNodePipelineNode    = "Node.PipelineNode"
	PrefixNodeRecognition     = "Node.Recognition"
	PrefixNodeAction          = "Node.Action"
	PrefixNodeNextList        = "Node.NextList"
	PrefixNodeRecognitionNode = "Node.RecognitionNode"
	PrefixNodeActionNode      = "Node.ActionNode"

	SuffixStarting  = ".Starting"
	SuffixSucceeded = ".Succeeded"
	SuffixFailed    = ".Failed"
)

// Classify returns the phase a message's suffix encodes.
func Classify(msg string) Phase {
	switch {
	case strings.HasSuffix(msg, SuffixStarting):
		return PhaseStarting
	case strings.HasSuffix(msg, SuffixSucceeded):
		return PhaseSucceeded
	case strings.HasSuffix(msg, SuffixFailed):
		return PhaseFailed
	default:
		return PhaseUnknown
	}
}

// Event is a parsed notification. Concrete types carry the decoded detail
// payload for their message family.
type Event interface {
	// Message returns the raw message string of the notification.
	Message() string
	// Phase returns the lifecycle stage encoded in the message suffix.
	Phase() Phase
}

type base struct {
	Msg string
}

func (b base) Message() string { return b.Msg }
func (b base) Phase() Phase    { return Classify(b.Msg) }

// ResourceLoadingDetail is the payload of Resource.Loading.* messages.
type ResourceLoadingDetail struct {
	ResID int64  `json:"res_id"`
	Hash  string `json:"hash"`
	Path  string `json:"path"`
}

// ResourceLoading reports resource bundle load progress.
type ResourceLoading struct {
	base
	Detail ResourceLoadingDetail
}

// ControllerActionDetail is the payload of Controller.Action.* messages.
type ControllerActionDetail struct {
	CtrlID int64           `json:"ctrl_id"`
	UUID   string          `json:"uuid"`
	Action string          `json:"action"`
	Param  json.RawMessage `json:"param"`
}

// ControllerAction reports a low-level controller operation.
type ControllerAction struct {
	base
	Detail ControllerActionDetail
}

// TaskerTaskDetail is the payload of Tasker.Task.* messages.
type TaskerTaskDetail struct {
	TaskID int64  `json:"task_id"`
	Entry  string `json:"entry"`
	UUID   string `json:"uuid"`
	Hash   string `json:"hash"`
}

// TaskerTask reports whole-task lifecycle transitions.
type TaskerTask struct {
	base
	Detail TaskerTaskDetail
}

// NextItem is one candidate in a next-list evaluation payload.
type NextItem struct {
	Name     string `json:"name"`
	JumpBack bool   `json:"jump_back,omitempty"`
	Anchor   bool   `json:"anchor,omitempty"`
}

// NodeNextListDetail is the payload of Node.NextList.* messages.
type NodeNextListDetail struct {
	TaskID int64           `json:"task_id"`
	Name   string          `json:"name"`
	List   []NextItem      `json:"list"`
	Focus  json.RawMessage `json:"focus,omitempty"`
}

// NodeNextList reports a round of next-list candidate evaluation.
type NodeNextList struct {
	base
	Detail NodeNextListDetail
}

// NodeRecognitionDetail is the payload of Node.Recognition.* and
// Node.RecognitionNode.* messages.
type NodeRecognitionDetail struct {
	TaskID int64           `json:"task_id"`
	RecoID int64           `json:"reco_id"`
	Name   string          `json:"name"`
	Focus  json.RawMessage `json:"focus,omitempty"`
}

// NodeRecognition reports one recognition evaluation of a focused node.
type NodeRecognition struct {
	base
	Detail NodeRecognitionDetail
}

// NodeRecognitionNode is the per-candidate trace variant of
// NodeRecognition, emitted for every candidate regardless of focus.
type NodeRecognitionNode struct {
	base
	Detail NodeRecognitionDetail
}

// NodeActionDetail is the payload of Node.Action.* and Node.ActionNode.*
// messages.
type NodeActionDetail struct {
	TaskID   int64           `json:"task_id"`
	ActionID int64           `json:"action_id"`
	Name     string          `json:"name"`
	Focus    json.RawMessage `json:"focus,omitempty"`
}

// NodeAction reports one action execution of a focused node.
type NodeAction struct {
	base
	Detail NodeActionDetail
}

// NodeActionNode is the trace variant of NodeAction.
type NodeActionNode struct {
	base
	Detail NodeActionDetail
}

// NodePipelineNodeDetail is the payload of Node.PipelineNode.* messages.
type NodePipelineNodeDetail struct {
	TaskID int64           `json:"task_id"`
	NodeID int64           `json:"node_id"`
	Name   string          `json:"name"`
	Focus  json.RawMessage `json:"focus,omitempty"`
}

// NodePipelineNode reports full execution of one pipeline node.
type NodePipelineNode struct {
	base
	Detail NodePipelineNodeDetail
}

// Unknown carries a notification whose message family is unrecognized or
// whose detail payload failed to decode. The raw payload is always
// preserved.
type Unknown struct {
	base
	RawDetail json.RawMessage
	Err       error
}

// Parse decodes a notification into a typed event. It never fails: a
// message outside the known families, or a detail that does not decode,
// yields an Unknown event carrying the raw payload.
func Parse(msg string, detail []byte) Event {
	raw := json.RawMessage(detail)
	unknown := func(err error) Event {
		return Unknown{base: base{Msg: msg}, RawDetail: raw, Err: err}
	}

	switch {
	case strings.HasPrefix(msg, PrefixResourceLoading):
		var d ResourceLoadingDetail
		if err := json.Unmarshal(detail, &d); err != nil {
			return unknown(err)
		}
		return ResourceLoading{base: base{Msg: msg}, Detail: d}
	case strings.HasPrefix(msg, PrefixControllerAction):
		var d ControllerActionDetail
		if err := json.Unmarshal(detail, &d); err != nil {
			return unknown(err)
		}
		return ControllerAction{base: base{Msg: msg}, Detail: d}
	case strings.HasPrefix(msg, PrefixTaskerTask):
		var d TaskerTaskDetail
		if err := json.Unmarshal(detail, &d); err != nil {
			return unknown(err)
		}
		return TaskerTask{base: base{Msg: msg}, Detail: d}
	case strings.HasPrefix(msg, PrefixNodePipelineNode):
		var d NodePipelineNodeDetail
		if err := json.Unmarshal(detail, &d); err != nil {
			return unknown(err)
		}
		return NodePipelineNode{base: base{Msg: msg}, Detail: d}
	case strings.HasPrefix(msg, PrefixNodeRecognitionNode):
		var d NodeRecognitionDetail
		if err := json.Unmarshal(detail, &d); err != nil {
			return unknown(err)
		}
		return NodeRecognitionNode{base: base{Msg: msg}, Detail: d}
	case strings.HasPrefix(msg, PrefixNodeRecognition):
		var d NodeRecognitionDetail
		if err := json.Unmarshal(detail, &d); err != nil {
			return unknown(err)
		}
		return NodeRecognition{base: base{Msg: msg}, Detail: d}
	case strings.HasPrefix(msg, PrefixNodeActionNode):
		var d NodeActionDetail
		if err := json.Unmarshal(detail, &d); err != nil {
			return unknown(err)
		}
		return NodeActionNode{base: base{Msg: msg}, Detail: d}
	case strings.HasPrefix(msg, PrefixNodeAction):
		var d NodeActionDetail
		if err := json.Unmarshal(detail, &d); err != nil {
			return unknown(err)
		}
		return NodeAction{base: base{Msg: msg}, Detail: d}
	case strings.HasPrefix(msg, PrefixNodeNextList):
		var d NodeNextListDetail
		if err := json.Unmarshal(detail, &d); err != nil {
			return unknown(err)
		}
		return NodeNextList{base: base{Msg: msg}, Detail: d}
	default:
		return unknown(nil)
	}
}
