// Package detail reconstructs navigable result trees from an engine that
// only exposes flat, ID-indexed detail queries. Every entity here is a
// read-only snapshot built fresh per hydration call; none holds a reference
// back to the live node table.
package detail

import (
	"encoding/json"

	"github.com/kestrelauto/kestrel/pkg/job"
	"github.com/kestrelauto/kestrel/pkg/pipeline"
)

// TaskDetail is the hydrated result of one posted task: the entry node, the
// ordered node identifiers the engine executed, and the hydrated node
// details in the same order. A node that never executed — or whose detail
// the engine no longer retains — appears as a nil slot, never as a missing
// one.
type TaskDetail struct {
	Entry   string
	NodeIDs []int64
	Status  job.Status
	Nodes   []*NodeDetail
}

// NodeDetail is the hydrated result of one executed pipeline node. The
// recognition and action details are optional: a node that misses its
// recognition never attempts an action.
type NodeDetail struct {
	NodeName  string
	RecoID    int64
	ActionID  int64
	Completed bool

	Recognition *RecognitionDetail
	Action      *ActionDetail
}

// RecognitionDetail is the hydrated result of one recognition evaluation.
// For composite (And/Or) algorithms, SubDetails carries one entry per
// constituent actually evaluated.
type RecognitionDetail struct {
	NodeName   string
	Algorithm  pipeline.RecognitionType
	Hit        bool
	Box        pipeline.Rect
	Detail     json.RawMessage
	RawImage   []byte
	DrawImages [][]byte
	SubDetails []*RecognitionDetail
}

// ActionDetail is the hydrated result of one action execution.
type ActionDetail struct {
	NodeName string
	Action   pipeline.ActionType
	Box      pipeline.Rect
	Success  bool
	Detail   json.RawMessage
}

// NodeQuery is the flat answer to a node detail query.
type NodeQuery struct {
	NodeName  string
	RecoID    int64
	ActionID  int64
	Completed bool
}

// RecognitionQuery is the flat answer to a recognition detail query.
type RecognitionQuery struct {
	NodeName   string
	Algorithm  pipeline.RecognitionType
	Hit        bool
	Box        pipeline.Rect
	Detail     json.RawMessage
	RawImage   []byte
	DrawImages [][]byte
}

// ActionQuery is the flat answer to an action detail query.
type ActionQuery struct {
	NodeName string
	Action   pipeline.ActionType
	Box      pipeline.Rect
	Success  bool
	Detail   json.RawMessage
}

// Source is the flat, ID-indexed query surface an engine exposes. All
// methods report ok=false when the engine does not retain the identifier.
//
// QueryTaskDetail follows the two-phase buffer protocol: called with a nil
// buffer it reports the required node-id count; called again with a buffer
// of that size it fills it. The entry name and status are reported on both
// calls.
type Source interface {
	QueryTaskDetail(id int64, nodeIDs []int64) (entry string, size int, status job.Status, ok bool)
	QueryNodeDetail(id int64) (NodeQuery, bool)
	QueryRecognitionDetail(id int64) (RecognitionQuery, bool)
	QueryActionDetail(id int64) (ActionQuery, bool)
}
