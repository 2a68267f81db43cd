package detail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ErrCycle reports a recognition whose composite sub-details reference one
// of their own ancestors.
var ErrCycle = errors.New("recognition detail cycle")

const defaultConcurrency = 8

// Hydrator turns flat ID-indexed queries into fully expanded detail trees.
// The zero concurrency means the default bound.
type Hydrator struct {
	src         Source
	concurrency int
}

// HydratorOption configures a Hydrator.
type HydratorOption func(*Hydrator)

// WithConcurrency bounds how many node details one task hydration fetches
// in parallel.
func WithConcurrency(n int) HydratorOption {
	return func(h *Hydrator) { h.concurrency = n }
}

// NewHydrator builds a hydrator over an engine's flat query surface.
func NewHydrator(src Source, opts ...HydratorOption) *Hydrator {
	h := &Hydrator{src: src, concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Task hydrates the full detail tree of a task. The returned detail has one
// node slot per executed node id, in execution order; a node whose detail
// the engine no longer retains hydrates to a nil slot rather than failing
// the whole task. A (nil, nil) return means the task id itself is unknown.
func (h *Hydrator) Task(ctx context.Context, id int64) (*TaskDetail, error) {
	entry, size, status, ok := h.src.QueryTaskDetail(id, nil)
	if !ok {
		return nil, nil
	}

	ids := make([]int64, size)
	if size > 0 {
		entry, size, status, ok = h.src.QueryTaskDetail(id, ids)
		if !ok {
			return nil, nil
		}
		ids = ids[:size]
	}

	out := &TaskDetail{
		Entry:   entry,
		NodeIDs: ids,
		Status:  status,
		Nodes:   make([]*NodeDetail, len(ids)),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for i, nodeID := range ids {
		i, nodeID := i, nodeID
		g.Go(func() error {
			node, err := h.Node(ctx, nodeID)
			if err != nil {
				return fmt.Errorf("node %d: %w", nodeID, err)
			}
			out.Nodes[i] = node
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Node hydrates one executed node, including its recognition and action
// details when the engine retains them. A (nil, nil) return means the node
// id is unknown.
func (h *Hydrator) Node(ctx context.Context, id int64) (*NodeDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, ok := h.src.QueryNodeDetail(id)
	if !ok {
		return nil, nil
	}
	out := &NodeDetail{
		NodeName:  q.NodeName,
		RecoID:    q.RecoID,
		ActionID:  q.ActionID,
		Completed: q.Completed,
	}
	if q.RecoID != 0 {
		reco, err := h.Recognition(ctx, q.RecoID)
		if err != nil {
			return nil, err
		}
		out.Recognition = reco
	}
	if q.ActionID != 0 {
		act, ok := h.Action(q.ActionID)
		if ok {
			out.Action = act
		}
	}
	return out, nil
}

// Recognition hydrates one recognition evaluation. Composite algorithms
// are expanded recursively: each sub-detail entry naming a reco_id is
// hydrated in turn, and entries the engine no longer retains are skipped. A
// (nil, nil) return means the recognition id is unknown.
func (h *Hydrator) Recognition(ctx context.Context, id int64) (*RecognitionDetail, error) {
	return h.recognition(ctx, id, map[int64]struct{}{})
}

func (h *Hydrator) recognition(ctx context.Context, id int64, ancestors map[int64]struct{}) (*RecognitionDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, seen := ancestors[id]; seen {
		return nil, fmt.Errorf("%w: recognition %d references itself", ErrCycle, id)
	}

	q, ok := h.src.QueryRecognitionDetail(id)
	if !ok {
		return nil, nil
	}
	out := &RecognitionDetail{
		NodeName:   q.NodeName,
		Algorithm:  q.Algorithm,
		Hit:        q.Hit,
		Box:        q.Box,
		Detail:     q.Detail,
		RawImage:   q.RawImage,
		DrawImages: q.DrawImages,
	}
	if !q.Algorithm.Composite() || len(q.Detail) == 0 {
		return out, nil
	}

	var subs []struct {
		RecoID int64 `json:"reco_id"`
	}
	if err := json.Unmarshal(q.Detail, &subs); err != nil {
		// Detail payloads of composite recognitions are engine-produced;
		// anything else is passed through untouched.
		return out, nil
	}

	ancestors[id] = struct{}{}
	defer delete(ancestors, id)
	for _, sub := range subs {
		child, err := h.recognition(ctx, sub.RecoID, ancestors)
		if err != nil {
			return nil, err
		}
		if child == nil {
			continue
		}
		out.SubDetails = append(out.SubDetails, child)
	}
	return out, nil
}

// Action hydrates one action execution. The second return is false when the
// action id is unknown.
func (h *Hydrator) Action(id int64) (*ActionDetail, bool) {
	q, ok := h.src.QueryActionDetail(id)
	if !ok {
		return nil, false
	}
	return &ActionDetail{
		NodeName: q.NodeName,
		Action:   q.Action,
		Box:      q.Box,
		Success:  q.Success,
		Detail:   q.Detail,
	}, true
}
