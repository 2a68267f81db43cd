package pipeline

import (
	"encoding/json"
	"fmt"
)

// Document is a parsed override payload: a JSON object keyed by node name,
// each value a partial node definition.
type Document map[string]json.RawMessage

// ParseDocument decodes an override payload without applying it.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("override document: %w", err)
	}
	return doc, nil
}

// Merge produces the node that results from applying a partial patch to an
// existing definition. Any top-level field present in the patch replaces the
// corresponding field of existing; fields absent from the patch are
// inherited unchanged. When existing is nil the patch is applied over the
// type defaults.
//
// Recognition and action patches keep the current discriminant unless the
// patch names a new one. Under an unchanged discriminant, parameter fields
// not restated in the patch are preserved — including the sub-lists of
// composite (And/Or) recognitions. A changed discriminant starts from that
// variant's own defaults, with its required fields demanded from the patch.
//
// Merge never partially applies: on any structural error the existing node
// is untouched and no result is returned.
func Merge(existing *Node, patch json.RawMessage) (*Node, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(patch, &raw); err != nil {
		return nil, fmt.Errorf("node patch: %w", err)
	}

	var base *Node
	if existing != nil {
		clone, err := existing.Clone()
		if err != nil {
			return nil, err
		}
		base = clone
	} else {
		def := DefaultNode()
		base = &def
	}

	recoPatch, hasReco := raw["recognition"]
	actPatch, hasAct := raw["action"]
	delete(raw, "recognition")
	delete(raw, "action")

	// Plain fields first: top-level replace semantics match a direct decode
	// over the clone.
	rest, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	type alias Node
	if err := json.Unmarshal(rest, (*alias)(base)); err != nil {
		return nil, fmt.Errorf("node patch: %w", err)
	}

	if hasReco {
		var prev *Recognition
		if existing != nil {
			prev = &existing.Recognition
		}
		merged, err := mergeRecognition(prev, recoPatch)
		if err != nil {
			return nil, err
		}
		base.Recognition = merged
	}
	if hasAct {
		var prev *Action
		if existing != nil {
			prev = &existing.Action
		}
		merged, err := mergeAction(prev, actPatch)
		if err != nil {
			return nil, err
		}
		base.Action = merged
	}
	return base, nil
}

func mergeRecognition(prev *Recognition, patch json.RawMessage) (Recognition, error) {
	var name string
	if err := json.Unmarshal(patch, &name); err == nil {
		// Bare discriminant: the variant's own defaults, no inheritance.
		return newRecognition(RecognitionType(name), nil)
	}

	var obj struct {
		Type  RecognitionType `json:"type"`
		Param json.RawMessage `json:"param"`
	}
	if err := json.Unmarshal(patch, &obj); err != nil {
		return Recognition{}, fmt.Errorf("recognition patch: %w", err)
	}

	t := obj.Type
	if t == "" {
		if prev != nil {
			t = prev.Type
		} else {
			t = RecognitionDirectHit
		}
	}

	if prev == nil || t != prev.Type {
		return newRecognition(t, obj.Param)
	}

	// Same discriminant: overlay the patched fields onto the previous
	// parameters, field by field.
	merged, err := overlayParam(prev.Param, obj.Param)
	if err != nil {
		return Recognition{}, fmt.Errorf("recognition %q: %w", t, err)
	}
	return newRecognition(t, merged)
}

func mergeAction(prev *Action, patch json.RawMessage) (Action, error) {
	var name string
	if err := json.Unmarshal(patch, &name); err == nil {
		return newAction(ActionType(name), nil)
	}

	var obj struct {
		Type  ActionType      `json:"type"`
		Param json.RawMessage `json:"param"`
	}
	if err := json.Unmarshal(patch, &obj); err != nil {
		return Action{}, fmt.Errorf("action patch: %w", err)
	}

	t := obj.Type
	if t == "" {
		if prev != nil {
			t = prev.Type
		} else {
			t = ActionDoNothing
		}
	}

	if prev == nil || t != prev.Type {
		return newAction(t, obj.Param)
	}

	merged, err := overlayParam(prev.Param, obj.Param)
	if err != nil {
		return Action{}, fmt.Errorf("action %q: %w", t, err)
	}
	return newAction(t, merged)
}

// overlayParam serializes the previous parameters — which carry every field
// explicitly — and overwrites the keys the patch restates. The result decodes
// over the variant defaults to reproduce the previous state plus the patch.
func overlayParam(prev any, patch json.RawMessage) (json.RawMessage, error) {
	full, err := json.Marshal(prev)
	if err != nil {
		return nil, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(full, &merged); err != nil {
		return nil, err
	}
	if patch != nil {
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(patch, &keys); err != nil {
			return nil, fmt.Errorf("expected parameter object: %w", err)
		}
		for k, v := range keys {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}
