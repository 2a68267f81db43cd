// Package custom hosts user-supplied recognition and action callbacks. The
// engine calls into registered implementations by name; a panic inside a
// callback is contained at the boundary and reported as a miss or failure
// rather than crashing the worker.
package custom

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/kestrelauto/kestrel/pkg/pipeline"
)

// RecognitionArg carries the inputs to a custom recognition callback.
type RecognitionArg struct {
	TaskID   int64
	RecoID   int64
	NodeName string
	Name     string
	Param    json.RawMessage
	ROI      pipeline.Rect
	Image    []byte
}

// RecognitionResult is what a custom recognition reports on a hit.
type RecognitionResult struct {
	Box    pipeline.Rect
	Detail json.RawMessage
}

// Recognizer is a user-supplied recognition. Analyze reports the hit box
// and an arbitrary detail payload; the second return is false on a miss.
// The context is canceled when the owning task is stopped.
type Recognizer interface {
	Analyze(ctx context.Context, arg RecognitionArg) (RecognitionResult, bool)
}

// ActionArg carries the inputs to a custom action callback.
type ActionArg struct {
	TaskID     int64
	NodeID     int64
	NodeName   string
	Name       string
	Param      json.RawMessage
	Box        pipeline.Rect
	RecoDetail json.RawMessage
}

// Actor is a user-supplied action. Run reports success. The context is
// canceled when the owning task is stopped.
type Actor interface {
	Run(ctx context.Context, arg ActionArg) bool
}

// RecognizerFunc adapts a function to the Recognizer interface.
type RecognizerFunc func(ctx context.Context, arg RecognitionArg) (RecognitionResult, bool)

func (f RecognizerFunc) Analyze(ctx context.Context, arg RecognitionArg) (RecognitionResult, bool) {
	return f(ctx, arg)
}

// ActorFunc adapts a function to the Actor interface.
type ActorFunc func(ctx context.Context, arg ActionArg) bool

func (f ActorFunc) Run(ctx context.Context, arg ActionArg) bool { return f(ctx, arg) }

// Registry is a named collection of custom recognitions and actions.
// Registration under an existing name replaces the previous entry.
type Registry struct {
	log *slog.Logger

	mu          sync.RWMutex
	recognizers map[string]Recognizer
	actors      map[string]Actor
}

// NewRegistry returns an empty registry. A nil logger means silent.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		log:         log,
		recognizers: make(map[string]Recognizer),
		actors:      make(map[string]Actor),
	}
}

// RegisterRecognizer installs a recognition under a name.
func (r *Registry) RegisterRecognizer(name string, rec Recognizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers[name] = rec
}

// RegisterActor installs an action under a name.
func (r *Registry) RegisterActor(name string, act Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actors[name] = act
}

// UnregisterRecognizer removes a named recognition.
func (r *Registry) UnregisterRecognizer(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.recognizers, name)
}

// UnregisterActor removes a named action.
func (r *Registry) UnregisterActor(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.actors, name)
}

// Clear removes every registered recognition and action.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers = make(map[string]Recognizer)
	r.actors = make(map[string]Actor)
}

// Analyze runs the named recognition. An unregistered name, or a panic in
// the callback, is a miss.
func (r *Registry) Analyze(ctx context.Context, arg RecognitionArg) (res RecognitionResult, hit bool) {
	r.mu.RLock()
	rec, ok := r.recognizers[arg.Name]
	r.mu.RUnlock()
	if !ok {
		r.log.Warn("custom recognition not registered", "name", arg.Name, "node", arg.NodeName)
		return RecognitionResult{}, false
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("custom recognition panicked", "name", arg.Name, "node", arg.NodeName, "panic", p)
			res, hit = RecognitionResult{}, false
		}
	}()
	return rec.Analyze(ctx, arg)
}

// Run runs the named action. An unregistered name, or a panic in the
// callback, is a failure.
func (r *Registry) Run(ctx context.Context, arg ActionArg) (ok bool) {
	r.mu.RLock()
	act, found := r.actors[arg.Name]
	r.mu.RUnlock()
	if !found {
		r.log.Warn("custom action not registered", "name", arg.Name, "node", arg.NodeName)
		return false
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("custom action panicked", "name", arg.Name, "node", arg.NodeName, "panic", p)
			ok = false
		}
	}()
	return act.Run(ctx, arg)
}
