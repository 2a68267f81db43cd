package kestrel

import (
	"context"
	"log/slog"

	"github.com/kestrelauto/kestrel/internal/logging"
	"github.com/kestrelauto/kestrel/pkg/adapters/memory"
	"github.com/kestrelauto/kestrel/pkg/custom"
	"github.com/kestrelauto/kestrel/pkg/detail"
	"github.com/kestrelauto/kestrel/pkg/job"
	"github.com/kestrelauto/kestrel/pkg/notify"
	"github.com/kestrelauto/kestrel/pkg/pipeline"
	"github.com/kestrelauto/kestrel/pkg/ports"
)

// Tasker drives an engine: it posts work, tracks it through job handles
// and hydrates detail trees from the engine's flat queries.
type Tasker struct {
	engine   ports.Engine
	hydrator *detail.Hydrator
	logger   *slog.Logger
	ownedMem *memory.Engine

	memOpts []memory.Option
}

// Option defines a functional option for configuring the Tasker.
type Option func(*Tasker)

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tasker) { t.logger = logger }
}

// WithEngine injects a custom engine adapter, bypassing the default
// in-memory engine.
func WithEngine(e ports.Engine) Option {
	return func(t *Tasker) { t.engine = e }
}

// WithRegistry installs the custom recognition and action registry of the
// default in-memory engine.
func WithRegistry(r *custom.Registry) Option {
	return func(t *Tasker) { t.memOpts = append(t.memOpts, memory.WithRegistry(r)) }
}

// WithMatcher installs the image-recognition hook of the default in-memory
// engine.
func WithMatcher(m memory.Matcher) Option {
	return func(t *Tasker) { t.memOpts = append(t.memOpts, memory.WithMatcher(m)) }
}

// WithScreenSize sets the simulated screen of the default in-memory
// engine.
func WithScreenSize(w, h int32) Option {
	return func(t *Tasker) { t.memOpts = append(t.memOpts, memory.WithScreenSize(w, h)) }
}

// New initializes a Tasker. Without WithEngine it owns an in-memory engine
// configured by the memory options; Close releases it.
func New(opts ...Option) *Tasker {
	t := &Tasker{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	if t.engine == nil {
		mem := memory.New(append([]memory.Option{memory.WithLogger(t.logger)}, t.memOpts...)...)
		t.engine = mem
		t.ownedMem = mem
	}
	t.hydrator = detail.NewHydrator(t.engine)
	return t
}

// Close releases the owned engine, if any. Taskers built over an injected
// engine leave its lifecycle to the caller.
func (t *Tasker) Close() {
	if t.ownedMem != nil {
		t.ownedMem.Close()
	}
}

// Engine returns the underlying engine adapter.
func (t *Tasker) Engine() ports.Engine { return t.engine }

func (t *Tasker) taskJob(id int64) job.TaskJob[detail.TaskDetail] {
	inner := job.NewWithResult(id, t.engine.Status, t.engine.Wait, func(id int64) (*detail.TaskDetail, error) {
		return t.hydrator.Task(context.Background(), id)
	})
	return job.NewTask(inner, func(_ int64, doc []byte) error {
		return t.engine.OverridePipeline(doc)
	})
}

// PostTask queues a full pipeline task starting at entry. A non-nil
// override document is merged into the node table first.
func (t *Tasker) PostTask(entry string, override []byte) (job.TaskJob[detail.TaskDetail], error) {
	id, err := t.engine.PostTask(entry, override)
	if err != nil {
		return job.TaskJob[detail.TaskDetail]{}, err
	}
	t.logger.Debug("task posted", "id", id, "entry", entry)
	return t.taskJob(id), nil
}

// PostRecognition queues a single recognition evaluation of entry's
// recognition.
func (t *Tasker) PostRecognition(entry string, override []byte) (job.TaskJob[detail.TaskDetail], error) {
	id, err := t.engine.PostRecognition(entry, override)
	if err != nil {
		return job.TaskJob[detail.TaskDetail]{}, err
	}
	return t.taskJob(id), nil
}

// PostAction queues a single action execution of entry's action.
func (t *Tasker) PostAction(entry string, override []byte) (job.TaskJob[detail.TaskDetail], error) {
	id, err := t.engine.PostAction(entry, override)
	if err != nil {
		return job.TaskJob[detail.TaskDetail]{}, err
	}
	return t.taskJob(id), nil
}

// LoadBundle queues loading of a resource bundle directory into the node
// table.
func (t *Tasker) LoadBundle(path string) (job.Job, error) {
	id, err := t.engine.PostBundle(path)
	if err != nil {
		return job.Job{}, err
	}
	t.logger.Debug("bundle posted", "id", id, "path", path)
	return job.New(id, t.engine.Status, t.engine.Wait), nil
}

// Stop requests that current and queued operations stop. The returned job
// succeeds once the engine has drained.
func (t *Tasker) Stop() (job.Job, error) {
	id, err := t.engine.PostStop()
	if err != nil {
		return job.Job{}, err
	}
	return job.New(id, t.engine.Status, t.engine.Wait), nil
}

// Running reports whether any operation is pending or executing.
func (t *Tasker) Running() bool { return t.engine.Running() }

// Stopping reports whether a stop request is draining.
func (t *Tasker) Stopping() bool { return t.engine.Stopping() }

// OverridePipeline merges a wire-format override document into the live
// node table.
func (t *Tasker) OverridePipeline(doc []byte) error {
	return t.engine.OverridePipeline(doc)
}

// OverrideNext replaces the named node's next list wholesale.
func (t *Tasker) OverrideNext(node string, next []pipeline.NodeAttr) error {
	return t.engine.OverrideNext(node, next)
}

// TaskDetail hydrates the full detail tree of a finished or running task.
// A (nil, nil) return means the identifier is unknown.
func (t *Tasker) TaskDetail(ctx context.Context, id int64) (*detail.TaskDetail, error) {
	return t.hydrator.Task(ctx, id)
}

// NodeDetail hydrates one executed node.
func (t *Tasker) NodeDetail(ctx context.Context, id int64) (*detail.NodeDetail, error) {
	return t.hydrator.Node(ctx, id)
}

// RecognitionDetail hydrates one recognition evaluation, expanding
// composite sub-details recursively.
func (t *Tasker) RecognitionDetail(ctx context.Context, id int64) (*detail.RecognitionDetail, error) {
	return t.hydrator.Recognition(ctx, id)
}

// LatestNode hydrates the most recent execution of the named node. A
// (nil, nil) return means the node has not executed yet.
func (t *Tasker) LatestNode(ctx context.Context, name string) (*detail.NodeDetail, error) {
	id, ok := t.engine.LatestNode(name)
	if !ok {
		return nil, nil
	}
	return t.hydrator.Node(ctx, id)
}

// ClearCache drops all retained details.
func (t *Tasker) ClearCache() { t.engine.ClearCache() }

// OnNotification registers a raw notification sink.
func (t *Tasker) OnNotification(fn ports.NotificationFunc) ports.SinkID {
	return t.engine.AddSink(fn)
}

// OnEvent registers a sink that receives parsed notification events.
func (t *Tasker) OnEvent(fn func(notify.Event)) ports.SinkID {
	return t.engine.AddSink(func(message string, details []byte) {
		fn(notify.Parse(message, details))
	})
}

// RemoveSink unregisters a sink.
func (t *Tasker) RemoveSink(id ports.SinkID) { t.engine.RemoveSink(id) }

// ClearSinks unregisters every sink.
func (t *Tasker) ClearSinks() { t.engine.ClearSinks() }
