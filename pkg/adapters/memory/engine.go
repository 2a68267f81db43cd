// Package memory provides an in-process engine adapter. It executes
// pipeline graphs against a simulated screen: recognitions that need real
// images resolve through an optional matcher hook, everything else runs
// with full semantics. All detail retention is in memory.
//
// Anchor tags on next-list entries and the node-level anchor name list are
// parsed and surfaced in details and notifications, but carry no
// positional meaning here: without a real screen there is no anchor box to
// re-resolve against.
package memory

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kestrelauto/kestrel/internal/logging"
	"github.com/kestrelauto/kestrel/pkg/custom"
	"github.com/kestrelauto/kestrel/pkg/detail"
	"github.com/kestrelauto/kestrel/pkg/job"
	"github.com/kestrelauto/kestrel/pkg/pipeline"
	"github.com/kestrelauto/kestrel/pkg/ports"
)

// ErrClosed is returned by post methods after Close.
var ErrClosed = errors.New("engine closed")

// MatchArg carries one image-based recognition request to the matcher hook.
type MatchArg struct {
	TaskID   int64
	NodeName string
	Type     pipeline.RecognitionType
	Param    pipeline.RecognitionParam
	ROI      pipeline.Rect
}

// MatchResult is the matcher hook's answer on a hit.
type MatchResult struct {
	Box    pipeline.Rect
	Detail []byte
}

// Matcher decides image-based recognitions (template, feature, color, OCR,
// neural network). Without a matcher every image-based recognition misses.
type Matcher func(arg MatchArg) (MatchResult, bool)

type workKind int

const (
	workTask workKind = iota
	workRecognition
	workAction
	workBundle
	workStop
)

type workItem struct {
	kind     workKind
	id       int64
	entry    string
	override []byte
	path     string
}

type taskRec struct {
	entry   string
	nodeIDs []int64
	status  job.Status
}

// Engine is the in-memory ports.Engine implementation. One worker goroutine
// executes posted operations in order; all public methods are safe for
// concurrent use.
type Engine struct {
	log      *slog.Logger
	matcher  Matcher
	registry *custom.Registry
	screen   pipeline.Rect
	uuid     string

	table *pipeline.Table

	nextID atomic.Int64

	mu       sync.Mutex
	cond     *sync.Cond
	statuses map[int64]job.Status
	tasks    map[int64]*taskRec
	nodes    map[int64]detail.NodeQuery
	recos    map[int64]detail.RecognitionQuery
	acts     map[int64]detail.ActionQuery
	latest   map[string]int64
	hash     string

	sinkMu   sync.Mutex
	sinks    map[ports.SinkID]ports.NotificationFunc
	nextSink atomic.Int64

	stopping atomic.Bool

	// closeMu orders posts against Close so the queue is never sent to
	// after it is closed.
	closeMu sync.Mutex
	closed  bool

	queue chan workItem
	done  chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMatcher installs the hook that decides image-based recognitions.
func WithMatcher(m Matcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// WithRegistry installs the custom recognition and action registry.
func WithRegistry(r *custom.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithScreenSize sets the simulated screen dimensions. The default is
// 1280x720.
func WithScreenSize(w, h int32) Option {
	return func(e *Engine) { e.screen = pipeline.Rect{W: w, H: h} }
}

// New starts an engine with an empty node table and a running worker.
// Callers must Close it to release the worker.
func New(opts ...Option) *Engine {
	e := &Engine{
		log:      logging.NewNop(),
		screen:   pipeline.Rect{W: 1280, H: 720},
		uuid:     newUUID(),
		table:    pipeline.NewTable(),
		statuses: make(map[int64]job.Status),
		tasks:    make(map[int64]*taskRec),
		nodes:    make(map[int64]detail.NodeQuery),
		recos:    make(map[int64]detail.RecognitionQuery),
		acts:     make(map[int64]detail.ActionQuery),
		latest:   make(map[string]int64),
		sinks:    make(map[ports.SinkID]ports.NotificationFunc),
		queue:    make(chan workItem, 64),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = custom.NewRegistry(e.log)
	}
	e.cond = sync.NewCond(&e.mu)
	go e.run()
	return e
}

func newUUID() string {
	var b [16]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Close stops the worker after the queued operations drain. Posting after
// Close fails with ErrClosed. Close is safe to call concurrently with the
// post methods and with itself.
func (e *Engine) Close() {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	close(e.queue)
	e.closeMu.Unlock()
	<-e.done
}

// Table returns the live node table.
func (e *Engine) Table() *pipeline.Table { return e.table }

// UUID returns the engine instance identifier.
func (e *Engine) UUID() string { return e.uuid }

// Registry returns the custom callback registry.
func (e *Engine) Registry() *custom.Registry { return e.registry }

func (e *Engine) post(item workItem) (int64, error) {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if e.closed {
		return 0, ErrClosed
	}
	item.id = e.nextID.Add(1)
	e.mu.Lock()
	e.statuses[item.id] = job.StatusPending
	e.mu.Unlock()
	e.queue <- item
	return item.id, nil
}

// PostTask queues a full pipeline task starting at entry. A non-nil
// override document is merged into the node table before the task starts.
func (e *Engine) PostTask(entry string, override []byte) (int64, error) {
	return e.post(workItem{kind: workTask, entry: entry, override: override})
}

// PostRecognition queues a single recognition evaluation of entry's
// recognition.
func (e *Engine) PostRecognition(entry string, override []byte) (int64, error) {
	return e.post(workItem{kind: workRecognition, entry: entry, override: override})
}

// PostAction queues a single action execution of entry's action.
func (e *Engine) PostAction(entry string, override []byte) (int64, error) {
	return e.post(workItem{kind: workAction, entry: entry, override: override})
}

// PostBundle queues loading of a resource bundle directory.
func (e *Engine) PostBundle(path string) (int64, error) {
	return e.post(workItem{kind: workBundle, path: path})
}

// PostStop requests a stop. Queued operations fail immediately; the
// returned identifier succeeds once the queue has drained up to the stop.
func (e *Engine) PostStop() (int64, error) {
	e.stopping.Store(true)
	return e.post(workItem{kind: workStop})
}

// Status reports the current status of an identifier.
func (e *Engine) Status(id int64) job.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statuses[id]
}

// Wait blocks until the identifier reaches a terminal status. Unknown
// identifiers return StatusInvalid immediately.
func (e *Engine) Wait(id int64) job.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		s := e.statuses[id]
		if s == job.StatusInvalid || s.Done() {
			return s
		}
		e.cond.Wait()
	}
}

// Running reports whether any posted operation is pending or executing.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.statuses {
		if s == job.StatusPending || s == job.StatusRunning {
			return true
		}
	}
	return false
}

// Stopping reports whether a stop request is draining.
func (e *Engine) Stopping() bool { return e.stopping.Load() }

// OverridePipeline merges a wire-format override document into the node
// table.
func (e *Engine) OverridePipeline(doc []byte) error {
	return e.table.Override(doc)
}

// OverrideNext replaces the named node's next list.
func (e *Engine) OverrideNext(node string, next []pipeline.NodeAttr) error {
	return e.table.OverrideNext(node, next)
}

// LatestNode reports the most recent node detail id recorded for the named
// node.
func (e *Engine) LatestNode(name string) (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.latest[name]
	return id, ok
}

// ClearCache drops all retained details. Statuses of finished operations
// are kept so existing job handles stay valid.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = make(map[int64]*taskRec)
	e.nodes = make(map[int64]detail.NodeQuery)
	e.recos = make(map[int64]detail.RecognitionQuery)
	e.acts = make(map[int64]detail.ActionQuery)
	e.latest = make(map[string]int64)
}

// AddSink registers a notification sink.
func (e *Engine) AddSink(fn ports.NotificationFunc) ports.SinkID {
	id := ports.SinkID(e.nextSink.Add(1))
	e.sinkMu.Lock()
	e.sinks[id] = fn
	e.sinkMu.Unlock()
	return id
}

// RemoveSink unregisters a sink.
func (e *Engine) RemoveSink(id ports.SinkID) {
	e.sinkMu.Lock()
	delete(e.sinks, id)
	e.sinkMu.Unlock()
}

// ClearSinks unregisters every sink.
func (e *Engine) ClearSinks() {
	e.sinkMu.Lock()
	e.sinks = make(map[ports.SinkID]ports.NotificationFunc)
	e.sinkMu.Unlock()
}

// QueryTaskDetail answers the two-phase task query: with a nil buffer it
// reports the node-id count, with a sized buffer it fills it.
func (e *Engine) QueryTaskDetail(id int64, nodeIDs []int64) (string, int, job.Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.tasks[id]
	if !ok {
		return "", 0, job.StatusInvalid, false
	}
	n := copy(nodeIDs, rec.nodeIDs)
	if nodeIDs == nil {
		n = len(rec.nodeIDs)
	}
	return rec.entry, n, rec.status, true
}

// QueryNodeDetail answers a flat node detail query.
func (e *Engine) QueryNodeDetail(id int64) (detail.NodeQuery, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.nodes[id]
	return q, ok
}

// QueryRecognitionDetail answers a flat recognition detail query.
func (e *Engine) QueryRecognitionDetail(id int64) (detail.RecognitionQuery, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.recos[id]
	return q, ok
}

// QueryActionDetail answers a flat action detail query.
func (e *Engine) QueryActionDetail(id int64) (detail.ActionQuery, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.acts[id]
	return q, ok
}

func (e *Engine) setStatus(id int64, s job.Status) {
	e.mu.Lock()
	e.statuses[id] = s
	e.cond.Broadcast()
	e.mu.Unlock()
}

var _ ports.Engine = (*Engine)(nil)
