// Package ports declares the driven-side interfaces of the automation
// engine. Adapters implement Engine; the root package and the detail
// hydrator consume it.
package ports

import (
	"github.com/kestrelauto/kestrel/pkg/detail"
	"github.com/kestrelauto/kestrel/pkg/job"
	"github.com/kestrelauto/kestrel/pkg/pipeline"
)

// NotificationFunc receives one engine notification: a message string and
// its JSON detail payload. Sinks run on the engine's worker goroutine and
// must not block.
type NotificationFunc func(message string, details []byte)

// SinkID identifies a registered notification sink.
type SinkID int64

// Engine is the asynchronous automation engine surface. Posted operations
// return an identifier immediately; Status and Wait track it to a terminal
// state, and the embedded detail.Source answers flat result queries.
type Engine interface {
	detail.Source

	// PostTask queues a full pipeline task starting at entry, with an
	// optional wire-format override document applied first.
	PostTask(entry string, override []byte) (int64, error)

	// PostRecognition queues a single recognition evaluation of entry's
	// recognition, without running its action or following its next list.
	PostRecognition(entry string, override []byte) (int64, error)

	// PostAction queues a single action execution of entry's action,
	// without evaluating its recognition.
	PostAction(entry string, override []byte) (int64, error)

	// PostBundle queues loading of a resource bundle directory into the
	// node table.
	PostBundle(path string) (int64, error)

	// PostStop requests that the current and queued operations stop. The
	// returned identifier completes when the engine has drained.
	PostStop() (int64, error)

	// Status reports the current status of an identifier without blocking.
	Status(id int64) job.Status

	// Wait blocks until the identifier reaches a terminal status.
	Wait(id int64) job.Status

	// Running reports whether any operation is executing or queued.
	Running() bool

	// Stopping reports whether a stop request is being drained.
	Stopping() bool

	// OverridePipeline merges a wire-format override document into the
	// live node table.
	OverridePipeline(doc []byte) error

	// OverrideNext replaces the named node's next list wholesale.
	OverrideNext(node string, next []pipeline.NodeAttr) error

	// LatestNode reports the most recent node detail id recorded for the
	// named node.
	LatestNode(name string) (int64, bool)

	// ClearCache drops all retained task, node, recognition and action
	// details.
	ClearCache()

	// AddSink registers a notification sink and returns its id.
	AddSink(fn NotificationFunc) SinkID

	// RemoveSink unregisters a sink.
	RemoveSink(id SinkID)

	// ClearSinks unregisters every sink.
	ClearSinks()
}
