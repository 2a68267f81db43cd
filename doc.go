/*
Package kestrel is a declarative, image-recognition-driven UI automation
engine. Automation flows are described as a graph of named pipeline nodes;
each node pairs a recognition (what to look for) with an action (what to do
where it was found) and flow control to the following nodes.

It separates the pipeline model (Logic) from the engine that executes it
(Adapter) and the result trees it produces (Details). This hexagonal layout
lets the model and result handling run against any engine: the bundled
in-memory simulator, or a device-backed implementation of ports.Engine.

# Key Features

  - Declarative pipelines: nodes are plain JSON or YAML documents, merged
    incrementally through override semantics with full default handling.
  - Asynchronous jobs: every posted operation returns a typed handle with
    non-blocking status, blocking wait and hydrated results.
  - Navigable results: flat engine records are rebuilt into task, node,
    recognition and action detail trees, composites expanded recursively.
  - Typed notifications: the engine's message stream parses into event
    structs, with unknown messages preserved rather than dropped.

# Usage

Initialize a Tasker, load or override a pipeline, and post an entry node.

	package main

	import (
		"log"

		"github.com/kestrelauto/kestrel"
	)

	func main() {
		tk := kestrel.New()
		defer tk.Close()

		err := tk.OverridePipeline([]byte(`{
			"Start": {
				"recognition": {"type": "TemplateMatch", "param": {"template": "start.png"}},
				"action": "Click",
				"next": ["Done"]
			},
			"Done": {}
		}`))
		if err != nil {
			log.Fatal(err)
		}

		job, err := tk.PostTask("Start", nil)
		if err != nil {
			log.Fatal(err)
		}

		detail, err := job.Get(true)
		if err != nil {
			log.Fatal(err)
		}
		for _, node := range detail.Nodes {
			log.Println("executed:", node.NodeName)
		}
	}
*/
package kestrel
