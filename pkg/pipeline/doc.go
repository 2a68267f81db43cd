// Package pipeline defines the configuration model for a recognition-driven
// automation graph: named nodes pairing a recognition test with an action,
// plus flow-control attributes and timing policy.
//
// The package owns the wire format (JSON), the per-variant default values,
// and the partial-override merge semantics used to patch a live node table
// at runtime. It holds no execution logic; an engine adapter interprets the
// model against a screen and controller.
package pipeline
