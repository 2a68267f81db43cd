package pipeline

import "errors"

// ErrUnknownDiscriminant is returned when a recognition or action wire value
// names a variant this model does not define.
var ErrUnknownDiscriminant = errors.New("unknown discriminant")

// ErrMissingField is returned when a freshly created variant omits a field
// it cannot default. A present-but-empty field is not an error; whether the
// engine accepts it is decided at execution time.
var ErrMissingField = errors.New("missing required field")

// ErrNodeNotFound is returned when an operation names a node absent from the
// table.
var ErrNodeNotFound = errors.New("node not found")

// ErrBadReference is returned when a merged node's next or on_error list
// names a node that exists neither in the table nor in the override document
// being applied.
var ErrBadReference = errors.New("reference to undefined node")
