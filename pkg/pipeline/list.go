package pipeline

import (
	"encoding/json"
	"fmt"
)

// List is a "one or many" wire field. It accepts either a bare scalar or an
// array on input and is always normalized to a slice internally; it always
// marshals as an array. Decoding tries the array form first and falls back
// to promoting a single scalar.
type List[T any] []T

// Of builds a List from its arguments.
func Of[T any](vs ...T) List[T] { return List[T](vs) }

func (l List[T]) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]T(l))
}

func (l *List[T]) UnmarshalJSON(data []byte) error {
	var many []T
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err == nil {
		*l = List[T]{one}
		return nil
	}
	return fmt.Errorf("expected %T or a single element", *l)
}
