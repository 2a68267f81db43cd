package pipeline

import (
	"encoding/json"
	"fmt"
)

// WaitFreezes describes "wait until the screen stops changing in this
// region": the screen must hold still for Time milliseconds before the
// surrounding step proceeds.
type WaitFreezes struct {
	Time         int32   `json:"time"`
	Target       Target  `json:"target"`
	TargetOffset Rect    `json:"target_offset"`
	Threshold    float64 `json:"threshold"`
	Method       int32   `json:"method"`
	RateLimit    int32   `json:"rate_limit"`
	Timeout      int32   `json:"timeout"`
}

// DefaultWaitFreezes returns the policy with all documented defaults.
func DefaultWaitFreezes() WaitFreezes {
	return WaitFreezes{
		Time:      1,
		Target:    AutoTarget(),
		Threshold: 0.95,
		Method:    5,
		RateLimit: 1000,
		Timeout:   20000,
	}
}

// UnmarshalJSON accepts the object form, or a bare number as shorthand for
// setting Time with everything else defaulted.
func (w *WaitFreezes) UnmarshalJSON(data []byte) error {
	def := DefaultWaitFreezes()

	var t int32
	if err := json.Unmarshal(data, &t); err == nil {
		def.Time = t
		*w = def
		return nil
	}

	type alias WaitFreezes
	a := alias(def)
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("wait_freezes: %w", err)
	}
	*w = WaitFreezes(a)
	return nil
}
