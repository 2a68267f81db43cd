package pipeline

import (
	"encoding/json"
	"fmt"
)

// ActionType identifies an action strategy.
type ActionType string

const (
	ActionDoNothing    ActionType = "DoNothing"
	ActionClick        ActionType = "Click"
	ActionLongPress    ActionType = "LongPress"
	ActionSwipe        ActionType = "Swipe"
	ActionMultiSwipe   ActionType = "MultiSwipe"
	ActionTouchDown    ActionType = "TouchDown"
	ActionTouchMove    ActionType = "TouchMove"
	ActionTouchUp      ActionType = "TouchUp"
	ActionClickKey     ActionType = "ClickKey"
	ActionLongPressKey ActionType = "LongPressKey"
	ActionKeyDown      ActionType = "KeyDown"
	ActionKeyUp        ActionType = "KeyUp"
	ActionInputText    ActionType = "InputText"
	ActionStartApp     ActionType = "StartApp"
	ActionStopApp      ActionType = "StopApp"
	ActionStopTask     ActionType = "StopTask"
	ActionScroll       ActionType = "Scroll"
	ActionCommand      ActionType = "Command"
	ActionShell        ActionType = "Shell"
	ActionCustom       ActionType = "Custom"
)

// ActionParam is implemented by every action parameter struct.
type ActionParam interface {
	actionParam()
}

// Action is the tagged union of action strategies. The wire form is either a
// bare type name (full defaults) or {"type": ..., "param": ...}.
type Action struct {
	Type  ActionType
	Param ActionParam
}

// DoNothing performs no action.
type DoNothing struct{}

// StopTask terminates the current task.
type StopTask struct{}

// Click taps the target once.
type Click struct {
	Target       Target `json:"target"`
	TargetOffset Rect   `json:"target_offset"`
	Contact      int32  `json:"contact"`
	Pressure     int32  `json:"pressure"`
}

// LongPress holds the target down for the given duration.
type LongPress struct {
	Target       Target `json:"target"`
	TargetOffset Rect   `json:"target_offset"`
	Duration     int32  `json:"duration"`
	Contact      int32  `json:"contact"`
	Pressure     int32  `json:"pressure"`
}

// Swipe drags from a beginning target through one or more end targets.
type Swipe struct {
	Starting    int32        `json:"starting"`
	Begin       Target       `json:"begin"`
	BeginOffset Rect         `json:"begin_offset"`
	End         List[Target] `json:"end"`
	EndOffset   List[Rect]   `json:"end_offset"`
	EndHold     List[int32]  `json:"end_hold"`
	Duration    List[int32]  `json:"duration"`
	OnlyHover   bool         `json:"only_hover"`
	Contact     int32        `json:"contact"`
	Pressure    int32        `json:"pressure"`
}

// MultiSwipe performs several swipes, potentially overlapping in time.
type MultiSwipe struct {
	Swipes []Swipe `json:"swipes"`
}

// Touch presses or moves a contact at the target. Shared by TouchDown and
// TouchMove.
type Touch struct {
	Contact      int32  `json:"contact"`
	Target       Target `json:"target"`
	TargetOffset Rect   `json:"target_offset"`
	Pressure     int32  `json:"pressure"`
}

// TouchUp releases a contact.
type TouchUp struct {
	Contact int32 `json:"contact"`
}

// KeyList presses one or more keys in order. Used by ClickKey.
type KeyList struct {
	Key List[int32] `json:"key"`
}

// LongPressKey holds one or more keys down for the given duration.
type LongPressKey struct {
	Key      List[int32] `json:"key"`
	Duration int32       `json:"duration"`
}

// SingleKey presses or releases exactly one key. Shared by KeyDown and
// KeyUp.
type SingleKey struct {
	Key int32 `json:"key"`
}

// InputText types a string.
type InputText struct {
	InputText string `json:"input_text"`
}

// App starts or stops an application package. Shared by StartApp and
// StopApp.
type App struct {
	Package string `json:"package"`
}

// Scroll scrolls by (dx, dy) at the target.
type Scroll struct {
	Target       Target `json:"target"`
	TargetOffset Rect   `json:"target_offset"`
	DX           int32  `json:"dx"`
	DY           int32  `json:"dy"`
}

// Command runs an external program.
type Command struct {
	Exec   string   `json:"exec"`
	Args   []string `json:"args"`
	Detach bool     `json:"detach"`
}

// Shell runs a shell command with a timeout.
type Shell struct {
	Cmd     string `json:"cmd"`
	Timeout int32  `json:"timeout"`
}

// CustomAction delegates to a registered named handler.
type CustomAction struct {
	CustomAction      string          `json:"custom_action"`
	Target            Target          `json:"target"`
	CustomActionParam json.RawMessage `json:"custom_action_param"`
	TargetOffset      Rect            `json:"target_offset"`
}

func (*DoNothing) actionParam()    {}
func (*StopTask) actionParam()     {}
func (*Click) actionParam()        {}
func (*LongPress) actionParam()    {}
func (*Swipe) actionParam()        {}
func (*MultiSwipe) actionParam()   {}
func (*Touch) actionParam()        {}
func (*TouchUp) actionParam()      {}
func (*KeyList) actionParam()      {}
func (*LongPressKey) actionParam() {}
func (*SingleKey) actionParam()    {}
func (*InputText) actionParam()    {}
func (*App) actionParam()          {}
func (*Scroll) actionParam()       {}
func (*Command) actionParam()      {}
func (*Shell) actionParam()        {}
func (*CustomAction) actionParam() {}

func defaultSwipe() Swipe {
	return Swipe{
		Begin:     AutoTarget(),
		End:       Of(AutoTarget()),
		EndOffset: Of(Rect{}),
		EndHold:   Of[int32](0),
		Duration:  Of[int32](200),
		Pressure:  1,
	}
}

// UnmarshalJSON applies swipe defaults before decoding, so that swipes
// nested inside a MultiSwipe default the same way a top-level swipe does.
func (s *Swipe) UnmarshalJSON(data []byte) error {
	type alias Swipe
	a := alias(defaultSwipe())
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = Swipe(a)
	return nil
}

var actionDefaults = map[ActionType]func() ActionParam{
	ActionDoNothing: func() ActionParam { return &DoNothing{} },
	ActionStopTask:  func() ActionParam { return &StopTask{} },
	ActionClick: func() ActionParam {
		return &Click{Target: AutoTarget(), Pressure: 1}
	},
	ActionLongPress: func() ActionParam {
		return &LongPress{Target: AutoTarget(), Duration: 1000, Pressure: 1}
	},
	ActionSwipe: func() ActionParam {
		s := defaultSwipe()
		return &s
	},
	ActionMultiSwipe: func() ActionParam { return &MultiSwipe{} },
	ActionTouchDown: func() ActionParam {
		return &Touch{Target: AutoTarget(), Pressure: 1}
	},
	ActionTouchMove: func() ActionParam {
		return &Touch{Target: AutoTarget(), Pressure: 1}
	},
	ActionTouchUp:      func() ActionParam { return &TouchUp{} },
	ActionClickKey:     func() ActionParam { return &KeyList{} },
	ActionLongPressKey: func() ActionParam { return &LongPressKey{Duration: 1000} },
	ActionKeyDown:      func() ActionParam { return &SingleKey{} },
	ActionKeyUp:        func() ActionParam { return &SingleKey{} },
	ActionInputText:    func() ActionParam { return &InputText{} },
	ActionStartApp:     func() ActionParam { return &App{} },
	ActionStopApp:      func() ActionParam { return &App{} },
	ActionScroll: func() ActionParam {
		return &Scroll{Target: AutoTarget()}
	},
	ActionCommand: func() ActionParam { return &Command{} },
	ActionShell:   func() ActionParam { return &Shell{Timeout: 20000} },
	ActionCustom: func() ActionParam {
		return &CustomAction{Target: AutoTarget()}
	},
}

var actionRequired = map[ActionType][]string{
	ActionClickKey:     {"key"},
	ActionLongPressKey: {"key"},
	ActionKeyDown:      {"key"},
	ActionKeyUp:        {"key"},
	ActionInputText:    {"input_text"},
	ActionStartApp:     {"package"},
	ActionStopApp:      {"package"},
	ActionCommand:      {"exec"},
	ActionShell:        {"cmd"},
	ActionCustom:       {"custom_action"},
}

// NewAction builds an action of the given type with every field at its
// default. It fails for unknown types and for variants that have required
// fields with no default.
func NewAction(t ActionType) (Action, error) {
	return newAction(t, nil)
}

func newAction(t ActionType, param json.RawMessage) (Action, error) {
	ctor, ok := actionDefaults[t]
	if !ok {
		return Action{}, fmt.Errorf("action %q: %w", t, ErrUnknownDiscriminant)
	}
	if err := checkRequired("action", string(t), param, actionRequired[t]); err != nil {
		return Action{}, err
	}
	p := ctor()
	if param != nil {
		if err := json.Unmarshal(param, p); err != nil {
			return Action{}, fmt.Errorf("action %q: %w", t, err)
		}
	}
	return Action{Type: t, Param: p}, nil
}

func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  ActionType  `json:"type"`
		Param ActionParam `json:"param"`
	}{Type: a.Type, Param: a.Param})
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		act, err := newAction(ActionType(name), nil)
		if err != nil {
			return err
		}
		*a = act
		return nil
	}

	var obj struct {
		Type  ActionType      `json:"type"`
		Param json.RawMessage `json:"param"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("action: expected type name or {type, param}: %w", err)
	}
	if obj.Type == "" {
		return fmt.Errorf("action: %w: type", ErrMissingField)
	}
	act, err := newAction(obj.Type, obj.Param)
	if err != nil {
		return err
	}
	*a = act
	return nil
}
