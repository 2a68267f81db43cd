package pipeline

import (
	"encoding/json"
	"fmt"
)

// RecognitionType identifies a recognition strategy.
type RecognitionType string

const (
	RecognitionDirectHit             RecognitionType = "DirectHit"
	RecognitionTemplateMatch         RecognitionType = "TemplateMatch"
	RecognitionFeatureMatch          RecognitionType = "FeatureMatch"
	RecognitionColorMatch            RecognitionType = "ColorMatch"
	RecognitionOCR                   RecognitionType = "OCR"
	RecognitionNeuralNetworkClassify RecognitionType = "NeuralNetworkClassify"
	RecognitionNeuralNetworkDetect   RecognitionType = "NeuralNetworkDetect"
	RecognitionAnd                   RecognitionType = "And"
	RecognitionOr                    RecognitionType = "Or"
	RecognitionCustom                RecognitionType = "Custom"
)

// Composite reports whether the type aggregates sub-recognitions.
func (t RecognitionType) Composite() bool {
	return t == RecognitionAnd || t == RecognitionOr
}

// RecognitionParam is implemented by every recognition parameter struct.
type RecognitionParam interface {
	recognitionParam()
}

// Recognition is the tagged union of recognition strategies. The wire form
// is either a bare type name (full defaults) or {"type": ..., "param": ...}.
type Recognition struct {
	Type  RecognitionType
	Param RecognitionParam
}

// DirectHit reports a hit unconditionally, producing the ROI as the box.
type DirectHit struct {
	ROI       Target `json:"roi"`
	ROIOffset Rect   `json:"roi_offset"`
}

// TemplateMatch locates one of the given template images on screen.
type TemplateMatch struct {
	Template  List[string]  `json:"template"`
	ROI       Target        `json:"roi"`
	ROIOffset Rect          `json:"roi_offset"`
	Threshold List[float64] `json:"threshold"`
	OrderBy   string        `json:"order_by"`
	Index     int32         `json:"index"`
	Method    int32         `json:"method"`
	GreenMask bool          `json:"green_mask"`
}

// FeatureMatch locates a template by keypoint features, tolerant of scale
// and rotation.
type FeatureMatch struct {
	Template  List[string] `json:"template"`
	ROI       Target       `json:"roi"`
	ROIOffset Rect         `json:"roi_offset"`
	Detector  string       `json:"detector"`
	OrderBy   string       `json:"order_by"`
	Count     int32        `json:"count"`
	Index     int32        `json:"index"`
	GreenMask bool         `json:"green_mask"`
	Ratio     float64      `json:"ratio"`
}

// ColorMatch finds regions whose color falls between the lower and upper
// bounds.
type ColorMatch struct {
	Lower     List[[]int32] `json:"lower"`
	Upper     List[[]int32] `json:"upper"`
	ROI       Target        `json:"roi"`
	ROIOffset Rect          `json:"roi_offset"`
	OrderBy   string        `json:"order_by"`
	Method    int32         `json:"method"`
	Count     int32         `json:"count"`
	Index     int32         `json:"index"`
	Connected bool          `json:"connected"`
}

// OCR recognizes text and matches it against the expected strings.
type OCR struct {
	Expected  List[string] `json:"expected"`
	ROI       Target       `json:"roi"`
	ROIOffset Rect         `json:"roi_offset"`
	Threshold float64      `json:"threshold"`
	Replace   [][]string   `json:"replace"`
	OrderBy   string       `json:"order_by"`
	Index     int32        `json:"index"`
	OnlyRec   bool         `json:"only_rec"`
	Model     string       `json:"model"`
}

// NeuralNetworkClassify classifies the ROI with an ONNX model and matches
// the result against the expected labels.
type NeuralNetworkClassify struct {
	Model     string       `json:"model"`
	Expected  List[int32]  `json:"expected"`
	ROI       Target       `json:"roi"`
	ROIOffset Rect         `json:"roi_offset"`
	Labels    []string     `json:"labels"`
	OrderBy   string       `json:"order_by"`
	Index     int32        `json:"index"`
}

// NeuralNetworkDetect runs object detection with an ONNX model.
type NeuralNetworkDetect struct {
	Model     string        `json:"model"`
	Expected  List[int32]   `json:"expected"`
	ROI       Target        `json:"roi"`
	ROIOffset Rect          `json:"roi_offset"`
	Labels    []string      `json:"labels"`
	Threshold List[float64] `json:"threshold"`
	OrderBy   string        `json:"order_by"`
	Index     int32         `json:"index"`
}

// CustomRecognition delegates to a registered named handler.
type CustomRecognition struct {
	CustomRecognition      string          `json:"custom_recognition"`
	ROI                    Target          `json:"roi"`
	ROIOffset              Rect            `json:"roi_offset"`
	CustomRecognitionParam json.RawMessage `json:"custom_recognition_param"`
}

// SubRecognition is one constituent of a composite recognition: either a
// reference to another node's recognition (bare string) or an inline
// recognition object.
type SubRecognition struct {
	Ref    string
	Inline *Recognition
}

func (s SubRecognition) MarshalJSON() ([]byte, error) {
	if s.Inline != nil {
		return json.Marshal(s.Inline)
	}
	return json.Marshal(s.Ref)
}

func (s *SubRecognition) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*s = SubRecognition{Ref: name}
		return nil
	}
	var inline Recognition
	if err := json.Unmarshal(data, &inline); err != nil {
		return fmt.Errorf("sub-recognition: expected node name or recognition object: %w", err)
	}
	*s = SubRecognition{Inline: &inline}
	return nil
}

// And aggregates sub-recognitions; it hits when every constituent hits.
// BoxIndex selects which constituent's bounding box becomes the node's
// result box.
type And struct {
	AllOf    []SubRecognition `json:"all_of"`
	BoxIndex int32            `json:"box_index"`
}

// Or aggregates sub-recognitions; it hits on the first constituent that
// hits.
type Or struct {
	AnyOf []SubRecognition `json:"any_of"`
}

func (*DirectHit) recognitionParam()             {}
func (*TemplateMatch) recognitionParam()         {}
func (*FeatureMatch) recognitionParam()          {}
func (*ColorMatch) recognitionParam()            {}
func (*OCR) recognitionParam()                   {}
func (*NeuralNetworkClassify) recognitionParam() {}
func (*NeuralNetworkDetect) recognitionParam()   {}
func (*CustomRecognition) recognitionParam()     {}
func (*And) recognitionParam()                   {}
func (*Or) recognitionParam()                    {}

// recognitionDefaults builds a default-initialized parameter struct per
// variant. Both wire encodings (bare name and {type, param}) share this
// single table.
var recognitionDefaults = map[RecognitionType]func() RecognitionParam{
	RecognitionDirectHit: func() RecognitionParam {
		return &DirectHit{ROI: fullScreenROI()}
	},
	RecognitionTemplateMatch: func() RecognitionParam {
		return &TemplateMatch{
			ROI:       fullScreenROI(),
			Threshold: Of(0.7),
			OrderBy:   "Horizontal",
			Method:    5,
		}
	},
	RecognitionFeatureMatch: func() RecognitionParam {
		return &FeatureMatch{
			ROI:      fullScreenROI(),
			Detector: "SIFT",
			OrderBy:  "Horizontal",
			Count:    4,
			Ratio:    0.6,
		}
	},
	RecognitionColorMatch: func() RecognitionParam {
		return &ColorMatch{
			ROI:     fullScreenROI(),
			OrderBy: "Horizontal",
			Method:  4,
			Count:   1,
		}
	},
	RecognitionOCR: func() RecognitionParam {
		return &OCR{
			ROI:       fullScreenROI(),
			Threshold: 0.3,
			OrderBy:   "Horizontal",
		}
	},
	RecognitionNeuralNetworkClassify: func() RecognitionParam {
		return &NeuralNetworkClassify{
			ROI:     fullScreenROI(),
			OrderBy: "Horizontal",
		}
	},
	RecognitionNeuralNetworkDetect: func() RecognitionParam {
		return &NeuralNetworkDetect{
			ROI:       fullScreenROI(),
			Threshold: Of(0.3),
			OrderBy:   "Horizontal",
		}
	},
	RecognitionCustom: func() RecognitionParam {
		return &CustomRecognition{ROI: fullScreenROI()}
	},
	RecognitionAnd: func() RecognitionParam { return &And{} },
	RecognitionOr:  func() RecognitionParam { return &Or{} },
}

// recognitionRequired lists the fields a freshly created variant must carry.
var recognitionRequired = map[RecognitionType][]string{
	RecognitionTemplateMatch:         {"template"},
	RecognitionFeatureMatch:          {"template"},
	RecognitionColorMatch:            {"lower", "upper"},
	RecognitionNeuralNetworkClassify: {"model"},
	RecognitionNeuralNetworkDetect:   {"model"},
	RecognitionCustom:                {"custom_recognition"},
}

// NewRecognition builds a recognition of the given type with every field at
// its default. It fails for unknown types and for variants that have
// required fields with no default.
func NewRecognition(t RecognitionType) (Recognition, error) {
	return newRecognition(t, nil)
}

func newRecognition(t RecognitionType, param json.RawMessage) (Recognition, error) {
	ctor, ok := recognitionDefaults[t]
	if !ok {
		return Recognition{}, fmt.Errorf("recognition %q: %w", t, ErrUnknownDiscriminant)
	}
	if err := checkRequired("recognition", string(t), param, recognitionRequired[t]); err != nil {
		return Recognition{}, err
	}
	p := ctor()
	if param != nil {
		if err := json.Unmarshal(param, p); err != nil {
			return Recognition{}, fmt.Errorf("recognition %q: %w", t, err)
		}
	}
	return Recognition{Type: t, Param: p}, nil
}

// checkRequired verifies that every required key is present in the raw
// parameter object. A nil raw object provides nothing.
func checkRequired(kind, typ string, raw json.RawMessage, required []string) error {
	if len(required) == 0 {
		return nil
	}
	var keys map[string]json.RawMessage
	if raw != nil {
		if err := json.Unmarshal(raw, &keys); err != nil {
			return fmt.Errorf("%s %q: expected parameter object: %w", kind, typ, err)
		}
	}
	for _, field := range required {
		if _, ok := keys[field]; !ok {
			return fmt.Errorf("%s %q: %w: %s", kind, typ, ErrMissingField, field)
		}
	}
	return nil
}

func (r Recognition) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  RecognitionType  `json:"type"`
		Param RecognitionParam `json:"param"`
	}{Type: r.Type, Param: r.Param})
}

func (r *Recognition) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		reco, err := newRecognition(RecognitionType(name), nil)
		if err != nil {
			return err
		}
		*r = reco
		return nil
	}

	var obj struct {
		Type  RecognitionType `json:"type"`
		Param json.RawMessage `json:"param"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("recognition: expected type name or {type, param}: %w", err)
	}
	if obj.Type == "" {
		return fmt.Errorf("recognition: %w: type", ErrMissingField)
	}
	reco, err := newRecognition(obj.Type, obj.Param)
	if err != nil {
		return err
	}
	*r = reco
	return nil
}
