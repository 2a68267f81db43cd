package pipeline

import (
	"encoding/json"
	"fmt"
)

// Rect is an (x, y, width, height) rectangle, encoded on the wire as a
// four-element array. The zero Rect means "full screen" in ROI contexts.
type Rect struct {
	X int32
	Y int32
	W int32
	H int32
}

// IsZero reports whether all four components are zero.
func (r Rect) IsZero() bool { return r == Rect{} }

// Offset returns r shifted and resized by o, component-wise.
func (r Rect) Offset(o Rect) Rect {
	return Rect{X: r.X + o.X, Y: r.Y + o.Y, W: r.W + o.W, H: r.H + o.H}
}

func (r Rect) MarshalJSON() ([]byte, error) {
	return json.Marshal([]int32{r.X, r.Y, r.W, r.H})
}

func (r *Rect) UnmarshalJSON(data []byte) error {
	var vals []int32
	if err := json.Unmarshal(data, &vals); err != nil {
		return fmt.Errorf("rect: expected [x, y, w, h]: %w", err)
	}
	if len(vals) != 4 {
		return fmt.Errorf("rect: expected 4 elements, got %d", len(vals))
	}
	*r = Rect{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}
	return nil
}

// Point is an (x, y) coordinate, encoded as a two-element array.
type Point struct {
	X int32
	Y int32
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([]int32{p.X, p.Y})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var vals []int32
	if err := json.Unmarshal(data, &vals); err != nil {
		return fmt.Errorf("point: expected [x, y]: %w", err)
	}
	if len(vals) != 2 {
		return fmt.Errorf("point: expected 2 elements, got %d", len(vals))
	}
	*p = Point{X: vals[0], Y: vals[1]}
	return nil
}

// TargetKind discriminates the wire forms a Target can take.
type TargetKind uint8

const (
	// TargetAuto is the boolean form: use the box produced by this node's
	// own recognition.
	TargetAuto TargetKind = iota
	// TargetNode references the latest recognized box of a named node.
	TargetNode
	// TargetPoint is a literal [x, y] coordinate.
	TargetPoint
	// TargetRegion is a literal [x, y, w, h] rectangle.
	TargetRegion
)

// Target is a polymorphic position descriptor. On the wire it is one of:
// a boolean, a node name, an [x, y] point, or an [x, y, w, h] rectangle.
type Target struct {
	Kind   TargetKind
	Auto   bool
	Node   string
	Point  Point
	Region Rect
}

// AutoTarget returns the default target: boolean true, meaning the position
// recognized by the node itself.
func AutoTarget() Target { return Target{Kind: TargetAuto, Auto: true} }

// NodeTarget returns a target referencing another node's recognized box.
func NodeTarget(name string) Target { return Target{Kind: TargetNode, Node: name} }

// PointTarget returns a literal point target.
func PointTarget(x, y int32) Target {
	return Target{Kind: TargetPoint, Point: Point{X: x, Y: y}}
}

// RegionTarget returns a literal rectangle target.
func RegionTarget(x, y, w, h int32) Target {
	return Target{Kind: TargetRegion, Region: Rect{X: x, Y: y, W: w, H: h}}
}

// fullScreenROI is the default ROI: the zero rectangle, meaning full screen.
func fullScreenROI() Target { return Target{Kind: TargetRegion} }

func (t Target) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case TargetAuto:
		return json.Marshal(t.Auto)
	case TargetNode:
		return json.Marshal(t.Node)
	case TargetPoint:
		return json.Marshal(t.Point)
	case TargetRegion:
		return json.Marshal(t.Region)
	default:
		return nil, fmt.Errorf("target: unknown kind %d", t.Kind)
	}
}

func (t *Target) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*t = Target{Kind: TargetAuto, Auto: b}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Target{Kind: TargetNode, Node: s}
		return nil
	}
	var vals []int32
	if err := json.Unmarshal(data, &vals); err == nil {
		switch len(vals) {
		case 2:
			*t = Target{Kind: TargetPoint, Point: Point{X: vals[0], Y: vals[1]}}
			return nil
		case 4:
			*t = Target{Kind: TargetRegion, Region: Rect{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}}
			return nil
		}
		return fmt.Errorf("target: expected 2 or 4 elements, got %d", len(vals))
	}
	return fmt.Errorf("target: expected bool, node name, [x, y] or [x, y, w, h]")
}
