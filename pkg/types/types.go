package types

import (
	"fmt"
	"image"
	"math"
)

// Raw focus coordinates are stored in [-100, 100] per axis, 0 being the image center.
const (
	FocusMin = -100
	FocusMax = 100
)

// AspectRatio is a parsed "<width>:<height>" ratio. It is not reduced.
type AspectRatio struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r AspectRatio) String() string {
	return fmt.Sprintf("%d:%d", r.Width, r.Height)
}

// Dimensions are pixel dimensions of a source image or a crop box
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both sides are positive
func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// FocusPoint is the raw stored focus point. X grows to the right, Y grows upwards.
type FocusPoint struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// PositivePercentage is a focus point mapped to [0, 100] per axis, where 0 aligns
// the crop box to the left/top edge and 100 to the right/bottom edge.
type PositivePercentage struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Positive converts the raw focus point to positive percentages.
//
//	px = (x + 100) / 2
//	py = (100 - y) / 2
//
// The vertical axis is inverted: the stored Y grows upwards while pixel rows grow
// downwards. Changing either formula moves every generated crop.
func (p FocusPoint) Positive() PositivePercentage {
	x := clampInt(p.X, FocusMin, FocusMax)
	y := clampInt(p.Y, FocusMin, FocusMax)
	return PositivePercentage{
		X: float64(x+100) / 2,
		Y: float64(100-y) / 2,
	}
}

// FocusPointFromCenter converts a normalized center (cx, cy in [0,1], origin top-left)
// into a raw focus point. It is the inverse of Positive.
func FocusPointFromCenter(cx, cy float64) FocusPoint {
	return FocusPoint{
		X: clampInt(int(math.Round(cx*200-100)), FocusMin, FocusMax),
		Y: clampInt(int(math.Round(100-cy*200)), FocusMin, FocusMax),
	}
}

// CropOrientation tells which axis carries the positional slack
type CropOrientation int

const (
	// CropLandscape means the source is wider than the box: horizontal slack.
	CropLandscape CropOrientation = iota
	// CropPortrait means the source is taller than the box: vertical slack.
	CropPortrait
)

func (o CropOrientation) String() string {
	switch o {
	case CropLandscape:
		return "landscape"
	case CropPortrait:
		return "portrait"
	default:
		return fmt.Sprintf("orientation(%d)", int(o))
	}
}

// MarshalText encodes the orientation by name
func (o CropOrientation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// CropRectangle is the region to extract, in source pixels
type CropRectangle struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Size returns the crop box dimensions
func (r CropRectangle) Size() Dimensions {
	return Dimensions{Width: r.Width, Height: r.Height}
}

// Rect returns the rectangle as an image.Rectangle
func (r CropRectangle) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Within reports whether the rectangle lies inside an image of the given dimensions
func (r CropRectangle) Within(d Dimensions) bool {
	return r.X >= 0 && r.Y >= 0 && r.Width > 0 && r.Height > 0 &&
		r.X+r.Width <= d.Width && r.Y+r.Height <= d.Height
}

// Geometry renders the rectangle as a "{w}x{h}+{x}+{y}" crop geometry
func (r CropRectangle) Geometry() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}

func (r CropRectangle) String() string {
	return r.Geometry()
}

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Primary represents the primary subject reported by a vision model
type Primary struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
	Cx         float64 `json:"cx"`
	Cy         float64 `json:"cy"`
}

// AnalysisResult is the JSON document a vision model returns for a focus query
type AnalysisResult struct {
	Primary     Primary  `json:"primary"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
