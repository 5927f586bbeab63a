// Package geometry computes focus-point-aware crop rectangles.
//
// The computation runs in three steps: the ratio string is parsed, the largest
// box of that ratio fitting the source is sized, and the box is slid along the
// axis with slack so the focus point stays visible. All functions are pure and
// safe for concurrent use.
package geometry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/menta2k/focuspoint/pkg/types"
)

var (
	// ErrInvalidRatioFormat is returned for ratio strings that are not "<int>:<int>"
	ErrInvalidRatioFormat = errors.New(`ratio have to be in the format of e.g. "1:1" or "16:9"`)
	// ErrInvalidDimensions is returned for non-positive sizes or a box that does not fit its source
	ErrInvalidDimensions = errors.New("invalid dimensions")
)

// ParseRatio parses "<width>:<height>" into an AspectRatio. Both parts must be
// positive base-10 integers.
func ParseRatio(s string) (types.AspectRatio, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return types.AspectRatio{}, fmt.Errorf("%w, got %q", ErrInvalidRatioFormat, s)
	}

	var values [2]int
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n <= 0 {
			return types.AspectRatio{}, fmt.Errorf("%w, got %q", ErrInvalidRatioFormat, s)
		}
		values[i] = n
	}

	return types.AspectRatio{Width: values[0], Height: values[1]}, nil
}

// FocusBox returns the largest box of the given ratio that fits inside src.
//
// The width-constrained candidate (bw=W, bh=W*rh/rw) is used when it fits,
// otherwise the height-constrained one (bh=H, bw=H*rw/rh). Division truncates
// toward zero, so the derived side is never rounded past the source edge.
func FocusBox(src types.Dimensions, ratio types.AspectRatio) (types.Dimensions, error) {
	if !src.Valid() {
		return types.Dimensions{}, fmt.Errorf("%w: source %s", ErrInvalidDimensions, src)
	}
	if ratio.Width <= 0 || ratio.Height <= 0 {
		return types.Dimensions{}, fmt.Errorf("%w: ratio %s", ErrInvalidDimensions, ratio)
	}

	W, H := int64(src.Width), int64(src.Height)
	rw, rh := int64(ratio.Width), int64(ratio.Height)

	box := types.Dimensions{Width: src.Width, Height: int(W * rh / rw)}
	if int64(box.Height) > H {
		box = types.Dimensions{Width: int(H * rw / rh), Height: src.Height}
	}

	if !box.Valid() {
		return types.Dimensions{}, fmt.Errorf("%w: no %s box fits into %s", ErrInvalidDimensions, ratio, src)
	}
	return box, nil
}

// Orientation derives the crop orientation from where the slack lies. A box
// that fills the source exactly is reported as landscape.
func Orientation(src, box types.Dimensions) types.CropOrientation {
	if src.Height-box.Height > src.Width-box.Width {
		return types.CropPortrait
	}
	return types.CropLandscape
}

// SourcePosition returns the top-left offset of box inside src for the given
// focus percentages.
//
// The same formula is applied to both axes, sourceX = round(slackX*px/100),
// clamped to [0, slackX]. The orientation is not used by the arithmetic; it is
// validated against the slack so callers passing a stale tag find out.
func SourcePosition(orientation types.CropOrientation, src, box types.Dimensions, focus types.PositivePercentage) (x, y int, err error) {
	if !src.Valid() || !box.Valid() {
		return 0, 0, fmt.Errorf("%w: source %s, box %s", ErrInvalidDimensions, src, box)
	}
	if box.Width > src.Width || box.Height > src.Height {
		return 0, 0, fmt.Errorf("%w: box %s larger than source %s", ErrInvalidDimensions, box, src)
	}
	if orientation != types.CropLandscape && orientation != types.CropPortrait {
		return 0, 0, fmt.Errorf("%w: unknown crop orientation %s", ErrInvalidDimensions, orientation)
	}

	slackX := src.Width - box.Width
	slackY := src.Height - box.Height

	return offset(slackX, focus.X), offset(slackY, focus.Y), nil
}

func offset(slack int, percent float64) int {
	if slack == 0 {
		return 0
	}
	v := int(math.Round(float64(slack) * percent / 100))
	if v < 0 {
		return 0
	}
	if v > slack {
		return slack
	}
	return v
}

// ComputeCrop parses ratio, sizes the focus box for a width x height source and
// positions it around the raw focus point (each axis in [-100, 100]).
func ComputeCrop(width, height int, ratio string, rawX, rawY int) (types.CropRectangle, error) {
	r, err := ParseRatio(ratio)
	if err != nil {
		return types.CropRectangle{}, err
	}
	return Compute(types.Dimensions{Width: width, Height: height}, r, types.FocusPoint{X: rawX, Y: rawY})
}

// Compute is ComputeCrop for already parsed values
func Compute(src types.Dimensions, ratio types.AspectRatio, focus types.FocusPoint) (types.CropRectangle, error) {
	box, err := FocusBox(src, ratio)
	if err != nil {
		return types.CropRectangle{}, err
	}

	x, y, err := SourcePosition(Orientation(src, box), src, box, focus.Positive())
	if err != nil {
		return types.CropRectangle{}, err
	}

	return types.CropRectangle{X: x, Y: y, Width: box.Width, Height: box.Height}, nil
}
