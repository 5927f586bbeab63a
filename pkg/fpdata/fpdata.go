// Package fpdata resolves the "fp:" template values derived from a stored
// focus point, for renderers that position content by hand.
package fpdata

import (
	"math"
	"strconv"
	"strings"

	"github.com/menta2k/focuspoint/pkg/types"
)

// Prefix is the optional namespace of a key
const Prefix = "fp:"

// Source is the image a value is resolved for
type Source struct {
	Focus      types.FocusPoint
	Dimensions types.Dimensions
}

// Value is a resolved number
type Value struct {
	Number  float64
	Integer bool
}

func (v Value) String() string {
	if v.Integer {
		return strconv.FormatInt(int64(v.Number), 10)
	}
	return strconv.FormatFloat(v.Number, 'f', -1, 64)
}

// Keys lists the supported keys, without prefix
func Keys() []string {
	return []string{"x", "y", "xp", "yp", "xp_positive", "yp_positive", "w", "h"}
}

// Resolve returns the value of key for src. Unknown keys, and w/h without
// known dimensions, are not ok.
func Resolve(key string, src Source) (Value, bool) {
	key = strings.TrimPrefix(strings.TrimSpace(key), Prefix)
	x, y := float64(src.Focus.X), float64(src.Focus.Y)

	switch key {
	case "x":
		return Value{Number: x / 100}, true
	case "y":
		return Value{Number: y / 100}, true
	case "xp":
		return Value{Number: x}, true
	case "yp":
		return Value{Number: y}, true
	case "xp_positive":
		return Value{Number: math.Trunc(math.Abs(x+100) / 2), Integer: true}, true
	case "yp_positive":
		return Value{Number: math.Trunc(math.Abs(y-100) / 2), Integer: true}, true
	case "w", "h":
		if !src.Dimensions.Valid() {
			return Value{}, false
		}
		n := src.Dimensions.Width
		if key == "h" {
			n = src.Dimensions.Height
		}
		return Value{Number: float64(n), Integer: true}, true
	}
	return Value{}, false
}
