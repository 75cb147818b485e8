// Package crossfade turns a crossfader position into the gains of the left and right decks.
package crossfade

import (
	"fmt"
	"math"
	"strings"

	"github.com/fogleman/ease"
	"github.com/robmorgan/halodeck/utils"
)

// Center is the crossfader position where both decks are heard.
const Center = 0.5

// Curve shapes how the crossfader splits the signal between the decks.
type Curve string

const (
	// EqualPower keeps the summed power constant across the throw.
	EqualPower Curve = "equal-power"
	Linear     Curve = "linear"
	// Smooth eases in and out of both ends of the throw.
	Smooth Curve = "smooth"
)

var curves = map[Curve]func(x float64) (float64, float64){
	EqualPower: func(x float64) (float64, float64) {
		return math.Cos(x * math.Pi / 2), math.Cos((1 - x) * math.Pi / 2)
	},
	Linear: func(x float64) (float64, float64) {
		return 1 - x, x
	},
	Smooth: func(x float64) (float64, float64) {
		return ease.InOutQuad(1 - x), ease.InOutQuad(x)
	},
}

// ParseCurve returns the curve with the given name, ignoring case.
func ParseCurve(name string) (Curve, error) {
	c := Curve(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := curves[c]; !ok {
		return "", fmt.Errorf("unknown crossfader curve %q", name)
	}
	return c, nil
}

// Gains returns the left and right gains for position, 0 being fully left and 1 fully right.
// Positions outside [0,1] are clamped, NaN is treated as the center. Unknown curves fall back to EqualPower.
func (c Curve) Gains(position float64) (left, right float64) {
	if math.IsNaN(position) {
		position = Center
	}
	position = utils.Clamp(position, 0, 1)

	fn, ok := curves[c]
	if !ok {
		fn = curves[EqualPower]
	}
	left, right = fn(position)
	// cos(pi/2) is not exactly zero
	return utils.RoundTo(left, 12), utils.RoundTo(right, 12)
}

func (c Curve) String() string {
	return string(c)
}
