package exchange

import (
	"math"
	"strconv"
	"strings"
)

// FloorToStep rounds qty down to a multiple of step. Rounding down never
// oversizes an order; re-rounding an already aligned value is a no-op.
func FloorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	// Work in step units with a small epsilon so values that are already
	// exact multiples do not lose a whole step to float error.
	units := math.Floor(qty/step + 1e-9)
	return roundFloat(units * step)
}

// FloorToTick rounds price down to a multiple of tick.
func FloorToTick(price, tick float64) float64 {
	return FloorToStep(price, tick)
}

// FormatDecimal renders v with eight decimal places and strips trailing
// zeros and a dangling point, the form every venue accepts.
func FormatDecimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', 8, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// roundFloat suppresses the binary representation noise introduced by the
// division and multiplication in FloorToStep.
func roundFloat(v float64) float64 {
	return math.Round(v*1e10) / 1e10
}
