package domain

import "time"

// Candle is one OHLCV bar. Windows are ordered oldest first; the last
// element is the most recent (possibly still-forming) bar.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Window is an ordered series of candles with the column extractors the
// indicator layer needs.
type Window []Candle

// Closes returns the close column.
func (w Window) Closes() []float64 {
	out := make([]float64, len(w))
	for i, c := range w {
		out[i] = c.Close
	}
	return out
}

// Highs returns the high column.
func (w Window) Highs() []float64 {
	out := make([]float64, len(w))
	for i, c := range w {
		out[i] = c.High
	}
	return out
}

// Lows returns the low column.
func (w Window) Lows() []float64 {
	out := make([]float64, len(w))
	for i, c := range w {
		out[i] = c.Low
	}
	return out
}

// Volumes returns the volume column.
func (w Window) Volumes() []float64 {
	out := make([]float64, len(w))
	for i, c := range w {
		out[i] = c.Volume
	}
	return out
}

// DropLast returns the window without its most recent candle. Crossover
// signals re-evaluate on this to detect a transition between consecutive
// bars.
func (w Window) DropLast() Window {
	if len(w) == 0 {
		return w
	}
	return w[:len(w)-1]
}

// LastClose returns the most recent close, or 0 for an empty window.
func (w Window) LastClose() float64 {
	if len(w) == 0 {
		return 0
	}
	return w[len(w)-1].Close
}
