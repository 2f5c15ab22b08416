package core

import (
	"errors"
	"strings"
)

var ErrInvalidRatio = errors.New("invalid aspect ratio")

type AspectRatio struct {
	Label  string
	Width  int
	Height int
}

var ratios = []AspectRatio{
	{Label: "1:1", Width: 512, Height: 512},
	{Label: "16:9", Width: 640, Height: 360},
	{Label: "9:16", Width: 360, Height: 640},
	{Label: "4:3", Width: 512, Height: 384},
	{Label: "3:4", Width: 384, Height: 512},
}

// DefaultRatio is the square ratio new users start with.
func DefaultRatio() AspectRatio {
	return ratios[0]
}

// Ratios returns a copy of the supported ratios in display order.
func Ratios() []AspectRatio {
	out := make([]AspectRatio, len(ratios))
	copy(out, ratios)
	return out
}

// ParseRatio looks up a ratio by its exact label.
func ParseRatio(text string) (AspectRatio, bool) {
	for _, r := range ratios {
		if r.Label == text {
			return r, true
		}
	}
	return AspectRatio{}, false
}

func RatioLabels() string {
	labels := make([]string, 0, len(ratios))
	for _, r := range ratios {
		labels = append(labels, r.Label)
	}
	return strings.Join(labels, ", ")
}
