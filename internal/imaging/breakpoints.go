package imaging

import (
	"math"
	"slices"
)

// Breakpoints returns the sorted, distinct derivative widths for a source of
// sourceWidth pixels. Each ratio is applied to maxWidth; widths wider than
// the source are dropped and replaced by the source width itself, so no
// derivative is ever upscaled.
func Breakpoints(ratios []float64, maxWidth, sourceWidth int) []int {
	if maxWidth <= 0 || sourceWidth <= 0 {
		return nil
	}
	var out []int
	dropped := false
	for _, r := range ratios {
		w := int(math.Round(r * float64(maxWidth)))
		if w < 1 {
			continue
		}
		if w > sourceWidth {
			dropped = true
			continue
		}
		out = append(out, w)
	}
	if dropped || len(out) == 0 {
		out = append(out, sourceWidth)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// PresentationWidth is the width an image is displayed at.
func PresentationWidth(maxWidth, sourceWidth int) int {
	return min(maxWidth, sourceWidth)
}

// scaledHeight keeps the source aspect ratio for width w.
func scaledHeight(w, srcW, srcH int) int {
	if srcW <= 0 {
		return 0
	}
	return max(1, int(math.Round(float64(w)*float64(srcH)/float64(srcW))))
}
