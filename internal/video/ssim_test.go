// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package video

import "math"

// graySSIM computes the mean Structural Similarity Index over 8x8 windows
// of two equally-sized GRAY8 images. Used by the lossy round-trip tests.
func graySSIM(a, b []byte, width, height int) float64 {
	const (
		c1 = 6.5025  // (0.01*255)^2
		c2 = 58.5225 // (0.03*255)^2
		win = 8
	)
	var total float64
	var windows int
	for y := 0; y+win <= height; y += win {
		for x := 0; x+win <= width; x += win {
			var sumA, sumB, sumAA, sumBB, sumAB float64
			for dy := 0; dy < win; dy++ {
				row := (y + dy) * width
				for dx := 0; dx < win; dx++ {
					pa := float64(a[row+x+dx])
					pb := float64(b[row+x+dx])
					sumA += pa
					sumB += pb
					sumAA += pa * pa
					sumBB += pb * pb
					sumAB += pa * pb
				}
			}
			n := float64(win * win)
			muA := sumA / n
			muB := sumB / n
			varA := sumAA/n - muA*muA
			varB := sumBB/n - muB*muB
			cov := sumAB/n - muA*muB
			total += ((2*muA*muB + c1) * (2*cov + c2)) /
				((muA*muA + muB*muB + c1) * (varA + varB + c2))
			windows++
		}
	}
	if windows == 0 {
		return math.NaN()
	}
	return total / float64(windows)
}
