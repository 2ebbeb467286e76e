package trfb

import "math"

// paletteLevels holds the six evenly spaced intensity levels a 6x6x6
// color cube uses per channel.
var paletteLevels = [6]byte{0, 51, 102, 153, 204, 255}

// paletteColor looks up the 216-entry 6x6x6 palette entry for idx
// (0..215), returning the logical (r, g, b) it represents. The index
// is r6*36 + g6*6 + b6, each of r6/g6/b6 in 0..5.
func paletteColor(idx int) (r, g, b byte) {
	idx &= 0xFF
	if idx > 215 {
		idx = 215
	}
	r6 := idx / 36
	g6 := (idx / 6) % 6
	b6 := idx % 6
	return paletteLevels[r6], paletteLevels[g6], paletteLevels[b6]
}

// paletteIndex reverse-quantizes an (r, g, b) color to its nearest
// 6x6x6 palette entry: r6 = round(r*5/255), etc.
func paletteIndex(r, g, b byte) int {
	r6 := quantizeLevel(r)
	g6 := quantizeLevel(g)
	b6 := quantizeLevel(b)
	return r6*36 + g6*6 + b6
}

func quantizeLevel(v byte) int {
	level := int(math.Round(float64(v) * 5 / 255))
	if level < 0 {
		level = 0
	}
	if level > 5 {
		level = 5
	}
	return level
}
