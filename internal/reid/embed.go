// Package reid implements the Re-ID subsystem of the counting engine
// (spec §4.4): a bounded, LRU-evicted gallery of appearance embeddings
// used to suppress double-counting when a tracked person disappears and
// reappears under a new track_id.
package reid

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
)

// Dimension is the embedding vector length (D in spec §3/§4.4).
const Dimension = 3*8 + 8 + 1 // 3 vertical-thirds HSV histograms (8 bins) + gradient histogram (8 bins) + aspect ratio

// Embedder computes a deterministic, unit-norm appearance vector for a
// person patch. The contract (spec §4.4) is abstract; Embedder is the
// seam a deployment can swap for a learned model without touching the
// gallery or the counting engine.
type Embedder interface {
	Embed(patch []byte) ([]float64, error)
}

// HistogramEmbedder is the reference implementation described in spec
// §4.4: a normalized HSV color histogram over three vertical thirds of
// the patch (upper/middle/lower clothing regions), a coarse
// gradient-orientation histogram, and the aspect ratio, concatenated and
// L2-normalized. It is a short-horizon heuristic, not biometric
// identification — see spec §1, Explicit non-goals.
type HistogramEmbedder struct{}

func (HistogramEmbedder) Embed(patch []byte) ([]float64, error) {
	img, _, err := image.Decode(bytes.NewReader(patch))
	if err != nil {
		return nil, err
	}

	vec := make([]float64, 0, Dimension)
	vec = append(vec, thirdsHistograms(img)...)
	vec = append(vec, gradientHistogram(img)...)
	vec = append(vec, aspectRatio(img))

	return normalize(vec), nil
}

const hueBins = 8

// thirdsHistograms splits the patch into upper/middle/lower vertical
// thirds and returns a normalized hue histogram for each.
func thirdsHistograms(img image.Image) []float64 {
	b := img.Bounds()
	h := b.Dy()
	if h == 0 {
		return make([]float64, 3*hueBins)
	}
	thirdHeight := h / 3

	out := make([]float64, 0, 3*hueBins)
	for third := 0; third < 3; third++ {
		y0 := b.Min.Y + third*thirdHeight
		y1 := y0 + thirdHeight
		if third == 2 {
			y1 = b.Max.Y
		}
		out = append(out, hueHistogram(img, b.Min.X, y0, b.Max.X, y1)...)
	}
	return out
}

func hueHistogram(img image.Image, x0, y0, x1, y1 int) []float64 {
	hist := make([]float64, hueBins)
	var total float64
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			r, g, bch, _ := img.At(x, y).RGBA()
			h, _, _ := rgbToHSV(float64(r)/65535, float64(g)/65535, float64(bch)/65535)
			bin := int(h / (360.0 / hueBins))
			if bin >= hueBins {
				bin = hueBins - 1
			}
			if bin < 0 {
				bin = 0
			}
			hist[bin]++
			total++
		}
	}
	if total > 0 {
		for i := range hist {
			hist[i] /= total
		}
	}
	return hist
}

func rgbToHSV(r, g, b float64) (h, s, v float64) {
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	v = max
	d := max - min
	if max == 0 {
		s = 0
	} else {
		s = d / max
	}
	if d == 0 {
		h = 0
		return
	}
	switch max {
	case r:
		h = math.Mod((g-b)/d, 6)
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	h *= 60
	if h < 0 {
		h += 360
	}
	return
}

const gradientBins = 8

// gradientHistogram is a coarse gradient-orientation histogram over
// luminance, computed with a simple Sobel-like finite difference.
func gradientHistogram(img image.Image) []float64 {
	b := img.Bounds()
	hist := make([]float64, gradientBins)
	var total float64

	lum := func(x, y int) float64 {
		r, g, bch, _ := img.At(x, y).RGBA()
		return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bch)
	}

	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			gx := lum(x+1, y) - lum(x-1, y)
			gy := lum(x, y+1) - lum(x, y-1)
			angle := math.Atan2(gy, gx)*180/math.Pi + 180 // [0,360]
			bin := int(angle / (360.0 / gradientBins))
			if bin >= gradientBins {
				bin = gradientBins - 1
			}
			hist[bin]++
			total++
		}
	}
	if total > 0 {
		for i := range hist {
			hist[i] /= total
		}
	}
	return hist
}

func aspectRatio(img image.Image) float64 {
	b := img.Bounds()
	if b.Dy() == 0 {
		return 0
	}
	return float64(b.Dx()) / float64(b.Dy())
}

func normalize(v []float64) []float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// CosineSimilarity assumes both vectors are unit-norm, so this is a plain
// dot product (spec §3, "Embeddings are unit-norm vectors so that cosine
// similarity equals dot product").
func CosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	return dot
}
