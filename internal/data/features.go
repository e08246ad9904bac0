package data

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/pkg/errors"
)

const featureGrid = 16

// FeatureSize is the length of the feature vector produced for every
// decoded image.
const FeatureSize = featureGrid * featureGrid

// ExtractFeatures decodes raw image bytes and samples them down to a
// fixed grid of grayscale intensities in [0,1].
func ExtractFeatures(raw []byte) ([]float64, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errors.New("data: empty image")
	}
	features := make([]float64, FeatureSize)
	stepX := float64(width) / float64(featureGrid)
	stepY := float64(height) / float64(featureGrid)
	for gy := 0; gy < featureGrid; gy++ {
		for gx := 0; gx < featureGrid; gx++ {
			px := bounds.Min.X + int(math.Min(float64(width-1), float64(gx)*stepX))
			py := bounds.Min.Y + int(math.Min(float64(height-1), float64(gy)*stepY))
			r, g, b, _ := img.At(px, py).RGBA()
			intensity := (float64(r) + float64(g) + float64(b)) / (3 * 65535.0)
			features[gy*featureGrid+gx] = intensity
		}
	}
	return features, nil
}

// OneHot encodes label as a one-hot row of numClasses entries.
// Out-of-range labels are folded into range.
func OneHot(label, numClasses int) []float64 {
	label %= numClasses
	if label < 0 {
		label += numClasses
	}
	row := make([]float64, numClasses)
	row[label] = 1
	return row
}
