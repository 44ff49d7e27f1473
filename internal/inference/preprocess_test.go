package inference

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/greenstack/leafserve/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpec() model.InputSpec {
	return model.InputSpec{
		Size: 224,
		Mean: [3]float64{0.485, 0.456, 0.406},
		Std:  [3]float64{0.229, 0.224, 0.225},
	}
}

// solidPNG renders a single-color image of the given size
func solidPNG(t *testing.T, c color.RGBA, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPreprocess_ShapeAndNormalization(t *testing.T) {
	spec := testSpec()
	raw := solidPNG(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, 320, 240)

	tensor, err := Preprocess(raw, spec)
	require.NoError(t, err)
	assert.Equal(t, 3, tensor.Channels)
	assert.Equal(t, 224, tensor.Size)
	assert.Len(t, tensor.Data, 3*224*224)

	// white pixel normalizes to (1 - mean) / std per channel
	assert.InDelta(t, (1.0-spec.Mean[0])/spec.Std[0], tensor.At(0, 100, 100), 0.01)
	assert.InDelta(t, (1.0-spec.Mean[1])/spec.Std[1], tensor.At(1, 100, 100), 0.01)
	assert.InDelta(t, (1.0-spec.Mean[2])/spec.Std[2], tensor.At(2, 100, 100), 0.01)
}

func TestPreprocess_SmallImageUpscaled(t *testing.T) {
	tensor, err := Preprocess(solidPNG(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, 32, 16), testSpec())
	require.NoError(t, err)
	assert.Equal(t, 224, tensor.Size)
}

func TestPreprocess_InvalidInput(t *testing.T) {
	t.Run("EmptyPayload", func(t *testing.T) {
		_, err := Preprocess(nil, testSpec())
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("NotAnImage", func(t *testing.T) {
		_, err := Preprocess([]byte("definitely not a png"), testSpec())
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("TruncatedPNG", func(t *testing.T) {
		raw := solidPNG(t, color.RGBA{A: 255}, 64, 64)
		_, err := Preprocess(raw[:20], testSpec())
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestPooledFeatures_SolidColor(t *testing.T) {
	raw := solidPNG(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, 256, 256)
	tensor, err := Preprocess(raw, testSpec())
	require.NoError(t, err)

	features := PooledFeatures(tensor)
	require.Len(t, features, 6)

	// solid color: channel std is ~0, mean matches the normalized value
	spec := testSpec()
	assert.InDelta(t, (1.0-spec.Mean[0])/spec.Std[0], features[0], 0.01)
	assert.InDelta(t, 0.0, features[3], 0.01)
	assert.InDelta(t, 0.0, features[4], 0.01)
	assert.InDelta(t, 0.0, features[5], 0.01)
}
