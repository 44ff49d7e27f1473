package inference

import (
	"bytes"
	"fmt"
	"image"
	"math"

	// registered decoders for the formats the API accepts
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/greenstack/leafserve/internal/model"
)

// Tensor is a normalized CHW float tensor produced by preprocessing
type Tensor struct {
	Channels int
	Size     int
	Data     []float64 // channel-major, Channels*Size*Size values
}

// At returns the value at (channel, y, x)
func (t *Tensor) At(c, y, x int) float64 {
	return t.Data[c*t.Size*t.Size+y*t.Size+x]
}

// Preprocess decodes an image, scales its shorter side, center-crops to the
// spec's dimensions and normalizes channel-wise with the spec's constants.
func Preprocess(raw []byte, spec model.InputSpec) (*Tensor, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidInput)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", ErrInvalidInput, err)
	}

	// shorter side to size*8/7 (224 -> 256), then center-crop
	resizeTarget := spec.Size + spec.Size/7
	scaled := scaleShorterSide(img, resizeTarget)
	cropped := centerCrop(scaled, spec.Size)

	t := &Tensor{
		Channels: 3,
		Size:     spec.Size,
		Data:     make([]float64, 3*spec.Size*spec.Size),
	}

	plane := spec.Size * spec.Size
	for y := 0; y < spec.Size; y++ {
		for x := 0; x < spec.Size; x++ {
			r, g, b, _ := cropped.At(cropped.Bounds().Min.X+x, cropped.Bounds().Min.Y+y).RGBA()
			idx := y*spec.Size + x
			t.Data[idx] = (float64(r)/65535.0 - spec.Mean[0]) / spec.Std[0]
			t.Data[plane+idx] = (float64(g)/65535.0 - spec.Mean[1]) / spec.Std[1]
			t.Data[2*plane+idx] = (float64(b)/65535.0 - spec.Mean[2]) / spec.Std[2]
		}
	}

	return t, nil
}

// PooledFeatures reduces a tensor to per-channel mean and standard deviation,
// the feature vector the classifier head was trained against.
func PooledFeatures(t *Tensor) []float64 {
	plane := t.Size * t.Size
	features := make([]float64, 2*t.Channels)

	for c := 0; c < t.Channels; c++ {
		var sum float64
		for i := 0; i < plane; i++ {
			sum += t.Data[c*plane+i]
		}
		mean := sum / float64(plane)

		var variance float64
		for i := 0; i < plane; i++ {
			d := t.Data[c*plane+i] - mean
			variance += d * d
		}

		features[c] = mean
		features[t.Channels+c] = math.Sqrt(variance / float64(plane))
	}

	return features
}

func scaleShorterSide(img image.Image, target int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return img
	}

	var newW, newH int
	if w < h {
		newW = target
		newH = h * target / w
	} else {
		newH = target
		newW = w * target / h
	}
	if newW == w && newH == h {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}

func centerCrop(img image.Image, size int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < size || h < size {
		// image smaller than the crop: scale it straight up to size
		dst := image.NewRGBA(image.Rect(0, 0, size, size))
		draw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
		return dst
	}

	x0 := bounds.Min.X + (w-size)/2
	y0 := bounds.Min.Y + (h-size)/2
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), img, image.Pt(x0, y0), draw.Src)
	return dst
}
