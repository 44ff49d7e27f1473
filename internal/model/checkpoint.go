// Package model defines the checkpoint wire format and the runnable
// classifier it deserializes into: a linear head over pooled image features,
// the serving-side shape of a frozen extractor plus a small trained head.
package model

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// checkpoint layout: magic, uint32 LE header length, JSON header,
// row-major float32 LE weights (classes x feature_dim), float32 LE bias.
var checkpointMagic = []byte("LFC1")

const maxHeaderSize = 1 << 20

// ErrInvalidCheckpoint indicates bytes that are not a parseable checkpoint
var ErrInvalidCheckpoint = errors.New("invalid checkpoint")

// SchemaMismatchError indicates the checkpoint's declared class labels do not
// line up with the weight matrix it carries.
type SchemaMismatchError struct {
	Classes int
	Rows    int
}

func (e SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: %d class names, %d output rows", e.Classes, e.Rows)
}

// InputSpec declares the spatial dimensions and per-channel normalization
// constants preprocessing must apply before the forward pass.
type InputSpec struct {
	Size int        `json:"size"`
	Mean [3]float64 `json:"mean"`
	Std  [3]float64 `json:"std"`
}

// Header is the JSON head of a checkpoint. NumClasses is the output width of
// the weight matrix and is declared independently of ClassNames; the model
// cache refuses to install a checkpoint where the two disagree.
type Header struct {
	Architecture string    `json:"architecture"`
	ClassNames   []string  `json:"class_names"`
	NumClasses   int       `json:"num_classes"`
	InputSpec    InputSpec `json:"input_spec"`
	FeatureDim   int       `json:"feature_dim"`
}

// Classifier is a deserialized, execution-ready model. Immutable after
// decode; safe for concurrent forward passes.
type Classifier struct {
	header  Header
	weights [][]float64 // classes x feature_dim
	bias    []float64
}

// Decode parses a checkpoint payload into a runnable classifier
func Decode(payload []byte) (*Classifier, error) {
	r := bytes.NewReader(payload)

	magic := make([]byte, len(checkpointMagic))
	if _, err := io.ReadFull(r, magic); err != nil || !bytes.Equal(magic, checkpointMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidCheckpoint)
	}

	var headerLen uint32
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("%w: truncated header length", ErrInvalidCheckpoint)
	}
	if headerLen == 0 || headerLen > maxHeaderSize {
		return nil, fmt.Errorf("%w: header length %d out of range", ErrInvalidCheckpoint, headerLen)
	}

	rawHeader := make([]byte, headerLen)
	if _, err := io.ReadFull(r, rawHeader); err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrInvalidCheckpoint)
	}

	var header Header
	if err := json.Unmarshal(rawHeader, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCheckpoint, err)
	}
	if header.FeatureDim <= 0 {
		return nil, fmt.Errorf("%w: feature_dim %d", ErrInvalidCheckpoint, header.FeatureDim)
	}
	if len(header.ClassNames) == 0 {
		return nil, fmt.Errorf("%w: no class names", ErrInvalidCheckpoint)
	}
	if header.NumClasses <= 0 {
		return nil, fmt.Errorf("%w: num_classes %d", ErrInvalidCheckpoint, header.NumClasses)
	}
	if header.InputSpec.Size <= 0 {
		return nil, fmt.Errorf("%w: input size %d", ErrInvalidCheckpoint, header.InputSpec.Size)
	}

	// The weight section must hold exactly classes x (feature_dim + 1)
	// float32s. Checked by division against the remaining bytes, so header
	// fields never size an allocation larger than the payload itself.
	classes := header.NumClasses
	if r.Len()%4 != 0 {
		return nil, fmt.Errorf("%w: weight section not float32-aligned", ErrInvalidCheckpoint)
	}
	floatCount := r.Len() / 4
	if floatCount%classes != 0 || floatCount/classes != header.FeatureDim+1 {
		return nil, fmt.Errorf("%w: weight section holds %d floats, want %d classes x %d features plus bias",
			ErrInvalidCheckpoint, floatCount, classes, header.FeatureDim)
	}

	floats := make([]float32, floatCount)
	if err := binary.Read(r, binary.LittleEndian, floats); err != nil {
		return nil, fmt.Errorf("%w: truncated weights", ErrInvalidCheckpoint)
	}

	weights := make([][]float64, classes)
	for i := 0; i < classes; i++ {
		row := make([]float64, header.FeatureDim)
		for j := 0; j < header.FeatureDim; j++ {
			row[j] = float64(floats[i*header.FeatureDim+j])
		}
		weights[i] = row
	}
	bias := make([]float64, classes)
	for i := 0; i < classes; i++ {
		bias[i] = float64(floats[classes*header.FeatureDim+i])
	}

	return &Classifier{header: header, weights: weights, bias: bias}, nil
}

// Encode serializes a classifier back into checkpoint bytes. Used by the
// upload tooling and by tests building synthetic checkpoints.
func Encode(header Header, weights [][]float64, bias []float64) ([]byte, error) {
	if header.NumClasses == 0 {
		header.NumClasses = len(weights)
	}
	if header.NumClasses != len(weights) {
		return nil, fmt.Errorf("num_classes %d does not match %d weight rows",
			header.NumClasses, len(weights))
	}
	if len(bias) != len(weights) {
		return nil, fmt.Errorf("bias length %d does not match %d rows", len(bias), len(weights))
	}
	for _, row := range weights {
		if len(row) != header.FeatureDim {
			return nil, fmt.Errorf("weight row length %d does not match feature_dim %d",
				len(row), header.FeatureDim)
		}
	}

	rawHeader, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(checkpointMagic)
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(rawHeader))); err != nil {
		return nil, fmt.Errorf("write header length: %w", err)
	}
	buf.Write(rawHeader)

	for _, row := range weights {
		for _, w := range row {
			if err := binary.Write(&buf, binary.LittleEndian, float32(w)); err != nil {
				return nil, fmt.Errorf("write weights: %w", err)
			}
		}
	}
	for _, b := range bias {
		if err := binary.Write(&buf, binary.LittleEndian, float32(b)); err != nil {
			return nil, fmt.Errorf("write bias: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// Header returns the checkpoint header
func (c *Classifier) Header() Header {
	return c.header
}

// ClassNames returns the ordered label list; index is the class index
func (c *Classifier) ClassNames() []string {
	return c.header.ClassNames
}

// NumClasses returns the model's output width
func (c *Classifier) NumClasses() int {
	return len(c.weights)
}

// InputSpec returns the preprocessing contract
func (c *Classifier) InputSpec() InputSpec {
	return c.header.InputSpec
}

// FeatureDim returns the expected feature vector length
func (c *Classifier) FeatureDim() int {
	return c.header.FeatureDim
}

// Forward computes class logits for a feature vector
func (c *Classifier) Forward(features []float64) ([]float64, error) {
	if len(features) != c.header.FeatureDim {
		return nil, fmt.Errorf("feature vector length %d, model expects %d",
			len(features), c.header.FeatureDim)
	}

	logits := make([]float64, len(c.weights))
	for i, row := range c.weights {
		sum := c.bias[i]
		for j, w := range row {
			sum += w * features[j]
		}
		logits[i] = sum
	}
	return logits, nil
}

// Softmax normalizes logits into a probability distribution
func Softmax(logits []float64) []float64 {
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		if l > maxLogit {
			maxLogit = l
		}
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(l - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
