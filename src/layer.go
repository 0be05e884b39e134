package img2img

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Layer is the base interface for everything that can be placed in a
// Sequential. Shapes passed to build exclude the batch dimension.
//
// backward accumulates parameter gradients into each parameter's Grad
// buffer; callers clear them with ZeroGrad between steps.
type Layer interface {
	build(inputShape []int, rng *rand.Rand) error
	forward(input *Tensor, training bool) (*Tensor, error)
	backward(gradOutput *Tensor) (*Tensor, error)
	parameters() []*Tensor
	state(prefix string) []namedTensor
	outputShape() []int
	name() string
}

// namedTensor is one entry of a state dict. Buffers are saved and restored
// but never handed to an optimizer.
type namedTensor struct {
	name   string
	tensor *Tensor
	buffer bool
}

func joinName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// IdentityLayer passes its input through unchanged.
type IdentityLayer struct {
	inputShape []int
}

// Identity returns a no-op layer
func Identity() Layer { return &IdentityLayer{} }

func (l *IdentityLayer) build(inputShape []int, rng *rand.Rand) error {
	l.inputShape = inputShape
	return nil
}

func (l *IdentityLayer) forward(input *Tensor, training bool) (*Tensor, error) {
	return input, nil
}

func (l *IdentityLayer) backward(gradOutput *Tensor) (*Tensor, error) {
	return gradOutput, nil
}

func (l *IdentityLayer) parameters() []*Tensor             { return nil }
func (l *IdentityLayer) state(prefix string) []namedTensor { return nil }
func (l *IdentityLayer) outputShape() []int                { return l.inputShape }
func (l *IdentityLayer) name() string                      { return "identity" }

// DropoutLayer - randomly zeros elements during training
type DropoutLayer struct {
	rate       float64
	mask       *Tensor
	rng        *rand.Rand
	inputShape []int
}

// Dropout returns an inverted-dropout layer. A rate of 0 is a no-op.
func Dropout(rate float64) Layer {
	return &DropoutLayer{rate: rate}
}

func (d *DropoutLayer) build(inputShape []int, rng *rand.Rand) error {
	if d.rate < 0 || d.rate >= 1 {
		return errors.New("img2img: dropout rate must be in [0, 1)")
	}
	d.rng = rng
	d.inputShape = inputShape
	return nil
}

func (d *DropoutLayer) forward(input *Tensor, training bool) (*Tensor, error) {
	if !training || d.rate == 0 {
		d.mask = nil
		return input, nil
	}

	output := NewTensor(input.shape...)
	d.mask = NewTensor(input.shape...)

	scale := 1.0 / (1.0 - d.rate)
	for i := range input.data {
		if d.rng.Float64() >= d.rate {
			d.mask.data[i] = scale
			output.data[i] = input.data[i] * scale
		}
	}
	return output, nil
}

func (d *DropoutLayer) backward(gradOutput *Tensor) (*Tensor, error) {
	if d.mask == nil {
		return gradOutput, nil
	}
	gradInput := NewTensor(gradOutput.shape...)
	for i := range gradOutput.data {
		gradInput.data[i] = gradOutput.data[i] * d.mask.data[i]
	}
	return gradInput, nil
}

func (d *DropoutLayer) parameters() []*Tensor             { return nil }
func (d *DropoutLayer) state(prefix string) []namedTensor { return nil }
func (d *DropoutLayer) outputShape() []int                { return d.inputShape }
func (d *DropoutLayer) name() string                      { return "dropout" }
