package img2img

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// Activation represents an element-wise activation function
type Activation interface {
	forward(x *Tensor, out *Tensor)
	backward(x *Tensor, gradOut *Tensor, gradIn *Tensor)
	name() string
}

// ReLUActivation - Rectified Linear Unit
type ReLUActivation struct{}

func ReLU() Activation { return &ReLUActivation{} }

func (r *ReLUActivation) forward(x *Tensor, out *Tensor) {
	for i, v := range x.data {
		if v > 0 {
			out.data[i] = v
		} else {
			out.data[i] = 0
		}
	}
}

func (r *ReLUActivation) backward(x *Tensor, gradOut *Tensor, gradIn *Tensor) {
	for i, v := range x.data {
		if v > 0 {
			gradIn.data[i] = gradOut.data[i]
		} else {
			gradIn.data[i] = 0
		}
	}
}

func (r *ReLUActivation) name() string { return "relu" }

// LeakyReLUActivation - Leaky ReLU with configurable negative slope
type LeakyReLUActivation struct {
	NegativeSlope float64
}

func LeakyReLU(negativeSlope float64) Activation {
	return &LeakyReLUActivation{NegativeSlope: negativeSlope}
}

func (l *LeakyReLUActivation) forward(x *Tensor, out *Tensor) {
	for i, v := range x.data {
		if v > 0 {
			out.data[i] = v
		} else {
			out.data[i] = v * l.NegativeSlope
		}
	}
}

func (l *LeakyReLUActivation) backward(x *Tensor, gradOut *Tensor, gradIn *Tensor) {
	for i, v := range x.data {
		if v > 0 {
			gradIn.data[i] = gradOut.data[i]
		} else {
			gradIn.data[i] = gradOut.data[i] * l.NegativeSlope
		}
	}
}

func (l *LeakyReLUActivation) name() string { return "leaky_relu" }

// SigmoidActivation
type SigmoidActivation struct{}

func Sigmoid() Activation { return &SigmoidActivation{} }

func sigmoid(v float64) float64 {
	// exp(-v) overflows for v < -709, use the stable form there
	if v >= 0 {
		return 1.0 / (1.0 + math.Exp(-v))
	}
	expV := math.Exp(v)
	return expV / (1.0 + expV)
}

func (s *SigmoidActivation) forward(x *Tensor, out *Tensor) {
	for i, v := range x.data {
		out.data[i] = sigmoid(v)
	}
}

func (s *SigmoidActivation) backward(x *Tensor, gradOut *Tensor, gradIn *Tensor) {
	for i, v := range x.data {
		sig := sigmoid(v)
		gradIn.data[i] = gradOut.data[i] * sig * (1 - sig)
	}
}

func (s *SigmoidActivation) name() string { return "sigmoid" }

// TanhActivation
type TanhActivation struct{}

func Tanh() Activation { return &TanhActivation{} }

func (t *TanhActivation) forward(x *Tensor, out *Tensor) {
	for i, v := range x.data {
		out.data[i] = math.Tanh(v)
	}
}

func (t *TanhActivation) backward(x *Tensor, gradOut *Tensor, gradIn *Tensor) {
	for i, v := range x.data {
		th := math.Tanh(v)
		gradIn.data[i] = gradOut.data[i] * (1 - th*th)
	}
}

func (t *TanhActivation) name() string { return "tanh" }

// ActivationLayer applies an Activation as a standalone layer.
type ActivationLayer struct {
	activation Activation
	input      *Tensor
	inputShape []int
}

// ActivationOf wraps an activation function into a layer.
func ActivationOf(act Activation) Layer {
	return &ActivationLayer{activation: act}
}

// activationFor maps an ActivationType to its layer. ActNone maps to Identity.
func activationFor(t ActivationType) (Layer, error) {
	switch t {
	case ActReLU:
		return ActivationOf(ReLU()), nil
	case ActLeakyReLU:
		return ActivationOf(LeakyReLU(0.2)), nil
	case ActTanh:
		return ActivationOf(Tanh()), nil
	case ActSigmoid:
		return ActivationOf(Sigmoid()), nil
	case ActNone:
		return Identity(), nil
	}
	return nil, errors.Errorf("img2img: activation type %v is not implemented", t)
}

func (a *ActivationLayer) build(inputShape []int, rng *rand.Rand) error {
	if a.activation == nil {
		return errors.New("img2img: activation layer requires an activation")
	}
	a.inputShape = inputShape
	return nil
}

func (a *ActivationLayer) forward(input *Tensor, training bool) (*Tensor, error) {
	a.input = input
	output := NewTensor(input.shape...)
	a.activation.forward(input, output)
	return output, nil
}

func (a *ActivationLayer) backward(gradOutput *Tensor) (*Tensor, error) {
	if a.input == nil {
		return nil, errors.New("img2img: backward called before forward")
	}
	gradInput := NewTensor(gradOutput.shape...)
	a.activation.backward(a.input, gradOutput, gradInput)
	return gradInput, nil
}

func (a *ActivationLayer) parameters() []*Tensor             { return nil }
func (a *ActivationLayer) state(prefix string) []namedTensor { return nil }
func (a *ActivationLayer) outputShape() []int                { return a.inputShape }
func (a *ActivationLayer) name() string                      { return a.activation.name() }
