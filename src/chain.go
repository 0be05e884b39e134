package img2img

import (
	"math/rand"
	"strconv"

	"github.com/pkg/errors"
)

type link struct {
	name  string
	layer Layer
}

// chain runs named layers in order. It is the body of Sequential and of
// every composite block.
type chain struct {
	links      []link
	inputShape []int
	outShape   []int
}

func (c *chain) add(name string, l Layer) {
	if name == "" {
		name = strconv.Itoa(len(c.links))
	}
	c.links = append(c.links, link{name: name, layer: l})
}

func (c *chain) build(inputShape []int, rng *rand.Rand) error {
	c.inputShape = inputShape
	current := inputShape
	for i, l := range c.links {
		if l.layer == nil {
			return errors.Errorf("img2img: layer %d (%s) is nil", i, l.name)
		}
		if err := l.layer.build(current, rng); err != nil {
			return errors.Wrapf(err, "layer %d (%s/%s)", i, l.name, l.layer.name())
		}
		if out := l.layer.outputShape(); out != nil {
			current = out
		}
	}
	c.outShape = current
	return nil
}

func (c *chain) forward(input *Tensor, training bool) (*Tensor, error) {
	output := input
	for i, l := range c.links {
		var err error
		output, err = l.layer.forward(output, training)
		if err != nil {
			return nil, errors.Wrapf(err, "forward through layer %d (%s)", i, l.name)
		}
		if DebugMode {
			if err := ValidateTensorOutput(output, expectedSize(input, l.layer.outputShape()), l.layer.name(), l.name, i); err != nil {
				return nil, err
			}
		}
	}
	return output, nil
}

// expectedSize is the element count a layer declared at build for the
// batch of in; 0 when unknown.
func expectedSize(in *Tensor, shape []int) int {
	if in == nil || len(in.shape) == 0 || shape == nil {
		return 0
	}
	n := in.shape[0]
	for _, s := range shape {
		n *= s
	}
	return n
}

func (c *chain) backward(gradOutput *Tensor) (*Tensor, error) {
	grad := gradOutput
	for i := len(c.links) - 1; i >= 0; i-- {
		var err error
		grad, err = c.links[i].layer.backward(grad)
		if err != nil {
			return nil, errors.Wrapf(err, "backward through layer %d (%s)", i, c.links[i].name)
		}
	}
	return grad, nil
}

func (c *chain) parameters() []*Tensor {
	var params []*Tensor
	for _, l := range c.links {
		params = append(params, l.layer.parameters()...)
	}
	return params
}

func (c *chain) state(prefix string) []namedTensor {
	var s []namedTensor
	for _, l := range c.links {
		s = append(s, l.layer.state(joinName(prefix, l.name))...)
	}
	return s
}

func (c *chain) outputShape() []int { return c.outShape }
