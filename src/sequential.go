package img2img

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/pkg/errors"
)

// SequentialConfig for model construction
type SequentialConfig struct {
	Seed int64
	Name string
}

// Sequential is the model container. It runs its layers in order and
// tracks the train/eval mode used by BatchNorm2D and Dropout.
type Sequential struct {
	chain
	name       string
	rng        *rand.Rand
	training   bool
	built      bool
	inputShape []int
	lastBatch  int
}

// SequentialBuilder for fluent API
type SequentialBuilder struct {
	model *Sequential
	err   error
}

// NewSequential creates a new model builder
func NewSequential(config SequentialConfig) *SequentialBuilder {
	name := config.Name
	if name == "" {
		name = "sequential"
	}
	return &SequentialBuilder{
		model: &Sequential{
			name:     name,
			rng:      rand.New(rand.NewSource(config.Seed)),
			training: true,
		},
	}
}

// Add appends a layer under its positional name.
func (b *SequentialBuilder) Add(layer Layer) *SequentialBuilder {
	return b.AddNamed("", layer)
}

// AddNamed appends a layer under an explicit state-dict prefix.
func (b *SequentialBuilder) AddNamed(name string, layer Layer) *SequentialBuilder {
	if b.err != nil {
		return b
	}
	if layer == nil {
		b.err = errors.New("img2img: cannot add a nil layer")
		return b
	}
	for _, l := range b.model.links {
		if name != "" && l.name == name {
			b.err = errors.Errorf("img2img: duplicate layer name %q", name)
			return b
		}
	}
	b.model.add(name, layer)
	return b
}

// Build finalizes the structure for inputs of shape [C, H, W].
func (b *SequentialBuilder) Build(inputShape []int) (*Sequential, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.model.links) == 0 {
		return nil, errors.New("img2img: model must have at least one layer")
	}
	if len(inputShape) != 3 {
		return nil, errors.Errorf("img2img: inputShape must be [C, H, W], got %v", inputShape)
	}
	if err := b.model.chain.build(inputShape, b.model.rng); err != nil {
		return nil, errors.Wrapf(err, "build %s", b.model.name)
	}
	b.model.inputShape = inputShape
	b.model.built = true
	Logger().Debug("model built", "model", b.model.name, "input", inputShape, "output", b.model.outShape,
		"parameters", b.model.NumParameters())
	return b.model, nil
}

// Forward runs the model on an NCHW batch in the current mode.
func (m *Sequential) Forward(x *Tensor) (*Tensor, error) {
	if !m.built {
		return nil, errors.New("img2img: model must be built before forward")
	}
	if len(x.shape) != 4 || !sameShape(x.shape[1:], m.inputShape) {
		return nil, errors.Errorf("img2img: %s expects input [N %v], got %v", m.name, m.inputShape, x.shape)
	}
	m.lastBatch = x.shape[0]
	return m.chain.forward(x, m.training)
}

// Backward propagates gradOutput through the layers of the last Forward,
// accumulating parameter gradients, and returns the input gradient.
func (m *Sequential) Backward(gradOutput *Tensor) (*Tensor, error) {
	if !m.built {
		return nil, errors.New("img2img: model must be built before backward")
	}
	if m.lastBatch == 0 {
		return nil, errors.New("img2img: backward called before forward")
	}
	if err := validateShape(append([]int{m.lastBatch}, m.outShape...), gradOutput.shape); err != nil {
		return nil, errors.Wrapf(err, "%s backward", m.name)
	}
	return m.chain.backward(gradOutput)
}

// Train switches to training mode.
func (m *Sequential) Train() { m.training = true }

// Eval switches to evaluation mode.
func (m *Sequential) Eval() { m.training = false }

// IsTraining reports the current mode.
func (m *Sequential) IsTraining() bool { return m.training }

// Name is the model name given at construction.
func (m *Sequential) Name() string { return m.name }

// InputShape is the per-sample input shape [C, H, W].
func (m *Sequential) InputShape() []int { return append([]int(nil), m.inputShape...) }

// OutputShape is the per-sample output shape.
func (m *Sequential) OutputShape() []int { return append([]int(nil), m.outShape...) }

// Parameters returns the trainable tensors in a stable order.
func (m *Sequential) Parameters() []*Tensor { return m.chain.parameters() }

// NumParameters counts trainable values.
func (m *Sequential) NumParameters() int {
	total := 0
	for _, p := range m.Parameters() {
		total += p.Size()
	}
	return total
}

// ZeroGrad clears the gradients of every parameter.
func (m *Sequential) ZeroGrad() {
	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
}

// ClipGradNorm rescales all gradients so their global L2 norm is at most
// maxNorm and returns the norm before clipping.
func (m *Sequential) ClipGradNorm(maxNorm float64) float64 {
	params := m.Parameters()
	total := 0.0
	for _, p := range params {
		for _, g := range p.grad {
			total += g * g
		}
	}
	total = math.Sqrt(total)
	if maxNorm > 0 && total > maxNorm {
		scale := maxNorm / total
		for _, p := range params {
			for i := range p.grad {
				p.grad[i] *= scale
			}
		}
	}
	return total
}

// StateDict snapshots parameters and buffers.
func (m *Sequential) StateDict() StateDict {
	return stateDictOf(m.chain.state(""))
}

// LoadStateDict restores parameters and buffers. Names and shapes must
// match exactly; on error the model is left untouched.
func (m *Sequential) LoadStateDict(sd StateDict) error {
	if !m.built {
		return errors.New("img2img: model must be built before loading state")
	}
	return errors.Wrapf(loadState(m.chain.state(""), sd), "load state into %s", m.name)
}

// Summary describes the architecture
func (m *Sequential) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", m.name)
	b.WriteString("====================\n")
	fmt.Fprintf(&b, "input: %v\n", m.inputShape)
	for i, l := range m.links {
		params := 0
		for _, p := range l.layer.parameters() {
			params += p.Size()
		}
		fmt.Fprintf(&b, "%d %s (%s): out=%v params=%d\n", i, l.name, l.layer.name(), l.layer.outputShape(), params)
		writeChildren(&b, l.layer, "  ")
	}
	b.WriteString("====================\n")
	fmt.Fprintf(&b, "Total parameters: %d\n", m.NumParameters())
	return b.String()
}

type composite interface {
	children() []link
}

func (c *chain) children() []link { return c.links }

func writeChildren(b *strings.Builder, l Layer, indent string) {
	c, ok := l.(composite)
	if !ok {
		return
	}
	for _, child := range c.children() {
		fmt.Fprintf(b, "%s%s (%s): out=%v\n", indent, child.name, child.layer.name(), child.layer.outputShape())
		writeChildren(b, child.layer, indent+"  ")
	}
}
