package img2img

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Conv2DLayer - 2D convolution over NCHW batches
type Conv2DLayer struct {
	inChannels  int
	filters     int
	kernelSize  int
	stride      int
	padding     int
	paddingType PaddingType
	initializer Initializer
	biasInit    Initializer
	useBias     bool
	weights     *Tensor // [filters, inChannels, k, k]
	bias        *Tensor
	inputShape  []int // [C, H, W]
	outH, outW  int
	colIndex    []int // im2col source offset within one sample, -1 for zero padding
	input       *Tensor
	cols        []*mat.Dense
}

type Conv2DBuilder struct {
	layer *Conv2DLayer
}

// Conv2D starts a convolution with stride 1, no padding, zero padding mode,
// bias enabled and N(0, 0.02) weights.
func Conv2D(inChannels, filters, kernelSize int) *Conv2DBuilder {
	return &Conv2DBuilder{
		layer: &Conv2DLayer{
			inChannels:  inChannels,
			filters:     filters,
			kernelSize:  kernelSize,
			stride:      1,
			paddingType: PaddingZero,
			useBias:     true,
			initializer: RandomNormal(0, 0.02),
			biasInit:    Zeros(),
		},
	}
}

func (b *Conv2DBuilder) WithStride(stride int) *Conv2DBuilder {
	b.layer.stride = stride
	return b
}

func (b *Conv2DBuilder) WithPadding(padding int) *Conv2DBuilder {
	b.layer.padding = padding
	return b
}

func (b *Conv2DBuilder) WithPaddingType(p PaddingType) *Conv2DBuilder {
	b.layer.paddingType = p
	return b
}

func (b *Conv2DBuilder) WithInitializer(init Initializer) *Conv2DBuilder {
	b.layer.initializer = init
	return b
}

func (b *Conv2DBuilder) WithBiasInitializer(init Initializer) *Conv2DBuilder {
	b.layer.biasInit = init
	return b
}

func (b *Conv2DBuilder) WithBias(useBias bool) *Conv2DBuilder {
	b.layer.useBias = useBias
	return b
}

func (b *Conv2DBuilder) Build() Layer {
	return b.layer
}

// padIndex maps a coordinate of the padded plane back onto [0, size).
func padIndex(i, size int, mode PaddingType) (int, bool) {
	if i >= 0 && i < size {
		return i, true
	}
	switch mode {
	case PaddingReflect:
		for i < 0 || i >= size {
			if i < 0 {
				i = -i
			}
			if i >= size {
				i = 2*(size-1) - i
			}
		}
		return i, true
	case PaddingReplicate:
		if i < 0 {
			return 0, true
		}
		return size - 1, true
	case PaddingCircular:
		return ((i % size) + size) % size, true
	}
	return 0, false
}

func (c *Conv2DLayer) build(inputShape []int, rng *rand.Rand) error {
	if err := checkImageShape("Conv2D", inputShape, c.inChannels); err != nil {
		return err
	}
	if c.filters <= 0 || c.kernelSize <= 0 || c.stride <= 0 || c.padding < 0 {
		return errors.Errorf("img2img: Conv2D needs positive filters, kernel and stride and non-negative padding, got %d/%d/%d/%d",
			c.filters, c.kernelSize, c.stride, c.padding)
	}
	if _, ok := paddingNames[c.paddingType]; !ok {
		return errors.Errorf("img2img: padding type %v is not implemented", c.paddingType)
	}
	if c.initializer == nil {
		return errors.New("img2img: Conv2D requires initializer")
	}
	if c.useBias && c.biasInit == nil {
		return errors.New("img2img: Conv2D with bias requires bias initializer")
	}

	h, w := inputShape[1], inputShape[2]
	if c.paddingType == PaddingReflect && (c.padding >= h || c.padding >= w) {
		return errors.Errorf("img2img: reflect padding %d must be smaller than input %dx%d", c.padding, h, w)
	}
	c.outH = (h+2*c.padding-c.kernelSize)/c.stride + 1
	c.outW = (w+2*c.padding-c.kernelSize)/c.stride + 1
	if h+2*c.padding < c.kernelSize || w+2*c.padding < c.kernelSize {
		return errors.Errorf("img2img: Conv2D kernel %d larger than padded input %dx%d", c.kernelSize, h+2*c.padding, w+2*c.padding)
	}
	c.inputShape = inputShape

	k := c.kernelSize
	fanIn := c.inChannels * k * k
	fanOut := c.filters * k * k
	c.weights = NewTensor(c.filters, c.inChannels, k, k)
	c.initializer.initialize(c.weights, fanIn, fanOut, rng)
	if c.useBias {
		c.bias = NewTensor(c.filters)
		c.biasInit.initialize(c.bias, fanIn, fanOut, rng)
	}

	outHW := c.outH * c.outW
	c.colIndex = make([]int, fanIn*outHW)
	for ic := 0; ic < c.inChannels; ic++ {
		for kh := 0; kh < k; kh++ {
			for kw := 0; kw < k; kw++ {
				row := (ic*k+kh)*k + kw
				for oh := 0; oh < c.outH; oh++ {
					ih, okH := padIndex(oh*c.stride+kh-c.padding, h, c.paddingType)
					for ow := 0; ow < c.outW; ow++ {
						iw, okW := padIndex(ow*c.stride+kw-c.padding, w, c.paddingType)
						idx := -1
						if okH && okW {
							idx = (ic*h+ih)*w + iw
						}
						c.colIndex[row*outHW+oh*c.outW+ow] = idx
					}
				}
			}
		}
	}
	return nil
}

func (c *Conv2DLayer) im2col(sample []float64) *mat.Dense {
	outHW := c.outH * c.outW
	rows := c.inChannels * c.kernelSize * c.kernelSize
	buf := make([]float64, rows*outHW)
	for i, src := range c.colIndex {
		if src >= 0 {
			buf[i] = sample[src]
		}
	}
	return mat.NewDense(rows, outHW, buf)
}

func (c *Conv2DLayer) forward(input *Tensor, training bool) (*Tensor, error) {
	if c.weights == nil {
		return nil, errors.New("img2img: Conv2D not built")
	}
	if len(input.shape) != 4 || !sameShape(input.shape[1:], c.inputShape) {
		return nil, errors.Errorf("img2img: Conv2D built for [N %v], got %v", c.inputShape, input.shape)
	}
	batchSize := input.shape[0]
	sampleSize := c.inChannels * c.inputShape[1] * c.inputShape[2]
	outHW := c.outH * c.outW
	rows := c.inChannels * c.kernelSize * c.kernelSize

	c.input = input
	c.cols = make([]*mat.Dense, batchSize)
	output := NewTensor(batchSize, c.filters, c.outH, c.outW)
	w := mat.NewDense(c.filters, rows, c.weights.data)

	parallelFor(batchSize, CurrentDevice().Workers, func(b int) {
		cols := c.im2col(input.data[b*sampleSize : (b+1)*sampleSize])
		c.cols[b] = cols
		out := mat.NewDense(c.filters, outHW, output.data[b*c.filters*outHW:(b+1)*c.filters*outHW])
		out.Mul(w, cols)
		if c.useBias {
			for f := 0; f < c.filters; f++ {
				row := out.RawRowView(f)
				for i := range row {
					row[i] += c.bias.data[f]
				}
			}
		}
	})
	return output, nil
}

func (c *Conv2DLayer) backward(gradOutput *Tensor) (*Tensor, error) {
	if c.input == nil {
		return nil, errors.New("img2img: backward called before forward")
	}
	batchSize := c.input.shape[0]
	sampleSize := c.inChannels * c.inputShape[1] * c.inputShape[2]
	outHW := c.outH * c.outW
	rows := c.inChannels * c.kernelSize * c.kernelSize

	w := mat.NewDense(c.filters, rows, c.weights.data)
	gradInput := NewTensor(c.input.shape...)
	gradWs := make([]*mat.Dense, batchSize)

	parallelFor(batchSize, CurrentDevice().Workers, func(b int) {
		g := mat.NewDense(c.filters, outHW, gradOutput.data[b*c.filters*outHW:(b+1)*c.filters*outHW])

		var gw mat.Dense
		gw.Mul(g, c.cols[b].T())
		gradWs[b] = &gw

		var gCols mat.Dense
		gCols.Mul(w.T(), g)
		raw := gCols.RawMatrix().Data
		dst := gradInput.data[b*sampleSize : (b+1)*sampleSize]
		for i, src := range c.colIndex {
			if src >= 0 {
				dst[src] += raw[i]
			}
		}
	})

	gradW := mat.NewDense(c.filters, rows, c.weights.grad)
	for _, gw := range gradWs {
		gradW.Add(gradW, gw)
	}
	if c.useBias {
		for b := 0; b < batchSize; b++ {
			for f := 0; f < c.filters; f++ {
				base := (b*c.filters + f) * outHW
				for _, v := range gradOutput.data[base : base+outHW] {
					c.bias.grad[f] += v
				}
			}
		}
	}
	return gradInput, nil
}

func (c *Conv2DLayer) parameters() []*Tensor {
	if c.useBias {
		return []*Tensor{c.weights, c.bias}
	}
	return []*Tensor{c.weights}
}

func (c *Conv2DLayer) state(prefix string) []namedTensor {
	s := []namedTensor{{name: joinName(prefix, "weight"), tensor: c.weights}}
	if c.useBias {
		s = append(s, namedTensor{name: joinName(prefix, "bias"), tensor: c.bias})
	}
	return s
}

func (c *Conv2DLayer) outputShape() []int {
	return []int{c.filters, c.outH, c.outW}
}

func (c *Conv2DLayer) name() string { return "conv2d" }
