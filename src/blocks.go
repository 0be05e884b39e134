package img2img

import (
	"math/rand"

	"github.com/pkg/errors"
)

// ConvBlockLayer is convolution, normalization over the output channels,
// optional dropout and activation, in that order.
type ConvBlockLayer struct {
	chain
	inChannels    int
	outChannels   int
	kernelSize    int
	stride        int
	padding       int
	normalization NormalizationType
	paddingType   PaddingType
	activation    ActivationType
	useBias       bool
	dropout       float64
	initializer   Initializer
}

type ConvBlockBuilder struct {
	layer *ConvBlockLayer
}

// ConvBlock starts a block with stride 1, padding 0, zero padding mode,
// no normalization, ReLU activation and a biased convolution.
func ConvBlock(inChannels, outChannels, kernelSize int) *ConvBlockBuilder {
	return &ConvBlockBuilder{
		layer: &ConvBlockLayer{
			inChannels:    inChannels,
			outChannels:   outChannels,
			kernelSize:    kernelSize,
			stride:        1,
			normalization: NormNone,
			paddingType:   PaddingZero,
			activation:    ActReLU,
			useBias:       true,
		},
	}
}

func (b *ConvBlockBuilder) WithStride(stride int) *ConvBlockBuilder {
	b.layer.stride = stride
	return b
}

func (b *ConvBlockBuilder) WithPadding(padding int) *ConvBlockBuilder {
	b.layer.padding = padding
	return b
}

func (b *ConvBlockBuilder) WithNormalization(n NormalizationType) *ConvBlockBuilder {
	b.layer.normalization = n
	return b
}

func (b *ConvBlockBuilder) WithPaddingType(p PaddingType) *ConvBlockBuilder {
	b.layer.paddingType = p
	return b
}

func (b *ConvBlockBuilder) WithActivation(a ActivationType) *ConvBlockBuilder {
	b.layer.activation = a
	return b
}

func (b *ConvBlockBuilder) WithBias(useBias bool) *ConvBlockBuilder {
	b.layer.useBias = useBias
	return b
}

// WithDropout inserts dropout between normalization and activation.
func (b *ConvBlockBuilder) WithDropout(rate float64) *ConvBlockBuilder {
	b.layer.dropout = rate
	return b
}

// WithInitializer overrides the convolution weight initializer.
func (b *ConvBlockBuilder) WithInitializer(init Initializer) *ConvBlockBuilder {
	b.layer.initializer = init
	return b
}

func (b *ConvBlockBuilder) Build() Layer {
	return b.layer
}

func (cb *ConvBlockLayer) build(inputShape []int, rng *rand.Rand) error {
	norm, err := normalizationFor(cb.normalization, cb.outChannels)
	if err != nil {
		return err
	}
	act, err := activationFor(cb.activation)
	if err != nil {
		return err
	}

	conv := Conv2D(cb.inChannels, cb.outChannels, cb.kernelSize).
		WithStride(cb.stride).
		WithPadding(cb.padding).
		WithPaddingType(cb.paddingType).
		WithBias(cb.useBias)
	if cb.initializer != nil {
		conv = conv.WithInitializer(cb.initializer)
	}

	cb.chain = chain{}
	cb.add("conv", conv.Build())
	cb.add("norm", norm)
	if cb.dropout > 0 {
		cb.add("dropout", Dropout(cb.dropout))
	}
	cb.add("act", act)
	return cb.chain.build(inputShape, rng)
}

func (cb *ConvBlockLayer) name() string { return "conv_block" }

// ConvBlocksLayer stacks ConvBlocks, doubling the channel count in every
// block from layerMultiplier while it stays below maxLayerMultiplier.
type ConvBlocksLayer struct {
	chain
	layerMultiplier    int
	maxLayerMultiplier int
	kernelSize         int
	stride             int
	padding            int
	paddingType        PaddingType
	normalization      NormalizationType
	activation         ActivationType
}

type ConvBlocksBuilder struct {
	layer *ConvBlocksLayer
}

// ConvBlocks starts a stack going from 64 to 1024 channels with kernel 4,
// stride 2, padding 0, zero padding mode, no normalization and ReLU.
func ConvBlocks() *ConvBlocksBuilder {
	return &ConvBlocksBuilder{
		layer: &ConvBlocksLayer{
			layerMultiplier:    64,
			maxLayerMultiplier: 1024,
			kernelSize:         4,
			stride:             2,
			paddingType:        PaddingZero,
			normalization:      NormNone,
			activation:         ActReLU,
		},
	}
}

func (b *ConvBlocksBuilder) WithLayerMultiplier(m int) *ConvBlocksBuilder {
	b.layer.layerMultiplier = m
	return b
}

func (b *ConvBlocksBuilder) WithMaxLayerMultiplier(m int) *ConvBlocksBuilder {
	b.layer.maxLayerMultiplier = m
	return b
}

func (b *ConvBlocksBuilder) WithKernelSize(k int) *ConvBlocksBuilder {
	b.layer.kernelSize = k
	return b
}

func (b *ConvBlocksBuilder) WithStride(stride int) *ConvBlocksBuilder {
	b.layer.stride = stride
	return b
}

func (b *ConvBlocksBuilder) WithPadding(padding int) *ConvBlocksBuilder {
	b.layer.padding = padding
	return b
}

func (b *ConvBlocksBuilder) WithPaddingType(p PaddingType) *ConvBlocksBuilder {
	b.layer.paddingType = p
	return b
}

func (b *ConvBlocksBuilder) WithNormalization(n NormalizationType) *ConvBlocksBuilder {
	b.layer.normalization = n
	return b
}

func (b *ConvBlocksBuilder) WithActivation(a ActivationType) *ConvBlocksBuilder {
	b.layer.activation = a
	return b
}

func (b *ConvBlocksBuilder) Build() Layer {
	return b.layer
}

func (cb *ConvBlocksLayer) build(inputShape []int, rng *rand.Rand) error {
	if cb.layerMultiplier <= 0 {
		return errors.Errorf("img2img: ConvBlocks layer multiplier must be > 0, got %d", cb.layerMultiplier)
	}
	cb.chain = chain{}
	for m := cb.layerMultiplier; m < cb.maxLayerMultiplier; m *= 2 {
		cb.add("", ConvBlock(m, m*2, cb.kernelSize).
			WithStride(cb.stride).
			WithPadding(cb.padding).
			WithPaddingType(cb.paddingType).
			WithNormalization(cb.normalization).
			WithActivation(cb.activation).
			Build())
	}
	return cb.chain.build(inputShape, rng)
}

// Len is the number of stacked blocks.
func (cb *ConvBlocksLayer) Len() int { return len(cb.links) }

func (cb *ConvBlocksLayer) name() string { return "conv_blocks" }

// ResBlockLayer is two channel-preserving ConvBlocks, the second without
// activation, added back onto the block input.
type ResBlockLayer struct {
	chain
	channels      int
	kernelSize    int
	stride        int
	padding       int
	normalization NormalizationType
	paddingType   PaddingType
	activation    ActivationType
}

type ResBlockBuilder struct {
	layer *ResBlockLayer
}

// ResBlock starts a residual block with kernel 3, stride 1, padding 1,
// instance normalization, zero padding mode and ReLU.
func ResBlock(channels int) *ResBlockBuilder {
	return &ResBlockBuilder{
		layer: &ResBlockLayer{
			channels:      channels,
			kernelSize:    3,
			stride:        1,
			padding:       1,
			normalization: NormInstance,
			paddingType:   PaddingZero,
			activation:    ActReLU,
		},
	}
}

func (b *ResBlockBuilder) WithKernelSize(k int) *ResBlockBuilder {
	b.layer.kernelSize = k
	return b
}

func (b *ResBlockBuilder) WithStride(stride int) *ResBlockBuilder {
	b.layer.stride = stride
	return b
}

func (b *ResBlockBuilder) WithPadding(padding int) *ResBlockBuilder {
	b.layer.padding = padding
	return b
}

func (b *ResBlockBuilder) WithNormalization(n NormalizationType) *ResBlockBuilder {
	b.layer.normalization = n
	return b
}

func (b *ResBlockBuilder) WithPaddingType(p PaddingType) *ResBlockBuilder {
	b.layer.paddingType = p
	return b
}

func (b *ResBlockBuilder) WithActivation(a ActivationType) *ResBlockBuilder {
	b.layer.activation = a
	return b
}

func (b *ResBlockBuilder) Build() Layer {
	return b.layer
}

func (rb *ResBlockLayer) build(inputShape []int, rng *rand.Rand) error {
	rb.chain = chain{}
	for _, act := range []ActivationType{rb.activation, ActNone} {
		rb.add("", ConvBlock(rb.channels, rb.channels, rb.kernelSize).
			WithStride(rb.stride).
			WithPadding(rb.padding).
			WithNormalization(rb.normalization).
			WithPaddingType(rb.paddingType).
			WithActivation(act).
			Build())
	}
	if err := rb.chain.build(inputShape, rng); err != nil {
		return err
	}
	if !sameShape(rb.outShape, inputShape) {
		return errors.Errorf("img2img: ResBlock branch output %v cannot be added to input %v", rb.outShape, inputShape)
	}
	return nil
}

func (rb *ResBlockLayer) forward(input *Tensor, training bool) (*Tensor, error) {
	branch, err := rb.chain.forward(input, training)
	if err != nil {
		return nil, err
	}
	output := NewTensor(input.shape...)
	elemAdd(branch, input, output)
	return output, nil
}

func (rb *ResBlockLayer) backward(gradOutput *Tensor) (*Tensor, error) {
	gradBranch, err := rb.chain.backward(gradOutput)
	if err != nil {
		return nil, err
	}
	gradInput := NewTensor(gradOutput.shape...)
	elemAdd(gradBranch, gradOutput, gradInput)
	return gradInput, nil
}

func (rb *ResBlockLayer) name() string { return "res_block" }

// ResBlocksLayer repeats ResBlock numBlocks times.
type ResBlocksLayer struct {
	chain
	channels      int
	numBlocks     int
	normalization NormalizationType
	paddingType   PaddingType
	activation    ActivationType
}

type ResBlocksBuilder struct {
	layer *ResBlocksLayer
}

// ResBlocks starts a stack of numBlocks residual blocks with instance
// normalization, zero padding mode and ReLU.
func ResBlocks(channels, numBlocks int) *ResBlocksBuilder {
	return &ResBlocksBuilder{
		layer: &ResBlocksLayer{
			channels:      channels,
			numBlocks:     numBlocks,
			normalization: NormInstance,
			paddingType:   PaddingZero,
			activation:    ActReLU,
		},
	}
}

func (b *ResBlocksBuilder) WithNormalization(n NormalizationType) *ResBlocksBuilder {
	b.layer.normalization = n
	return b
}

func (b *ResBlocksBuilder) WithPaddingType(p PaddingType) *ResBlocksBuilder {
	b.layer.paddingType = p
	return b
}

func (b *ResBlocksBuilder) WithActivation(a ActivationType) *ResBlocksBuilder {
	b.layer.activation = a
	return b
}

func (b *ResBlocksBuilder) Build() Layer {
	return b.layer
}

func (rb *ResBlocksLayer) build(inputShape []int, rng *rand.Rand) error {
	if rb.numBlocks < 0 {
		return errors.Errorf("img2img: ResBlocks needs a non-negative block count, got %d", rb.numBlocks)
	}
	rb.chain = chain{}
	for i := 0; i < rb.numBlocks; i++ {
		rb.add("", ResBlock(rb.channels).
			WithNormalization(rb.normalization).
			WithPaddingType(rb.paddingType).
			WithActivation(rb.activation).
			Build())
	}
	return rb.chain.build(inputShape, rng)
}

func (rb *ResBlocksLayer) name() string { return "res_blocks" }
