package img2img

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

const (
	normEpsilon  = 1e-5
	normMomentum = 0.1
)

// normalizationFor maps a NormalizationType to a layer normalizing
// `features` channels. NormNone maps to Identity.
func normalizationFor(t NormalizationType, features int) (Layer, error) {
	switch t {
	case NormBatch:
		return BatchNorm2D(features, normEpsilon, normMomentum), nil
	case NormInstance:
		return InstanceNorm2D(features, normEpsilon), nil
	case NormLayer:
		return LayerNorm2D(features, normEpsilon), nil
	case NormNone:
		return Identity(), nil
	}
	return nil, errors.Errorf("img2img: normalization type %v is not implemented", t)
}

func checkImageShape(component string, inputShape []int, features int) error {
	if len(inputShape) != 3 {
		return errors.Errorf("img2img: %s requires input shape [C, H, W], got %v", component, inputShape)
	}
	if inputShape[0] != features {
		return errors.Errorf("img2img: %s expects %d channels, got %d", component, features, inputShape[0])
	}
	return nil
}

// BatchNormLayer - batch normalization over (N, H, W) per channel
type BatchNormLayer struct {
	features    int
	epsilon     float64
	momentum    float64
	gamma       *Tensor
	beta        *Tensor
	runningMean *Tensor
	runningVar  *Tensor
	numBatches  *Tensor
	input       *Tensor
	normalized  *Tensor
	invStd      []float64
	training    bool
	inputShape  []int
}

// BatchNorm2D normalizes NCHW batches with learned per-channel scale and
// shift. Running statistics follow running = (1-momentum)*running + momentum*batch.
func BatchNorm2D(features int, epsilon, momentum float64) Layer {
	return &BatchNormLayer{
		features: features,
		epsilon:  epsilon,
		momentum: momentum,
	}
}

func (bn *BatchNormLayer) build(inputShape []int, rng *rand.Rand) error {
	if err := checkImageShape("BatchNorm2D", inputShape, bn.features); err != nil {
		return err
	}
	bn.inputShape = inputShape

	bn.gamma = NewTensor(bn.features)
	bn.gamma.fill(1.0)
	bn.beta = NewTensor(bn.features)
	bn.runningMean = NewTensor(bn.features)
	bn.runningVar = NewTensor(bn.features)
	bn.runningVar.fill(1.0)
	bn.numBatches = NewTensor(1)
	return nil
}

func (bn *BatchNormLayer) forward(input *Tensor, training bool) (*Tensor, error) {
	if bn.gamma == nil {
		return nil, errors.New("img2img: BatchNorm2D not built")
	}
	n, c, hw := input.shape[0], input.shape[1], input.shape[2]*input.shape[3]
	count := float64(n * hw)
	if training && n*hw <= 1 {
		return nil, errors.Errorf("img2img: BatchNorm2D needs more than one value per channel in training, got input %v", input.shape)
	}

	bn.input = input
	bn.training = training
	bn.normalized = NewTensor(input.shape...)
	bn.invStd = make([]float64, c)
	output := NewTensor(input.shape...)

	for ch := 0; ch < c; ch++ {
		var mean, variance float64
		if training {
			for b := 0; b < n; b++ {
				base := (b*c + ch) * hw
				mean += floats.Sum(input.data[base : base+hw])
			}
			mean /= count
			for b := 0; b < n; b++ {
				base := (b*c + ch) * hw
				for _, v := range input.data[base : base+hw] {
					d := v - mean
					variance += d * d
				}
			}
			variance /= count

			unbiased := variance * count / (count - 1)
			bn.runningMean.data[ch] = (1-bn.momentum)*bn.runningMean.data[ch] + bn.momentum*mean
			bn.runningVar.data[ch] = (1-bn.momentum)*bn.runningVar.data[ch] + bn.momentum*unbiased
		} else {
			mean = bn.runningMean.data[ch]
			variance = bn.runningVar.data[ch]
		}

		invStd := 1.0 / math.Sqrt(variance+bn.epsilon)
		bn.invStd[ch] = invStd
		g, bias := bn.gamma.data[ch], bn.beta.data[ch]
		for b := 0; b < n; b++ {
			base := (b*c + ch) * hw
			for i := base; i < base+hw; i++ {
				xNorm := (input.data[i] - mean) * invStd
				bn.normalized.data[i] = xNorm
				output.data[i] = g*xNorm + bias
			}
		}
	}
	if training {
		bn.numBatches.data[0]++
	}
	return output, nil
}

func (bn *BatchNormLayer) backward(gradOutput *Tensor) (*Tensor, error) {
	if bn.input == nil {
		return nil, errors.New("img2img: backward called before forward")
	}
	n, c, hw := bn.input.shape[0], bn.input.shape[1], bn.input.shape[2]*bn.input.shape[3]
	m := float64(n * hw)
	gradInput := NewTensor(bn.input.shape...)

	for ch := 0; ch < c; ch++ {
		var sumDy, sumDyXhat float64
		for b := 0; b < n; b++ {
			base := (b*c + ch) * hw
			sumDy += floats.Sum(gradOutput.data[base : base+hw])
			sumDyXhat += floats.Dot(gradOutput.data[base:base+hw], bn.normalized.data[base:base+hw])
		}
		bn.gamma.grad[ch] += sumDyXhat
		bn.beta.grad[ch] += sumDy

		g := bn.gamma.data[ch]
		invStd := bn.invStd[ch]
		for b := 0; b < n; b++ {
			base := (b*c + ch) * hw
			for i := base; i < base+hw; i++ {
				if bn.training {
					gradInput.data[i] = g * invStd / m * (m*gradOutput.data[i] - sumDy - bn.normalized.data[i]*sumDyXhat)
				} else {
					gradInput.data[i] = g * invStd * gradOutput.data[i]
				}
			}
		}
	}
	return gradInput, nil
}

func (bn *BatchNormLayer) parameters() []*Tensor {
	return []*Tensor{bn.gamma, bn.beta}
}

func (bn *BatchNormLayer) state(prefix string) []namedTensor {
	return []namedTensor{
		{name: joinName(prefix, "weight"), tensor: bn.gamma},
		{name: joinName(prefix, "bias"), tensor: bn.beta},
		{name: joinName(prefix, "running_mean"), tensor: bn.runningMean, buffer: true},
		{name: joinName(prefix, "running_var"), tensor: bn.runningVar, buffer: true},
		{name: joinName(prefix, "num_batches_tracked"), tensor: bn.numBatches, buffer: true},
	}
}

func (bn *BatchNormLayer) outputShape() []int { return bn.inputShape }
func (bn *BatchNormLayer) name() string       { return "batch_norm2d" }

// GroupNormLayer normalizes each sample over groups of channels. It backs
// both InstanceNorm2D (one group per channel, no affine) and LayerNorm2D
// (a single group, per-channel affine). Statistics are always computed
// from the current sample, in training and in evaluation.
type GroupNormLayer struct {
	features   int
	numGroups  int
	epsilon    float64
	affine     bool
	lname      string
	gamma      *Tensor
	beta       *Tensor
	input      *Tensor
	normalized *Tensor
	invStd     []float64 // [N * numGroups]
	inputShape []int
}

// InstanceNorm2D normalizes every (sample, channel) plane independently.
func InstanceNorm2D(features int, epsilon float64) Layer {
	return &GroupNormLayer{
		features:  features,
		numGroups: features,
		epsilon:   epsilon,
		lname:     "instance_norm2d",
	}
}

// LayerNorm2D normalizes every sample over (C, H, W) with a per-channel
// scale and shift.
func LayerNorm2D(features int, epsilon float64) Layer {
	return &GroupNormLayer{
		features:  features,
		numGroups: 1,
		epsilon:   epsilon,
		affine:    true,
		lname:     "layer_norm2d",
	}
}

// GroupNorm2D splits channels into numGroups groups
func GroupNorm2D(features, numGroups int, epsilon float64) Layer {
	return &GroupNormLayer{
		features:  features,
		numGroups: numGroups,
		epsilon:   epsilon,
		affine:    true,
		lname:     "group_norm2d",
	}
}

func (gn *GroupNormLayer) build(inputShape []int, rng *rand.Rand) error {
	if err := checkImageShape(gn.lname, inputShape, gn.features); err != nil {
		return err
	}
	if gn.numGroups <= 0 || gn.features%gn.numGroups != 0 {
		return errors.Errorf("img2img: %d features must be divisible by %d groups", gn.features, gn.numGroups)
	}
	gn.inputShape = inputShape

	if gn.affine {
		gn.gamma = NewTensor(gn.features)
		gn.gamma.fill(1.0)
		gn.beta = NewTensor(gn.features)
	}
	return nil
}

func (gn *GroupNormLayer) forward(input *Tensor, training bool) (*Tensor, error) {
	if gn.inputShape == nil {
		return nil, errors.Errorf("img2img: %s not built", gn.lname)
	}
	n, c, hw := input.shape[0], input.shape[1], input.shape[2]*input.shape[3]
	groupSize := (c / gn.numGroups) * hw
	if groupSize <= 1 && training {
		return nil, errors.Errorf("img2img: %s needs more than one value per group in training, got input %v", gn.lname, input.shape)
	}

	gn.input = input
	gn.normalized = NewTensor(input.shape...)
	gn.invStd = make([]float64, n*gn.numGroups)
	output := NewTensor(input.shape...)

	for b := 0; b < n; b++ {
		for g := 0; g < gn.numGroups; g++ {
			base := (b*gn.numGroups + g) * groupSize
			block := input.data[base : base+groupSize]

			mean := floats.Sum(block) / float64(groupSize)
			variance := 0.0
			for _, v := range block {
				d := v - mean
				variance += d * d
			}
			variance /= float64(groupSize)

			invStd := 1.0 / math.Sqrt(variance+gn.epsilon)
			gn.invStd[b*gn.numGroups+g] = invStd
			for i := base; i < base+groupSize; i++ {
				xNorm := (input.data[i] - mean) * invStd
				gn.normalized.data[i] = xNorm
				if gn.affine {
					ch := (i / hw) % c
					output.data[i] = gn.gamma.data[ch]*xNorm + gn.beta.data[ch]
				} else {
					output.data[i] = xNorm
				}
			}
		}
	}
	return output, nil
}

func (gn *GroupNormLayer) backward(gradOutput *Tensor) (*Tensor, error) {
	if gn.input == nil {
		return nil, errors.New("img2img: backward called before forward")
	}
	n, c, hw := gn.input.shape[0], gn.input.shape[1], gn.input.shape[2]*gn.input.shape[3]
	groupSize := (c / gn.numGroups) * hw
	m := float64(groupSize)
	gradInput := NewTensor(gn.input.shape...)

	// dL/dxhat, folded with gamma when affine
	dxHat := make([]float64, len(gradOutput.data))
	for i, dy := range gradOutput.data {
		if gn.affine {
			ch := (i / hw) % c
			gn.gamma.grad[ch] += dy * gn.normalized.data[i]
			gn.beta.grad[ch] += dy
			dxHat[i] = dy * gn.gamma.data[ch]
		} else {
			dxHat[i] = dy
		}
	}

	for b := 0; b < n; b++ {
		for g := 0; g < gn.numGroups; g++ {
			base := (b*gn.numGroups + g) * groupSize
			sumD := floats.Sum(dxHat[base : base+groupSize])
			sumDX := floats.Dot(dxHat[base:base+groupSize], gn.normalized.data[base:base+groupSize])
			invStd := gn.invStd[b*gn.numGroups+g]
			for i := base; i < base+groupSize; i++ {
				gradInput.data[i] = invStd / m * (m*dxHat[i] - sumD - gn.normalized.data[i]*sumDX)
			}
		}
	}
	return gradInput, nil
}

func (gn *GroupNormLayer) parameters() []*Tensor {
	if !gn.affine {
		return nil
	}
	return []*Tensor{gn.gamma, gn.beta}
}

func (gn *GroupNormLayer) state(prefix string) []namedTensor {
	if !gn.affine {
		return nil
	}
	return []namedTensor{
		{name: joinName(prefix, "weight"), tensor: gn.gamma},
		{name: joinName(prefix, "bias"), tensor: gn.beta},
	}
}

func (gn *GroupNormLayer) outputShape() []int { return gn.inputShape }
func (gn *GroupNormLayer) name() string       { return gn.lname }
