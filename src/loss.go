package img2img

import (
	"math"

	"github.com/pkg/errors"
)

// Loss computes a scalar loss and its gradient with respect to pred.
type Loss interface {
	compute(pred, target *Tensor) float64
	gradient(pred, target *Tensor, gradOut *Tensor)
	name() string
}

// Reduction selects how per-element losses are combined.
type Reduction string

const (
	ReduceMean Reduction = "mean"
	ReduceSum  Reduction = "sum"
)

func reductionScale(r Reduction, n int) float64 {
	if r == ReduceSum || n == 0 {
		return 1
	}
	return 1 / float64(n)
}

// ComputeLoss returns loss(pred, target) and dLoss/dpred, ready to pass
// to Sequential.Backward.
func ComputeLoss(l Loss, pred, target *Tensor) (float64, *Tensor, error) {
	if !sameShape(pred.shape, target.shape) {
		return 0, nil, errors.Errorf("img2img: %s loss on shapes %v and %v", l.name(), pred.shape, target.shape)
	}
	grad := NewTensor(pred.shape...)
	l.gradient(pred, target, grad)
	return l.compute(pred, target), grad, nil
}

// L1Loss - mean absolute error, the pix2pix reconstruction term. Weight
// scales loss and gradient (pix2pix uses 100).
type L1Loss struct {
	Reduction Reduction
	Weight    float64
}

type L1Config struct {
	Reduction Reduction
	Weight    float64
}

func L1(config L1Config) Loss {
	if config.Weight == 0 {
		config.Weight = 1
	}
	return &L1Loss{Reduction: config.Reduction, Weight: config.Weight}
}

func (m *L1Loss) compute(pred, target *Tensor) float64 {
	sum := 0.0
	for i := range pred.data {
		sum += math.Abs(pred.data[i] - target.data[i])
	}
	return m.Weight * sum * reductionScale(m.Reduction, len(pred.data))
}

func (m *L1Loss) gradient(pred, target *Tensor, gradOut *Tensor) {
	scale := m.Weight * reductionScale(m.Reduction, len(pred.data))
	for i := range pred.data {
		switch {
		case pred.data[i] > target.data[i]:
			gradOut.data[i] = scale
		case pred.data[i] < target.data[i]:
			gradOut.data[i] = -scale
		default:
			gradOut.data[i] = 0
		}
	}
}

func (m *L1Loss) name() string { return "l1" }

// MSELoss - Mean Squared Error (least-squares GAN objective)
type MSELoss struct {
	Reduction Reduction
}

func MSE(reduction Reduction) Loss {
	return &MSELoss{Reduction: reduction}
}

func (m *MSELoss) compute(pred, target *Tensor) float64 {
	sum := 0.0
	for i := range pred.data {
		diff := pred.data[i] - target.data[i]
		sum += diff * diff
	}
	return sum * reductionScale(m.Reduction, len(pred.data))
}

func (m *MSELoss) gradient(pred, target *Tensor, gradOut *Tensor) {
	scale := 2 * reductionScale(m.Reduction, len(pred.data))
	for i := range pred.data {
		gradOut.data[i] = scale * (pred.data[i] - target.data[i])
	}
}

func (m *MSELoss) name() string { return "mse" }

// BCEWithLogitsLoss - binary cross entropy on raw discriminator logits,
// computed in the numerically stable form
// max(x, 0) - x*y + log(1 + exp(-|x|)).
type BCEWithLogitsLoss struct {
	Reduction Reduction
}

func BCEWithLogits(reduction Reduction) Loss {
	return &BCEWithLogitsLoss{Reduction: reduction}
}

func (b *BCEWithLogitsLoss) compute(pred, target *Tensor) float64 {
	sum := 0.0
	for i, x := range pred.data {
		sum += math.Max(x, 0) - x*target.data[i] + math.Log1p(math.Exp(-math.Abs(x)))
	}
	return sum * reductionScale(b.Reduction, len(pred.data))
}

func (b *BCEWithLogitsLoss) gradient(pred, target *Tensor, gradOut *Tensor) {
	scale := reductionScale(b.Reduction, len(pred.data))
	for i, x := range pred.data {
		gradOut.data[i] = scale * (sigmoid(x) - target.data[i])
	}
}

func (b *BCEWithLogitsLoss) name() string { return "bce_with_logits" }

// Full returns a tensor of shape filled with value, e.g. real/fake labels
// for a discriminator patch output.
func Full(value float64, shape ...int) *Tensor {
	t := NewTensor(shape...)
	t.fill(value)
	return t
}
