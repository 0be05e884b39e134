package img2img

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Metric accumulates an image reconstruction metric over batches.
type Metric interface {
	reset()
	update(pred, target *Tensor)
	result() float64
	name() string
}

// MeanSquaredErrorMetric - per-pixel MSE
type MeanSquaredErrorMetric struct {
	sum   float64
	count int
}

func MeanSquaredError() Metric {
	return &MeanSquaredErrorMetric{}
}

func (m *MeanSquaredErrorMetric) reset() {
	m.sum = 0
	m.count = 0
}

func (m *MeanSquaredErrorMetric) update(pred, target *Tensor) {
	d := floats.Distance(pred.data, target.data, 2)
	m.sum += d * d
	m.count += len(pred.data)
}

func (m *MeanSquaredErrorMetric) result() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

func (m *MeanSquaredErrorMetric) name() string { return "mse" }

// MeanAbsoluteErrorMetric - per-pixel L1, the pix2pix reconstruction term
type MeanAbsoluteErrorMetric struct {
	sum   float64
	count int
}

func MeanAbsoluteError() Metric {
	return &MeanAbsoluteErrorMetric{}
}

func (m *MeanAbsoluteErrorMetric) reset() {
	m.sum = 0
	m.count = 0
}

func (m *MeanAbsoluteErrorMetric) update(pred, target *Tensor) {
	m.sum += floats.Distance(pred.data, target.data, 1)
	m.count += len(pred.data)
}

func (m *MeanAbsoluteErrorMetric) result() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

func (m *MeanAbsoluteErrorMetric) name() string { return "l1" }

// PSNRMetric - peak signal-to-noise ratio in dB over the whole set.
// Identical images give +Inf.
type PSNRMetric struct {
	MaxValue float64
	mse      MeanSquaredErrorMetric
}

func PSNR(maxValue float64) Metric {
	if maxValue <= 0 {
		maxValue = 1
	}
	return &PSNRMetric{MaxValue: maxValue}
}

func (p *PSNRMetric) reset()                      { p.mse.reset() }
func (p *PSNRMetric) update(pred, target *Tensor) { p.mse.update(pred, target) }

func (p *PSNRMetric) result() float64 {
	if p.mse.count == 0 {
		return 0
	}
	mse := p.mse.result()
	if mse == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(p.MaxValue*p.MaxValue/mse)
}

func (p *PSNRMetric) name() string { return "psnr" }

// EvalMetrics summarizes a validation pass. Values are computed on
// denormalized images.
type EvalMetrics struct {
	L1      float64
	MSE     float64
	PSNR    float64
	Batches int
	Images  int
}
