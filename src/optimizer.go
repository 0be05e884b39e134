package img2img

import (
	"math"

	"github.com/pkg/errors"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	Step(params []*Tensor) error
	LR() float64
	SetLR(lr float64)
	Name() string
	State() OptimizerState
	LoadState(state OptimizerState) error
}

// ParamGroup holds the hyperparameters of one parameter group.
type ParamGroup struct {
	LR    float64            `json:"lr"`
	Hyper map[string]float64 `json:"hyper,omitempty"`
}

// OptimizerState is the serializable optimizer state: hyperparameters,
// step count and per-parameter buffers in parameter order.
type OptimizerState struct {
	Type        string                 `json:"type"`
	Step        int                    `json:"step"`
	ParamGroups []ParamGroup           `json:"param_groups"`
	Buffers     map[string][][]float64 `json:"buffers,omitempty"`
}

func zeroBuffers(params []*Tensor) [][]float64 {
	bufs := make([][]float64, len(params))
	for i, p := range params {
		bufs[i] = make([]float64, len(p.data))
	}
	return bufs
}

func checkBuffers(kind string, bufs [][]float64, params []*Tensor) error {
	if len(bufs) != len(params) {
		return errors.Errorf("img2img: optimizer %s state covers %d parameters, model has %d", kind, len(bufs), len(params))
	}
	for i, p := range params {
		if len(bufs[i]) != len(p.data) {
			return errors.Errorf("img2img: optimizer %s state for parameter %d has %d values, want %d", kind, i, len(bufs[i]), len(p.data))
		}
	}
	return nil
}

func copyBuffers(bufs [][]float64) [][]float64 {
	if bufs == nil {
		return nil
	}
	out := make([][]float64, len(bufs))
	for i, b := range bufs {
		out[i] = append([]float64(nil), b...)
	}
	return out
}

func singleGroup(state OptimizerState, want string) (ParamGroup, error) {
	if state.Type != want {
		return ParamGroup{}, errors.Errorf("img2img: cannot load %q optimizer state into %q", state.Type, want)
	}
	if len(state.ParamGroups) != 1 {
		return ParamGroup{}, errors.Errorf("img2img: expected 1 parameter group, got %d", len(state.ParamGroups))
	}
	return state.ParamGroups[0], nil
}

// SGDOptimizer - Stochastic Gradient Descent
type SGDOptimizer struct {
	lr          float64
	Momentum    float64
	Dampening   float64
	WeightDecay float64
	Nesterov    bool
	velocities  [][]float64
	steps       int
}

type SGDConfig struct {
	LR          float64
	Momentum    float64
	Dampening   float64
	WeightDecay float64
	Nesterov    bool
}

func SGD(config SGDConfig) *SGDOptimizer {
	return &SGDOptimizer{
		lr:          config.LR,
		Momentum:    config.Momentum,
		Dampening:   config.Dampening,
		WeightDecay: config.WeightDecay,
		Nesterov:    config.Nesterov,
	}
}

func (s *SGDOptimizer) Step(params []*Tensor) error {
	if s.velocities == nil {
		s.velocities = zeroBuffers(params)
	}
	if err := checkBuffers("momentum", s.velocities, params); err != nil {
		return err
	}
	s.steps++
	for i, p := range params {
		v := s.velocities[i]
		for j := range p.data {
			grad := p.grad[j]
			if s.WeightDecay != 0 {
				grad += s.WeightDecay * p.data[j]
			}
			if s.Momentum != 0 {
				if s.steps == 1 {
					v[j] = grad
				} else {
					v[j] = s.Momentum*v[j] + (1-s.Dampening)*grad
				}
				if s.Nesterov {
					grad += s.Momentum * v[j]
				} else {
					grad = v[j]
				}
			}
			p.data[j] -= s.lr * grad
		}
	}
	return nil
}

func (s *SGDOptimizer) LR() float64      { return s.lr }
func (s *SGDOptimizer) SetLR(lr float64) { s.lr = lr }
func (s *SGDOptimizer) Name() string     { return "sgd" }

func (s *SGDOptimizer) State() OptimizerState {
	nesterov := 0.0
	if s.Nesterov {
		nesterov = 1
	}
	return OptimizerState{
		Type: s.Name(),
		Step: s.steps,
		ParamGroups: []ParamGroup{{
			LR: s.lr,
			Hyper: map[string]float64{
				"momentum":     s.Momentum,
				"dampening":    s.Dampening,
				"weight_decay": s.WeightDecay,
				"nesterov":     nesterov,
			},
		}},
		Buffers: map[string][][]float64{"momentum": copyBuffers(s.velocities)},
	}
}

func (s *SGDOptimizer) LoadState(state OptimizerState) error {
	g, err := singleGroup(state, s.Name())
	if err != nil {
		return err
	}
	s.lr = g.LR
	s.Momentum = g.Hyper["momentum"]
	s.Dampening = g.Hyper["dampening"]
	s.WeightDecay = g.Hyper["weight_decay"]
	s.Nesterov = g.Hyper["nesterov"] != 0
	s.steps = state.Step
	s.velocities = copyBuffers(state.Buffers["momentum"])
	return nil
}

// AdamOptimizer - Adaptive Moment Estimation
type AdamOptimizer struct {
	lr          float64
	Beta1       float64
	Beta2       float64
	Epsilon     float64
	WeightDecay float64
	AMSGrad     bool
	decoupled   bool
	m           [][]float64
	v           [][]float64
	vMax        [][]float64
	t           int
}

type AdamConfig struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Epsilon     float64
	WeightDecay float64
	AMSGrad     bool
}

// Adam with L2 weight decay folded into the gradient. pix2pix trains with
// LR 2e-4, Beta1 0.5 and Beta2 0.999. Zero Beta2 and Epsilon take the
// usual defaults (0.999, 1e-8).
func Adam(config AdamConfig) *AdamOptimizer {
	if config.Beta2 == 0 {
		config.Beta2 = 0.999
	}
	if config.Epsilon == 0 {
		config.Epsilon = 1e-8
	}
	return &AdamOptimizer{
		lr:          config.LR,
		Beta1:       config.Beta1,
		Beta2:       config.Beta2,
		Epsilon:     config.Epsilon,
		WeightDecay: config.WeightDecay,
		AMSGrad:     config.AMSGrad,
	}
}

// AdamW is Adam with decoupled weight decay
func AdamW(config AdamConfig) *AdamOptimizer {
	a := Adam(config)
	a.decoupled = true
	return a
}

func (a *AdamOptimizer) Step(params []*Tensor) error {
	if a.m == nil {
		a.m = zeroBuffers(params)
		a.v = zeroBuffers(params)
	}
	if a.AMSGrad && a.vMax == nil {
		a.vMax = zeroBuffers(params)
	}
	if err := checkBuffers("exp_avg", a.m, params); err != nil {
		return err
	}
	if err := checkBuffers("exp_avg_sq", a.v, params); err != nil {
		return err
	}
	if a.AMSGrad {
		if err := checkBuffers("max_exp_avg_sq", a.vMax, params); err != nil {
			return err
		}
	}

	a.t++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.t))

	for i, p := range params {
		m := a.m[i]
		v := a.v[i]
		for j := range p.data {
			grad := p.grad[j]
			if a.WeightDecay != 0 {
				if a.decoupled {
					p.data[j] -= a.lr * a.WeightDecay * p.data[j]
				} else {
					grad += a.WeightDecay * p.data[j]
				}
			}
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*grad
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*grad*grad

			mHat := m[j] / bc1
			vHat := v[j] / bc2
			if a.AMSGrad {
				// the max is kept over the raw second moment
				if v[j] > a.vMax[i][j] {
					a.vMax[i][j] = v[j]
				}
				vHat = a.vMax[i][j] / bc2
			}
			p.data[j] -= a.lr * mHat / (math.Sqrt(vHat) + a.Epsilon)
		}
	}
	return nil
}

func (a *AdamOptimizer) LR() float64      { return a.lr }
func (a *AdamOptimizer) SetLR(lr float64) { a.lr = lr }

func (a *AdamOptimizer) Name() string {
	if a.decoupled {
		return "adamw"
	}
	return "adam"
}

func (a *AdamOptimizer) State() OptimizerState {
	amsgrad := 0.0
	if a.AMSGrad {
		amsgrad = 1
	}
	bufs := map[string][][]float64{
		"exp_avg":    copyBuffers(a.m),
		"exp_avg_sq": copyBuffers(a.v),
	}
	if a.AMSGrad {
		bufs["max_exp_avg_sq"] = copyBuffers(a.vMax)
	}
	return OptimizerState{
		Type: a.Name(),
		Step: a.t,
		ParamGroups: []ParamGroup{{
			LR: a.lr,
			Hyper: map[string]float64{
				"beta1":        a.Beta1,
				"beta2":        a.Beta2,
				"eps":          a.Epsilon,
				"weight_decay": a.WeightDecay,
				"amsgrad":      amsgrad,
			},
		}},
		Buffers: bufs,
	}
}

func (a *AdamOptimizer) LoadState(state OptimizerState) error {
	g, err := singleGroup(state, a.Name())
	if err != nil {
		return err
	}
	a.lr = g.LR
	a.Beta1 = g.Hyper["beta1"]
	a.Beta2 = g.Hyper["beta2"]
	a.Epsilon = g.Hyper["eps"]
	a.WeightDecay = g.Hyper["weight_decay"]
	a.AMSGrad = g.Hyper["amsgrad"] != 0
	a.t = state.Step
	a.m = copyBuffers(state.Buffers["exp_avg"])
	a.v = copyBuffers(state.Buffers["exp_avg_sq"])
	a.vMax = copyBuffers(state.Buffers["max_exp_avg_sq"])
	return nil
}
