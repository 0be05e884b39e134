package img2img

import (
	"math"
	"math/rand"
	"strings"

	"github.com/pkg/errors"
)

// Initializer sets up initial weights for layers. For a convolution,
// fanIn is inChannels*k*k and fanOut is filters*k*k.
type Initializer interface {
	initialize(t *Tensor, fanIn, fanOut int, rng *rand.Rand)
	name() string
}

// VarianceScalingInit draws weights with variance Gain^2 * Scale / fan,
// where fan is fan-in or the fan-in/fan-out average. It covers the
// He, Xavier and LeCun families.
type VarianceScalingInit struct {
	Gain    float64
	Scale   float64
	FanAvg  bool
	Uniform bool
	label   string
}

func (v *VarianceScalingInit) initialize(t *Tensor, fanIn, fanOut int, rng *rand.Rand) {
	fan := float64(fanIn)
	if v.FanAvg {
		fan = float64(fanIn+fanOut) / 2
	}
	if fan <= 0 {
		fan = 1
	}
	std := v.Gain * math.Sqrt(v.Scale/fan)
	if v.Uniform {
		limit := std * math.Sqrt(3)
		t.fillRandUniform(-limit, limit, rng)
		return
	}
	t.fillRandNorm(0, std, rng)
}

func (v *VarianceScalingInit) name() string { return v.label }

// HeNormal - Kaiming normal, suited to ReLU blocks
func HeNormal(gain float64) Initializer {
	return &VarianceScalingInit{Gain: gain, Scale: 2, label: "he_normal"}
}

func HeUniform(gain float64) Initializer {
	return &VarianceScalingInit{Gain: gain, Scale: 2, Uniform: true, label: "he_uniform"}
}

// XavierNormal - Glorot normal, suited to tanh/sigmoid outputs
func XavierNormal(gain float64) Initializer {
	return &VarianceScalingInit{Gain: gain, Scale: 1, FanAvg: true, label: "xavier_normal"}
}

func XavierUniform(gain float64) Initializer {
	return &VarianceScalingInit{Gain: gain, Scale: 1, FanAvg: true, Uniform: true, label: "xavier_uniform"}
}

func LeCunNormal(gain float64) Initializer {
	return &VarianceScalingInit{Gain: gain, Scale: 1, label: "lecun_normal"}
}

func LeCunUniform(gain float64) Initializer {
	return &VarianceScalingInit{Gain: gain, Scale: 1, Uniform: true, label: "lecun_uniform"}
}

// ConstantInit fills every value with Value.
type ConstantInit struct {
	Value float64
}

func Constant(value float64) Initializer { return &ConstantInit{Value: value} }
func Zeros() Initializer                 { return &ConstantInit{} }
func Ones() Initializer                  { return &ConstantInit{Value: 1} }

func (c *ConstantInit) initialize(t *Tensor, fanIn, fanOut int, rng *rand.Rand) {
	t.fill(c.Value)
}

func (c *ConstantInit) name() string {
	switch c.Value {
	case 0:
		return "zeros"
	case 1:
		return "ones"
	}
	return "constant"
}

// RandomNormalInit draws from N(Mean, StdDev^2) regardless of fan.
type RandomNormalInit struct {
	Mean   float64
	StdDev float64
}

// RandomNormal(0, 0.02) is the default for every Conv2D weight.
func RandomNormal(mean, stddev float64) Initializer {
	return &RandomNormalInit{Mean: mean, StdDev: stddev}
}

func (r *RandomNormalInit) initialize(t *Tensor, fanIn, fanOut int, rng *rand.Rand) {
	t.fillRandNorm(r.Mean, r.StdDev, rng)
}

func (r *RandomNormalInit) name() string { return "random_normal" }

// InitializerByName resolves the initializers that take no argument other
// than a gain. Names follow the initializer name() values; "pix2pix" is
// N(0, 0.02*gain).
func InitializerByName(name string, gain float64) (Initializer, error) {
	if gain == 0 {
		gain = 1
	}
	switch strings.ToLower(name) {
	case "he_normal":
		return HeNormal(gain), nil
	case "he_uniform":
		return HeUniform(gain), nil
	case "xavier_normal":
		return XavierNormal(gain), nil
	case "xavier_uniform":
		return XavierUniform(gain), nil
	case "lecun_normal":
		return LeCunNormal(gain), nil
	case "lecun_uniform":
		return LeCunUniform(gain), nil
	case "pix2pix", "random_normal":
		return RandomNormal(0, 0.02*gain), nil
	case "zeros":
		return Zeros(), nil
	case "ones":
		return Ones(), nil
	}
	return nil, errors.Errorf("img2img: unknown initializer %q", name)
}
