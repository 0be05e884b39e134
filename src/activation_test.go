package img2img

import (
	"math"
	"math/rand"
	"testing"
)

func TestActivationValues(t *testing.T) {
	x, _ := TensorFrom([]float64{-2, -0.5, 0, 1.5}, 1, 1, 2, 2)
	tests := []struct {
		typ  ActivationType
		want []float64
	}{
		{ActReLU, []float64{0, 0, 0, 1.5}},
		{ActLeakyReLU, []float64{-0.4, -0.1, 0, 1.5}},
		{ActTanh, []float64{math.Tanh(-2), math.Tanh(-0.5), 0, math.Tanh(1.5)}},
		{ActSigmoid, []float64{1 / (1 + math.Exp(2)), 1 / (1 + math.Exp(0.5)), 0.5, 1 / (1 + math.Exp(-1.5))}},
		{ActNone, []float64{-2, -0.5, 0, 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			l, err := activationFor(tt.typ)
			if err != nil {
				t.Fatal(err)
			}
			buildLayer(t, l, []int{1, 2, 2})
			out, err := l.forward(x, true)
			if err != nil {
				t.Fatal(err)
			}
			for i, v := range tt.want {
				if !approxEqual(out.data[i], v, 1e-12) {
					t.Errorf("out[%d] = %v, want %v", i, out.data[i], v)
				}
			}
		})
	}
	if _, err := activationFor(ActivationType(42)); err == nil {
		t.Error("expected error for unknown activation type")
	}
}

func TestSigmoidStable(t *testing.T) {
	if v := sigmoid(-1000); v != 0 || math.IsNaN(v) {
		t.Errorf("sigmoid(-1000) = %v", v)
	}
	if v := sigmoid(1000); v != 1 {
		t.Errorf("sigmoid(1000) = %v", v)
	}
}

func TestActivationGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	for _, act := range []Activation{LeakyReLU(0.2), Tanh(), Sigmoid()} {
		t.Run(act.name(), func(t *testing.T) {
			l := buildLayer(t, ActivationOf(act), []int{2, 2, 2})
			checkGradients(t, l, randTensor(rng, 2, 2, 2, 2), true)
		})
	}
}

func TestDropout(t *testing.T) {
	d := buildLayer(t, Dropout(0.5), []int{1, 8, 8})
	x := NewTensor(4, 1, 8, 8)
	x.fill(1)

	out, err := d.forward(x, false)
	if err != nil || out != x {
		t.Fatalf("evaluation dropout must pass input through: %v", err)
	}

	out, err = d.forward(x, true)
	if err != nil {
		t.Fatal(err)
	}
	zeros := 0
	for _, v := range out.data {
		switch v {
		case 0:
			zeros++
		case 2:
		default:
			t.Fatalf("kept values must be scaled by 1/(1-rate), got %v", v)
		}
	}
	if zeros == 0 || zeros == len(out.data) {
		t.Errorf("dropped %d of %d values", zeros, len(out.data))
	}

	g := NewTensor(x.shape...)
	g.fill(1)
	gin, err := d.backward(g)
	if err != nil {
		t.Fatal(err)
	}
	for i := range gin.data {
		if gin.data[i] != out.data[i] {
			t.Fatal("dropout gradient must reuse the forward mask")
		}
	}

	if err := Dropout(1).build([]int{1}, rand.New(rand.NewSource(1))); err == nil {
		t.Error("expected error for rate 1")
	}
}
