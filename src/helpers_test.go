package img2img

import (
	"math"
	"math/rand"
	"testing"
)

func randTensor(rng *rand.Rand, shape ...int) *Tensor {
	t := NewTensor(shape...)
	for i := range t.data {
		t.data[i] = rng.Float64()*2 - 1
	}
	return t
}

func approxEqual(a, b, tol float64) bool {
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return a == b
	}
	return math.Abs(a-b) <= tol*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func buildLayer(t *testing.T, l Layer, inputShape []int) Layer {
	t.Helper()
	if err := l.build(inputShape, rand.New(rand.NewSource(7))); err != nil {
		t.Fatalf("build: %v", err)
	}
	return l
}

// weightedSum is the scalar loss sum(out * w) used by the gradient checks.
func weightedSum(out, w *Tensor) float64 {
	s := 0.0
	for i := range out.data {
		s += out.data[i] * w.data[i]
	}
	return s
}

// checkGradients compares backward against central differences for the
// input and every parameter of a built layer.
func checkGradients(t *testing.T, l Layer, x *Tensor, training bool) {
	t.Helper()
	const h = 1e-5
	const tol = 1e-4
	rng := rand.New(rand.NewSource(99))

	out, err := l.forward(x, training)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	w := randTensor(rng, out.shape...)
	for _, p := range l.parameters() {
		p.ZeroGrad()
	}
	gradX, err := l.backward(w)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	gradX = gradX.Clone()
	analytic := make([][]float64, 0)
	for _, p := range l.parameters() {
		analytic = append(analytic, append([]float64(nil), p.grad...))
	}

	loss := func() float64 {
		o, err := l.forward(x, training)
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
		return weightedSum(o, w)
	}
	numeric := func(vals []float64, i int) float64 {
		orig := vals[i]
		vals[i] = orig + h
		plus := loss()
		vals[i] = orig - h
		minus := loss()
		vals[i] = orig
		return (plus - minus) / (2 * h)
	}

	for i := range x.data {
		if got, want := gradX.data[i], numeric(x.data, i); !approxEqual(got, want, tol) {
			t.Fatalf("input grad[%d] = %.8f, numeric %.8f", i, got, want)
		}
	}
	for pi, p := range l.parameters() {
		for i := range p.data {
			if got, want := analytic[pi][i], numeric(p.data, i); !approxEqual(got, want, tol) {
				t.Fatalf("param %d grad[%d] = %.8f, numeric %.8f", pi, i, got, want)
			}
		}
	}
}

func addScalar(a *Tensor, s float64) {
	for i := range a.data {
		a.data[i] += s
	}
}

func mulScalar(a *Tensor, s float64) {
	for i := range a.data {
		a.data[i] *= s
	}
}
