package img2img

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Tensor is a dense row-major float64 tensor with a gradient buffer.
// Image batches use the NCHW layout.
type Tensor struct {
	data   []float64
	shape  []int
	stride []int
	grad   []float64
}

// NewTensor allocates a zero tensor. Negative dimensions are treated as 0.
func NewTensor(shape ...int) *Tensor {
	dims := make([]int, len(shape))
	size := 1
	for i, s := range shape {
		if s < 0 {
			s = 0
		}
		dims[i] = s
		size *= s
	}
	stride := make([]int, len(dims))
	for i := len(dims) - 1; i >= 0; i-- {
		if i == len(dims)-1 {
			stride[i] = 1
		} else {
			stride[i] = stride[i+1] * dims[i+1]
		}
	}
	return &Tensor{
		data:   make([]float64, size),
		shape:  dims,
		stride: stride,
		grad:   make([]float64, size),
	}
}

// TensorFrom copies data into a new tensor of the given shape.
func TensorFrom(data []float64, shape ...int) (*Tensor, error) {
	t := NewTensor(shape...)
	if len(data) != len(t.data) {
		return nil, errors.Errorf("img2img: %d values do not fill shape %v (%d elements)", len(data), shape, len(t.data))
	}
	copy(t.data, data)
	return t, nil
}

// Shape returns a copy of the tensor dimensions.
func (t *Tensor) Shape() []int {
	s := make([]int, len(t.shape))
	copy(s, t.shape)
	return s
}

// Data exposes the underlying values.
func (t *Tensor) Data() []float64 { return t.data }

// Grad exposes the gradient buffer.
func (t *Tensor) Grad() []float64 { return t.grad }

// Size is the number of elements.
func (t *Tensor) Size() int { return len(t.data) }

// At reads a single element.
func (t *Tensor) At(indices ...int) float64 {
	return t.data[t.offset(indices)]
}

// Set writes a single element.
func (t *Tensor) Set(value float64, indices ...int) {
	t.data[t.offset(indices)] = value
}

func (t *Tensor) offset(indices []int) int {
	idx := 0
	for i, v := range indices {
		idx += v * t.stride[i]
	}
	return idx
}

// Clone deep-copies values and gradients.
func (t *Tensor) Clone() *Tensor {
	nt := NewTensor(t.shape...)
	copy(nt.data, t.data)
	copy(nt.grad, t.grad)
	return nt
}

// ZeroGrad clears the gradient buffer.
func (t *Tensor) ZeroGrad() {
	for i := range t.grad {
		t.grad[i] = 0
	}
}

func (t *Tensor) fill(value float64) {
	for i := range t.data {
		t.data[i] = value
	}
}

func (t *Tensor) fillRandNorm(mean, std float64, rng *rand.Rand) {
	for i := range t.data {
		t.data[i] = rng.NormFloat64()*std + mean
	}
}

func (t *Tensor) fillRandUniform(low, high float64, rng *rand.Rand) {
	for i := range t.data {
		t.data[i] = rng.Float64()*(high-low) + low
	}
}

// Cat concatenates tensors along dim. All other dimensions must agree.
func Cat(dim int, tensors ...*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, errors.New("img2img: Cat needs at least one tensor")
	}
	first := tensors[0]
	rank := len(first.shape)
	if dim < 0 || dim >= rank {
		return nil, errors.Errorf("img2img: Cat dim %d out of range for rank %d", dim, rank)
	}
	outShape := first.Shape()
	outShape[dim] = 0
	for i, t := range tensors {
		if len(t.shape) != rank {
			return nil, errors.Errorf("img2img: Cat tensor %d has rank %d, want %d", i, len(t.shape), rank)
		}
		for d := range t.shape {
			if d != dim && t.shape[d] != first.shape[d] {
				return nil, errors.Errorf("img2img: Cat tensor %d shape %v incompatible with %v at dim %d", i, t.shape, first.shape, d)
			}
		}
		outShape[dim] += t.shape[dim]
	}

	outer := 1
	for _, s := range first.shape[:dim] {
		outer *= s
	}
	inner := 1
	for _, s := range first.shape[dim+1:] {
		inner *= s
	}

	out := NewTensor(outShape...)
	pos := 0
	for o := 0; o < outer; o++ {
		for _, t := range tensors {
			n := t.shape[dim] * inner
			copy(out.data[pos:pos+n], t.data[o*n:(o+1)*n])
			pos += n
		}
	}
	return out, nil
}

func elemAdd(a, b, out *Tensor) {
	for i := range a.data {
		out.data[i] = a.data[i] + b.data[i]
	}
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func validateShape(expected, got []int) error {
	if len(expected) != len(got) {
		return errors.Errorf("img2img: shape mismatch - expected %d dimensions, got %d", len(expected), len(got))
	}
	if !sameShape(expected, got) {
		return errors.Errorf("img2img: shape mismatch - expected %v, got %v", expected, got)
	}
	return nil
}
