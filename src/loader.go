package img2img

import (
	"math/rand"

	"github.com/pkg/errors"
)

// PairLoader yields (input, target) batches of NCHW tensors.
type PairLoader interface {
	// Next returns the next batch, or ok=false once the pass is exhausted.
	Next() (x, y *Tensor, ok bool)
	// Reset starts a new pass.
	Reset()
}

// SliceLoader serves batches from in-memory input and target tensors that
// share their first (sample) dimension.
type SliceLoader struct {
	inputs    *Tensor
	targets   *Tensor
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	order     []int
	pos       int
}

// LoaderConfig for NewSliceLoader
type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	Seed      int64
}

// NewSliceLoader validates the tensors and prepares the first pass.
func NewSliceLoader(inputs, targets *Tensor, config LoaderConfig) (*SliceLoader, error) {
	if len(inputs.shape) == 0 || len(targets.shape) == 0 {
		return nil, errors.New("img2img: loader tensors need a sample dimension")
	}
	if inputs.shape[0] != targets.shape[0] {
		return nil, errors.Errorf("img2img: %d inputs but %d targets", inputs.shape[0], targets.shape[0])
	}
	if config.BatchSize <= 0 {
		return nil, errors.Errorf("img2img: BatchSize must be > 0, got %d", config.BatchSize)
	}
	l := &SliceLoader{
		inputs:    inputs,
		targets:   targets,
		batchSize: config.BatchSize,
		shuffle:   config.Shuffle,
		rng:       rand.New(rand.NewSource(config.Seed)),
		order:     make([]int, inputs.shape[0]),
	}
	l.Reset()
	return l, nil
}

// Len is the number of batches per pass.
func (l *SliceLoader) Len() int {
	return (len(l.order) + l.batchSize - 1) / l.batchSize
}

// Reset rewinds the loader, drawing a new order when shuffling.
func (l *SliceLoader) Reset() {
	for i := range l.order {
		l.order[i] = i
	}
	if l.shuffle {
		for i := len(l.order) - 1; i > 0; i-- {
			j := l.rng.Intn(i + 1)
			l.order[i], l.order[j] = l.order[j], l.order[i]
		}
	}
	l.pos = 0
}

func (l *SliceLoader) Next() (*Tensor, *Tensor, bool) {
	if l.pos >= len(l.order) {
		return nil, nil, false
	}
	end := l.pos + l.batchSize
	if end > len(l.order) {
		end = len(l.order)
	}
	idx := l.order[l.pos:end]
	l.pos = end
	return gatherRows(l.inputs, idx), gatherRows(l.targets, idx), true
}

// gatherRows copies the samples idx of data into a new batch tensor.
func gatherRows(data *Tensor, idx []int) *Tensor {
	batch := NewTensor(append([]int{len(idx)}, data.shape[1:]...)...)
	cols := 0
	if data.shape[0] > 0 {
		cols = len(data.data) / data.shape[0]
	}
	for i, row := range idx {
		copy(batch.data[i*cols:(i+1)*cols], data.data[row*cols:(row+1)*cols])
	}
	return batch
}
