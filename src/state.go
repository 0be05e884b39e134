package img2img

import (
	"sort"

	"github.com/pkg/errors"
)

// TensorState is the serialized form of one tensor.
type TensorState struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// StateDict maps hierarchical tensor names (e.g. "0.conv.weight") to
// their values.
type StateDict map[string]TensorState

// Keys returns the entry names in sorted order.
func (s StateDict) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func snapshot(t *Tensor) TensorState {
	data := make([]float64, len(t.data))
	copy(data, t.data)
	return TensorState{Shape: t.Shape(), Data: data}
}

func stateDictOf(entries []namedTensor) StateDict {
	sd := make(StateDict, len(entries))
	for _, e := range entries {
		sd[e.name] = snapshot(e.tensor)
	}
	return sd
}

// loadState copies sd into entries. Every entry must be present with a
// matching shape and sd must not carry unknown names; nothing is written
// unless the whole dict matches.
func loadState(entries []namedTensor, sd StateDict) error {
	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		known[e.name] = true
		st, ok := sd[e.name]
		if !ok {
			return errors.Errorf("img2img: missing key %q in state dict", e.name)
		}
		if !sameShape(st.Shape, e.tensor.shape) {
			return errors.Errorf("img2img: size mismatch for %q: checkpoint %v, model %v", e.name, st.Shape, e.tensor.shape)
		}
		if len(st.Data) != len(e.tensor.data) {
			return errors.Errorf("img2img: %q holds %d values, want %d", e.name, len(st.Data), len(e.tensor.data))
		}
	}
	for _, k := range sd.Keys() {
		if !known[k] {
			return errors.Errorf("img2img: unexpected key %q in state dict", k)
		}
	}
	for _, e := range entries {
		copy(e.tensor.data, sd[e.name].Data)
	}
	return nil
}
