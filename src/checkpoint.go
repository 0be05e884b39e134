package img2img

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"

	"github.com/pkg/errors"
)

// CheckpointVersion is written into every checkpoint; LoadCheckpoint
// rejects other versions. Version 2 stores tensor values as raw
// little-endian float64 so NaN and Inf survive a round trip.
const CheckpointVersion = 2

// Checkpoint is the decoded content of a saved checkpoint.
type Checkpoint struct {
	Version   int
	Model     string
	StateDict StateDict
	Optimizer OptimizerState
}

// wireTensor and friends are the JSON layout of a checkpoint. JSON has no
// NaN or Inf, so values travel as base64 of their IEEE 754 bits.
type wireTensor struct {
	Shape []int  `json:"shape"`
	Data  []byte `json:"data"`
}

type wireOptimizer struct {
	Type        string              `json:"type"`
	Step        int                 `json:"step"`
	ParamGroups []ParamGroup        `json:"param_groups"`
	Buffers     map[string][][]byte `json:"buffers,omitempty"`
}

type wireCheckpoint struct {
	Version   int                   `json:"version"`
	Model     string                `json:"model,omitempty"`
	StateDict map[string]wireTensor `json:"state_dict"`
	Optimizer wireOptimizer         `json:"optimizer"`
}

func encodeFloats(values []float64) []byte {
	if values == nil {
		return nil
	}
	b := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return b
}

func decodeFloats(b []byte) ([]float64, error) {
	if b == nil {
		return nil, nil
	}
	if len(b)%8 != 0 {
		return nil, errors.Errorf("img2img: tensor data of %d bytes is not a float64 array", len(b))
	}
	values := make([]float64, len(b)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return values, nil
}

func toWire(c *Checkpoint) *wireCheckpoint {
	w := &wireCheckpoint{
		Version:   c.Version,
		Model:     c.Model,
		StateDict: make(map[string]wireTensor, len(c.StateDict)),
		Optimizer: wireOptimizer{
			Type:        c.Optimizer.Type,
			Step:        c.Optimizer.Step,
			ParamGroups: c.Optimizer.ParamGroups,
		},
	}
	for k, t := range c.StateDict {
		w.StateDict[k] = wireTensor{Shape: t.Shape, Data: encodeFloats(t.Data)}
	}
	if c.Optimizer.Buffers != nil {
		w.Optimizer.Buffers = make(map[string][][]byte, len(c.Optimizer.Buffers))
		for k, bufs := range c.Optimizer.Buffers {
			var enc [][]byte
			if bufs != nil {
				enc = make([][]byte, len(bufs))
				for i, b := range bufs {
					enc[i] = encodeFloats(b)
				}
			}
			w.Optimizer.Buffers[k] = enc
		}
	}
	return w
}

func fromWire(w *wireCheckpoint) (*Checkpoint, error) {
	c := &Checkpoint{
		Version:   w.Version,
		Model:     w.Model,
		StateDict: make(StateDict, len(w.StateDict)),
		Optimizer: OptimizerState{
			Type:        w.Optimizer.Type,
			Step:        w.Optimizer.Step,
			ParamGroups: w.Optimizer.ParamGroups,
		},
	}
	for k, t := range w.StateDict {
		data, err := decodeFloats(t.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "state dict entry %q", k)
		}
		c.StateDict[k] = TensorState{Shape: t.Shape, Data: data}
	}
	if w.Optimizer.Buffers != nil {
		c.Optimizer.Buffers = make(map[string][][]float64, len(w.Optimizer.Buffers))
		for k, bufs := range w.Optimizer.Buffers {
			var dec [][]float64
			if bufs != nil {
				dec = make([][]float64, len(bufs))
				for i, b := range bufs {
					values, err := decodeFloats(b)
					if err != nil {
						return nil, errors.Wrapf(err, "optimizer buffer %s[%d]", k, i)
					}
					dec[i] = values
				}
			}
			c.Optimizer.Buffers[k] = dec
		}
	}
	return c, nil
}

// EncodeCheckpoint serializes c as zlib-compressed JSON.
func EncodeCheckpoint(c *Checkpoint) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(toWire(c)); err != nil {
		zw.Close()
		return nil, errors.Wrap(err, "encode checkpoint")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "compress checkpoint")
	}
	return buf.Bytes(), nil
}

// DecodeCheckpoint is the inverse of EncodeCheckpoint.
func DecodeCheckpoint(data []byte) (*Checkpoint, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decompress checkpoint")
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(err, "decompress checkpoint")
	}
	var w wireCheckpoint
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, errors.Wrap(err, "decode checkpoint")
	}
	if w.Version != CheckpointVersion {
		return nil, errors.Errorf("img2img: unsupported checkpoint version %d", w.Version)
	}
	return fromWire(&w)
}

// SaveCheckpoint writes the model state dict and optimizer state under name.
func SaveCheckpoint(ctx context.Context, store CheckpointStore, name string, model *Sequential, opt Optimizer) error {
	Logger().Info("=> Saving checkpoint", "name", name)

	data, err := EncodeCheckpoint(&Checkpoint{
		Version:   CheckpointVersion,
		Model:     model.Name(),
		StateDict: model.StateDict(),
		Optimizer: opt.State(),
	})
	if err != nil {
		return err
	}
	return errors.Wrapf(store.Write(ctx, name, data), "save checkpoint %s", name)
}

// LoadCheckpoint restores model and optimizer from the checkpoint stored
// under name, then sets the learning rate to lr. The saved learning rate
// is discarded; without the override training would resume with whatever
// rate was in effect when the checkpoint was written.
//
// The optimizer state is validated before the model is touched, so a
// failed load leaves both unchanged.
func LoadCheckpoint(ctx context.Context, store CheckpointStore, name string, model *Sequential, opt Optimizer, lr float64) error {
	Logger().Info("=> Loading checkpoint", "name", name)

	data, err := store.Read(ctx, name)
	if err != nil {
		return errors.Wrapf(err, "load checkpoint %s", name)
	}
	c, err := DecodeCheckpoint(data)
	if err != nil {
		return errors.Wrapf(err, "load checkpoint %s", name)
	}

	prev := opt.State()
	if err := opt.LoadState(c.Optimizer); err != nil {
		return errors.Wrapf(err, "load checkpoint %s", name)
	}
	if err := model.LoadStateDict(c.StateDict); err != nil {
		if rerr := opt.LoadState(prev); rerr != nil {
			Logger().Error("restore optimizer state", "err", rerr)
		}
		return errors.Wrapf(err, "load checkpoint %s", name)
	}
	opt.SetLR(lr)
	Logger().Debug("checkpoint restored", "name", name, "tensors", len(c.StateDict), "step", c.Optimizer.Step, "lr", lr)
	return nil
}

// ResumeFromConfig restores the generator and, when disc is not nil, the
// discriminator from the files named in cfg.Checkpoint, overriding the
// learning rate with cfg.LearningRate. It does nothing and reports false
// unless cfg.Checkpoint.Load is set.
func ResumeFromConfig(ctx context.Context, cfg Config, store CheckpointStore, gen *Sequential, genOpt Optimizer, disc *Sequential, discOpt Optimizer) (bool, error) {
	if !cfg.Checkpoint.Load {
		return false, nil
	}
	if err := LoadCheckpoint(ctx, store, cfg.Checkpoint.Generator, gen, genOpt, cfg.LearningRate); err != nil {
		return false, err
	}
	if disc != nil {
		if err := LoadCheckpoint(ctx, store, cfg.Checkpoint.Discriminator, disc, discOpt, cfg.LearningRate); err != nil {
			return false, err
		}
	}
	return true, nil
}
