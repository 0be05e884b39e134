package img2img

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

// recordingStore keeps checkpoints in memory and remembers write order.
type recordingStore struct {
	writes []string
	data   map[string][]byte
}

func (s *recordingStore) Write(ctx context.Context, name string, data []byte) error {
	if s.data == nil {
		s.data = map[string][]byte{}
	}
	s.writes = append(s.writes, name)
	s.data[name] = data
	return nil
}

func (s *recordingStore) Read(ctx context.Context, name string) ([]byte, error) {
	d, ok := s.data[name]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	return d, nil
}

func (s *recordingStore) List(ctx context.Context) ([]string, error) {
	var names []string
	for k := range s.data {
		names = append(names, k)
	}
	return names, nil
}

type countingHook struct {
	calls []int
	err   error
}

func (h *countingHook) onEpochEnd(ctx context.Context, epoch int) error {
	h.calls = append(h.calls, epoch)
	return h.err
}

func (h *countingHook) name() string { return "counting" }

func TestCheckpointEvery(t *testing.T) {
	store := &recordingStore{}
	hook := CheckpointEvery(CheckpointEveryConfig{
		Every:         2,
		Save:          true,
		Store:         store,
		Generator:     smallModel(t, 1),
		GenOptimizer:  Adam(AdamConfig{LR: 2e-4, Beta1: 0.5}),
		GenName:       "gen.pth.tar",
		Discriminator: smallModel(t, 2),
		DiscOptimizer: Adam(AdamConfig{LR: 2e-4, Beta1: 0.5}),
		DiscName:      "disc.pth.tar",
	})
	var perEpoch []int
	for epoch := 0; epoch < 4; epoch++ {
		before := len(store.writes)
		if err := RunEpochHooks(context.Background(), epoch, hook); err != nil {
			t.Fatal(err)
		}
		perEpoch = append(perEpoch, len(store.writes)-before)
	}
	want := []int{0, 2, 0, 2}
	for i := range want {
		if perEpoch[i] != want[i] {
			t.Fatalf("writes per epoch = %v, want %v", perEpoch, want)
		}
	}
	if store.writes[0] != "gen.pth.tar" || store.writes[1] != "disc.pth.tar" {
		t.Errorf("write order = %v", store.writes)
	}

	genOnly := &recordingStore{}
	h := CheckpointEvery(CheckpointEveryConfig{Every: 1, Save: true, Store: genOnly, Generator: smallModel(t, 1), GenOptimizer: SGD(SGDConfig{LR: 0.1}), GenName: "g"})
	if err := RunEpochHooks(context.Background(), 0, h); err != nil {
		t.Fatal(err)
	}
	if len(genOnly.writes) != 1 {
		t.Errorf("writes = %v, want only the generator", genOnly.writes)
	}

	disabled := &recordingStore{}
	h = CheckpointEvery(CheckpointEveryConfig{Save: true, Store: disabled, Generator: smallModel(t, 1), GenOptimizer: SGD(SGDConfig{LR: 0.1}), GenName: "g"})
	for epoch := 0; epoch < 3; epoch++ {
		if err := RunEpochHooks(context.Background(), epoch, h); err != nil {
			t.Fatal(err)
		}
	}
	if len(disabled.writes) != 0 {
		t.Errorf("Every=0 wrote %v", disabled.writes)
	}
}

func TestCheckpointHookFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Checkpoint.Every = 1
	cfg.Checkpoint.Generator, cfg.Checkpoint.Discriminator = "g.ckpt", "d.ckpt"

	store := &recordingStore{}
	hook := CheckpointHook(cfg, store, smallModel(t, 1), SGD(SGDConfig{LR: 0.1}), smallModel(t, 2), SGD(SGDConfig{LR: 0.1}))
	if err := RunEpochHooks(context.Background(), 0, hook); err != nil {
		t.Fatal(err)
	}
	if len(store.writes) != 2 || store.writes[0] != "g.ckpt" || store.writes[1] != "d.ckpt" {
		t.Errorf("writes = %v, want [g.ckpt d.ckpt]", store.writes)
	}

	cfg.Checkpoint.Save = false
	off := &recordingStore{}
	hook = CheckpointHook(cfg, off, smallModel(t, 1), SGD(SGDConfig{LR: 0.1}), smallModel(t, 2), SGD(SGDConfig{LR: 0.1}))
	for epoch := 0; epoch < 3; epoch++ {
		if err := RunEpochHooks(context.Background(), epoch, hook); err != nil {
			t.Fatal(err)
		}
	}
	if len(off.writes) != 0 {
		t.Errorf("Save=false wrote %v", off.writes)
	}
}

func TestSampleEvery(t *testing.T) {
	folder := t.TempDir()
	hook := SampleEvery(SampleEveryConfig{
		Every:     2,
		Generator: &shiftGen{},
		Loader:    valLoader(t, 2, 3, 4),
		Folder:    folder,
		Config:    DefaultConfig(),
	})
	for epoch := 0; epoch < 4; epoch++ {
		if err := RunEpochHooks(context.Background(), epoch, hook); err != nil {
			t.Fatal(err)
		}
	}
	for epoch, want := range []bool{true, false, true, false} {
		_, err := os.Stat(filepath.Join(folder, fmt.Sprintf("sample_%d.png", epoch)))
		if (err == nil) != want {
			t.Errorf("sample_%d.png exists=%v, want %v", epoch, err == nil, want)
		}
	}
}

func TestRunEpochHooksStopsAtFirstError(t *testing.T) {
	first := &countingHook{err: errors.New("disk full")}
	second := &countingHook{}
	err := RunEpochHooks(context.Background(), 3, first, second)
	if err == nil || !strings.Contains(err.Error(), "counting hook at epoch 3") || errors.Cause(err).Error() != "disk full" {
		t.Fatalf("err = %v", err)
	}
	if len(second.calls) != 0 {
		t.Error("hook after the failing one ran")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := &countingHook{}
	if err := RunEpochHooks(ctx, 0, h); !errors.Is(err, context.Canceled) || len(h.calls) != 0 {
		t.Errorf("canceled run: err=%v calls=%v", err, h.calls)
	}
}

func TestScalarLogAndLRSchedule(t *testing.T) {
	w, err := NewSummaryWriter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	gen := Adam(AdamConfig{LR: 1})
	disc := SGD(SGDConfig{LR: 1})
	hooks := []EpochHook{
		ScalarLog(w, func(epoch int) map[string]float64 {
			return map[string]float64{"lr": gen.LR()}
		}),
		LRSchedule(LinearDecay(LinearDecayConfig{Epochs: 1, DecayEpochs: 3}), 1, gen, disc),
	}
	for epoch := 0; epoch < 4; epoch++ {
		if err := RunEpochHooks(context.Background(), epoch, hooks...); err != nil {
			t.Fatal(err)
		}
	}
	events, err := w.Scalars("lr")
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 1, 0.75, 0.5}
	if len(events) != len(want) {
		t.Fatalf("got %d lr events", len(events))
	}
	for i, e := range events {
		if !approxEqual(e.Value, want[i], 1e-12) {
			t.Errorf("lr at epoch %d = %v, want %v", i, e.Value, want[i])
		}
	}
	if !approxEqual(disc.LR(), 0.25, 1e-12) {
		t.Errorf("discriminator lr = %v, want 0.25", disc.LR())
	}
}
