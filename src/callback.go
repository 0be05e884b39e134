package img2img

import (
	"context"

	"github.com/pkg/errors"
)

// EpochHook runs at the end of a training epoch.
type EpochHook interface {
	onEpochEnd(ctx context.Context, epoch int) error
	name() string
}

// CheckpointEveryHook saves the generator and discriminator every Every
// epochs (after epochs Every-1, 2*Every-1, ...). Nothing is written unless
// Save is set.
type CheckpointEveryHook struct {
	Every         int
	Save          bool
	Store         CheckpointStore
	Generator     *Sequential
	GenOptimizer  Optimizer
	GenName       string
	Discriminator *Sequential
	DiscOptimizer Optimizer
	DiscName      string
}

// CheckpointEveryConfig for CheckpointEvery. The discriminator is
// optional.
type CheckpointEveryConfig struct {
	Every         int
	Save          bool
	Store         CheckpointStore
	Generator     *Sequential
	GenOptimizer  Optimizer
	GenName       string
	Discriminator *Sequential
	DiscOptimizer Optimizer
	DiscName      string
}

func CheckpointEvery(config CheckpointEveryConfig) EpochHook {
	return &CheckpointEveryHook{
		Every:         config.Every,
		Save:          config.Save,
		Store:         config.Store,
		Generator:     config.Generator,
		GenOptimizer:  config.GenOptimizer,
		GenName:       config.GenName,
		Discriminator: config.Discriminator,
		DiscOptimizer: config.DiscOptimizer,
		DiscName:      config.DiscName,
	}
}

func due(every, epoch int) bool {
	return every > 0 && (epoch+1)%every == 0
}

func (c *CheckpointEveryHook) onEpochEnd(ctx context.Context, epoch int) error {
	if !c.Save || !due(c.Every, epoch) {
		return nil
	}
	if err := SaveCheckpoint(ctx, c.Store, c.GenName, c.Generator, c.GenOptimizer); err != nil {
		return err
	}
	if c.Discriminator == nil {
		return nil
	}
	return SaveCheckpoint(ctx, c.Store, c.DiscName, c.Discriminator, c.DiscOptimizer)
}

func (c *CheckpointEveryHook) name() string { return "checkpoint_every" }

// CheckpointHook builds a CheckpointEvery hook from cfg.Checkpoint: the
// interval, the Save switch and the generator/discriminator file names.
// disc and discOpt may be nil.
func CheckpointHook(cfg Config, store CheckpointStore, gen *Sequential, genOpt Optimizer, disc *Sequential, discOpt Optimizer) EpochHook {
	return CheckpointEvery(CheckpointEveryConfig{
		Every:         cfg.Checkpoint.Every,
		Save:          cfg.Checkpoint.Save,
		Store:         store,
		Generator:     gen,
		GenOptimizer:  genOpt,
		GenName:       cfg.Checkpoint.Generator,
		Discriminator: disc,
		DiscOptimizer: discOpt,
		DiscName:      cfg.Checkpoint.Discriminator,
	})
}

// SampleEveryHook writes sample grids with SaveSomeExamples every Every
// epochs, starting at epoch 0.
type SampleEveryHook struct {
	Every     int
	Generator Generator
	Loader    PairLoader
	Folder    string
	Writer    *SummaryWriter
	Config    Config
}

type SampleEveryConfig struct {
	Every     int
	Generator Generator
	Loader    PairLoader
	Folder    string
	Writer    *SummaryWriter
	Config    Config
}

func SampleEvery(config SampleEveryConfig) EpochHook {
	return &SampleEveryHook{
		Every:     config.Every,
		Generator: config.Generator,
		Loader:    config.Loader,
		Folder:    config.Folder,
		Writer:    config.Writer,
		Config:    config.Config,
	}
}

func (s *SampleEveryHook) onEpochEnd(ctx context.Context, epoch int) error {
	if s.Every <= 0 || epoch%s.Every != 0 {
		return nil
	}
	return SaveSomeExamples(ctx, s.Generator, s.Loader, epoch, s.Folder, s.Writer, s.Config)
}

func (s *SampleEveryHook) name() string { return "sample_every" }

// ScalarLogHook copies the values returned by Values into a SummaryWriter
// every epoch.
type ScalarLogHook struct {
	Writer *SummaryWriter
	Values func(epoch int) map[string]float64
}

func ScalarLog(writer *SummaryWriter, values func(epoch int) map[string]float64) EpochHook {
	return &ScalarLogHook{Writer: writer, Values: values}
}

func (s *ScalarLogHook) onEpochEnd(ctx context.Context, epoch int) error {
	for tag, v := range s.Values(epoch) {
		if err := s.Writer.AddScalar(tag, v, epoch); err != nil {
			return err
		}
	}
	return nil
}

func (s *ScalarLogHook) name() string { return "scalar_log" }

// RunEpochHooks runs hooks in order, stopping at the first error.
func RunEpochHooks(ctx context.Context, epoch int, hooks ...EpochHook) error {
	for _, h := range hooks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.onEpochEnd(ctx, epoch); err != nil {
			return errors.Wrapf(err, "%s hook at epoch %d", h.name(), epoch)
		}
	}
	return nil
}
