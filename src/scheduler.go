package img2img

import (
	"context"
	"math"
)

// Scheduler maps an epoch to a learning rate derived from the base rate.
type Scheduler interface {
	lr(epoch int, baseLR float64) float64
	name() string
}

// ScheduledLR returns the rate s assigns to epoch.
func ScheduledLR(s Scheduler, epoch int, baseLR float64) float64 {
	return s.lr(epoch, baseLR)
}

// ConstantScheduler keeps the base rate.
type ConstantScheduler struct{}

func ConstantLR() Scheduler { return &ConstantScheduler{} }

func (c *ConstantScheduler) lr(epoch int, baseLR float64) float64 { return baseLR }
func (c *ConstantScheduler) name() string                        { return "constant" }

// StepDecayScheduler - drops LR by factor every N epochs
type StepDecayScheduler struct {
	StepSize int
	Gamma    float64
}

type StepDecayConfig struct {
	StepSize int
	Gamma    float64
}

func StepDecay(config StepDecayConfig) Scheduler {
	if config.StepSize <= 0 {
		config.StepSize = 1
	}
	return &StepDecayScheduler{
		StepSize: config.StepSize,
		Gamma:    config.Gamma,
	}
}

func (s *StepDecayScheduler) lr(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

func (s *StepDecayScheduler) name() string { return "step_decay" }

// LinearDecayScheduler holds the base rate for Epochs epochs, then decays
// it linearly towards zero over DecayEpochs more (the pix2pix "linear"
// policy).
type LinearDecayScheduler struct {
	Epochs      int
	DecayEpochs int
}

type LinearDecayConfig struct {
	Epochs      int
	DecayEpochs int
}

func LinearDecay(config LinearDecayConfig) Scheduler {
	return &LinearDecayScheduler{
		Epochs:      config.Epochs,
		DecayEpochs: config.DecayEpochs,
	}
}

func (l *LinearDecayScheduler) lr(epoch int, baseLR float64) float64 {
	over := epoch - l.Epochs
	if over < 0 {
		over = 0
	}
	factor := 1 - float64(over)/float64(l.DecayEpochs+1)
	if factor < 0 {
		factor = 0
	}
	return baseLR * factor
}

func (l *LinearDecayScheduler) name() string { return "linear_decay" }

// CosineAnnealingScheduler - cosine annealing from the base rate to
// EtaMin over TMax epochs
type CosineAnnealingScheduler struct {
	TMax   int
	EtaMin float64
}

type CosineAnnealingConfig struct {
	TMax   int
	EtaMin float64
}

func CosineAnnealing(config CosineAnnealingConfig) Scheduler {
	if config.TMax <= 0 {
		config.TMax = 1
	}
	return &CosineAnnealingScheduler{TMax: config.TMax, EtaMin: config.EtaMin}
}

func (c *CosineAnnealingScheduler) lr(epoch int, baseLR float64) float64 {
	if epoch >= c.TMax {
		return c.EtaMin
	}
	return c.EtaMin + (baseLR-c.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(c.TMax)))/2
}

func (c *CosineAnnealingScheduler) name() string { return "cosine_annealing" }

// LRScheduleHook sets the learning rate of every optimizer for the next
// epoch.
type LRScheduleHook struct {
	Scheduler  Scheduler
	BaseLR     float64
	Optimizers []Optimizer
}

func LRSchedule(s Scheduler, baseLR float64, opts ...Optimizer) EpochHook {
	return &LRScheduleHook{Scheduler: s, BaseLR: baseLR, Optimizers: opts}
}

func (h *LRScheduleHook) onEpochEnd(ctx context.Context, epoch int) error {
	lr := h.Scheduler.lr(epoch+1, h.BaseLR)
	for _, opt := range h.Optimizers {
		opt.SetLR(lr)
	}
	Logger().Debug("learning rate updated", "schedule", h.Scheduler.name(), "epoch", epoch+1, "lr", lr)
	return nil
}

func (h *LRScheduleHook) name() string { return "lr_schedule" }
