// Package img2img provides the building blocks and training-support
// utilities of a pix2pix-style image-to-image translation GAN.
//
// Blocks are assembled with builders and finalized by a Sequential
// container, the same way every layer in the package is built:
//
//	enc, err := img2img.NewSequential(img2img.SequentialConfig{Seed: 42}).
//		Add(img2img.ConvBlock(3, 64, 4).
//			WithStride(2).
//			WithPadding(1).
//			WithPaddingType(img2img.PaddingReflect).
//			WithNormalization(img2img.NormNone).
//			WithActivation(img2img.ActLeakyReLU).
//			Build()).
//		Add(img2img.ConvBlocks().
//			WithLayerMultiplier(64).
//			WithMaxLayerMultiplier(256).
//			WithPadding(1).
//			WithNormalization(img2img.NormInstance).
//			Build()).
//		Add(img2img.ResBlocks(256, 4).Build()).
//		Build([]int{3, 256, 256})
//
// Training support covers checkpoints (SaveCheckpoint, LoadCheckpoint with
// a learning-rate override), sample grids written as PNG and logged to a
// SummaryWriter (SaveSomeExamples, EvaluateValSet) and epoch hooks.
package img2img

import (
	"log/slog"
	"os"
	"sync/atomic"
)

// Version of the img2img library
const Version = "0.3.0"

// DebugMode enables verbose logging and validation of every layer output
var DebugMode = false

var (
	logLevel = new(slog.LevelVar)
	logger   atomic.Pointer[slog.Logger]
)

func init() {
	logLevel.Set(slog.LevelInfo)
	logger.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// SetDebug enables or disables debug mode
func SetDebug(enabled bool) {
	DebugMode = enabled
	if enabled {
		logLevel.Set(slog.LevelDebug)
	} else {
		logLevel.Set(slog.LevelInfo)
	}
}

// Logger returns the package logger.
func Logger() *slog.Logger {
	return logger.Load()
}

// SetLogger replaces the package logger. A nil logger is ignored.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger.Store(l)
	}
}
