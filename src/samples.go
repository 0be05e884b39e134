package img2img

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
)

// Generator is the part of a model the visualization helpers need.
// *Sequential implements it.
type Generator interface {
	Forward(x *Tensor) (*Tensor, error)
	Train()
	Eval()
	IsTraining() bool
}

// withEval runs fn with gen in evaluation mode and restores the previous
// mode afterwards, also when fn fails.
func withEval(gen Generator, fn func() error) error {
	if gen.IsTraining() {
		gen.Eval()
		defer gen.Train()
	}
	return fn()
}

// SaveSomeExamples renders the first validation batch through gen and
// writes folder/sample_{epoch}.png: denormalized inputs and generated
// images side by side. At epoch 0 it also writes the denormalized targets
// to folder/label_0.png and logs the generator graph. The grid is logged
// to writer (when not nil) under "test_image epoch={epoch}".
func SaveSomeExamples(ctx context.Context, gen Generator, valLoader PairLoader, epoch int, folder string, writer *SummaryWriter, cfg Config) error {
	valLoader.Reset()
	x, y, ok := valLoader.Next()
	if !ok {
		return errors.New("img2img: validation loader yielded no batch")
	}

	return withEval(gen, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if epoch == 0 {
			if seq, ok := gen.(*Sequential); ok && writer != nil {
				if err := writer.AddGraph(seq, x); err != nil {
					return err
				}
			}
			label, err := RemoveNormalization(y, cfg.NormMean, cfg.NormStd)
			if err != nil {
				return err
			}
			if err := SaveImage(label, filepath.Join(folder, "label_0.png"), cfg.GridRows, cfg.GridPadding); err != nil {
				return errors.Wrap(err, "save labels")
			}
		}

		fake, err := gen.Forward(x)
		if err != nil {
			return errors.Wrapf(err, "generate samples for epoch %d", epoch)
		}
		pair, err := sideBySide(x, fake, cfg)
		if err != nil {
			return err
		}
		path := filepath.Join(folder, fmt.Sprintf("sample_%d.png", epoch))
		if err := SaveImage(pair, path, cfg.GridRows, cfg.GridPadding); err != nil {
			return errors.Wrapf(err, "save samples for epoch %d", epoch)
		}
		Logger().Debug("samples saved", "epoch", epoch, "path", path)

		if writer == nil {
			return nil
		}
		grid, err := MakeGrid(pair, cfg.GridRows, cfg.GridPadding, 0)
		if err != nil {
			return err
		}
		return writer.AddImage(fmt.Sprintf("test_image epoch=%d", epoch), grid, epoch)
	})
}

// EvaluateValSet runs gen over every validation batch and writes
// folder/val_{idx}.png with targets and generated images side by side.
// It returns L1, MSE and PSNR of the generated images against the
// targets, measured after denormalization.
//
// Targets are denormalized like the generated images before they are
// saved, so both halves of val_{idx}.png share the [0, 1] range. A raw
// normalized target would render with a shifted range next to the
// output, so it is never written as is.
func EvaluateValSet(ctx context.Context, gen Generator, valLoader PairLoader, folder string, cfg Config) (EvalMetrics, error) {
	var res EvalMetrics
	l1, mse, psnr := MeanAbsoluteError(), MeanSquaredError(), PSNR(1)

	err := withEval(gen, func() error {
		valLoader.Reset()
		for idx := 0; ; idx++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			x, y, ok := valLoader.Next()
			if !ok {
				return nil
			}
			fake, err := gen.Forward(x)
			if err != nil {
				return errors.Wrapf(err, "generate batch %d", idx)
			}
			if !sameShape(fake.shape, y.shape) {
				return errors.Errorf("img2img: generator output %v does not match target %v", fake.shape, y.shape)
			}
			fakeDen, err := RemoveNormalization(fake, cfg.NormMean, cfg.NormStd)
			if err != nil {
				return err
			}
			yDen, err := RemoveNormalization(y, cfg.NormMean, cfg.NormStd)
			if err != nil {
				return err
			}
			pair, err := Cat(3, yDen, fakeDen)
			if err != nil {
				return err
			}

			Logger().Info(fmt.Sprintf("Saving %d image", idx))
			if err := SaveImage(pair, filepath.Join(folder, fmt.Sprintf("val_%d.png", idx)), cfg.GridRows, cfg.GridPadding); err != nil {
				return errors.Wrapf(err, "save batch %d", idx)
			}
			for _, m := range []Metric{l1, mse, psnr} {
				m.update(fakeDen, yDen)
			}
			res.Batches++
			res.Images += y.shape[0]
		}
	})
	if err != nil {
		return EvalMetrics{}, err
	}
	res.L1, res.MSE, res.PSNR = l1.result(), mse.result(), psnr.result()
	return res, nil
}

// sideBySide denormalizes input and output and joins them along width.
func sideBySide(x, out *Tensor, cfg Config) (*Tensor, error) {
	xDen, err := RemoveNormalization(x, cfg.NormMean, cfg.NormStd)
	if err != nil {
		return nil, err
	}
	outDen, err := RemoveNormalization(out, cfg.NormMean, cfg.NormStd)
	if err != nil {
		return nil, err
	}
	return Cat(3, xDen, outDen)
}
