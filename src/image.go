package img2img

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// RemoveNormalization undoes (x - mean) / std channel-wise and returns a
// new tensor. mean and std hold either one value for every channel or one
// value per channel of the NCHW (or CHW) input.
func RemoveNormalization(x *Tensor, mean, std []float64) (*Tensor, error) {
	var c, hw int
	switch len(x.shape) {
	case 4:
		c, hw = x.shape[1], x.shape[2]*x.shape[3]
	case 3:
		c, hw = x.shape[0], x.shape[1]*x.shape[2]
	default:
		return nil, errors.Errorf("img2img: RemoveNormalization expects CHW or NCHW, got %v", x.shape)
	}
	channelValue := func(vals []float64, what string) (func(int) float64, error) {
		switch len(vals) {
		case 1:
			return func(int) float64 { return vals[0] }, nil
		case c:
			return func(ch int) float64 { return vals[ch] }, nil
		}
		return nil, errors.Errorf("img2img: %s has %d values for %d channels", what, len(vals), c)
	}
	meanOf, err := channelValue(mean, "mean")
	if err != nil {
		return nil, err
	}
	stdOf, err := channelValue(std, "std")
	if err != nil {
		return nil, err
	}

	out := NewTensor(x.shape...)
	for i, v := range x.data {
		ch := (i / hw) % c
		out.data[i] = v*stdOf(ch) + meanOf(ch)
	}
	return out, nil
}

// MakeGrid tiles an NCHW batch into one CHW image, nrow images per row,
// separated and bordered by padding pixels of padValue. Single-channel
// batches are expanded to three channels. A batch of one image is
// returned as is, without padding.
func MakeGrid(batch *Tensor, nrow, padding int, padValue float64) (*Tensor, error) {
	if len(batch.shape) == 3 {
		batch = &Tensor{data: batch.data, shape: append([]int{1}, batch.shape...)}
	}
	if len(batch.shape) != 4 {
		return nil, errors.Errorf("img2img: MakeGrid expects NCHW, got %v", batch.shape)
	}
	if nrow <= 0 {
		return nil, errors.Errorf("img2img: nrow must be > 0, got %d", nrow)
	}
	if padding < 0 {
		return nil, errors.Errorf("img2img: padding must be >= 0, got %d", padding)
	}
	n, c, h, w := batch.shape[0], batch.shape[1], batch.shape[2], batch.shape[3]
	if n == 0 {
		return nil, errors.New("img2img: MakeGrid on an empty batch")
	}
	outC := c
	if c == 1 {
		outC = 3
	}
	plane := h * w

	if n == 1 {
		out := NewTensor(outC, h, w)
		for ch := 0; ch < outC; ch++ {
			copy(out.data[ch*plane:(ch+1)*plane], batch.data[(ch%c)*plane:(ch%c+1)*plane])
		}
		return out, nil
	}

	xmaps := nrow
	if n < xmaps {
		xmaps = n
	}
	ymaps := (n + xmaps - 1) / xmaps
	cellH, cellW := h+padding, w+padding
	gh, gw := ymaps*cellH+padding, xmaps*cellW+padding

	grid := NewTensor(outC, gh, gw)
	grid.fill(padValue)
	for k := 0; k < n; k++ {
		top := (k/xmaps)*cellH + padding
		left := (k%xmaps)*cellW + padding
		for ch := 0; ch < outC; ch++ {
			src := batch.data[(k*c+ch%c)*plane:]
			for y := 0; y < h; y++ {
				dst := grid.data[ch*gh*gw+(top+y)*gw+left:]
				copy(dst[:w], src[y*w:(y+1)*w])
			}
		}
	}
	return grid, nil
}

// ToImage converts a CHW tensor with values in [0, 1] to an 8-bit image.
// Values are clamped and rounded to the nearest level.
func ToImage(t *Tensor) (image.Image, error) {
	if len(t.shape) != 3 {
		return nil, errors.Errorf("img2img: ToImage expects CHW, got %v", t.shape)
	}
	c, h, w := t.shape[0], t.shape[1], t.shape[2]
	plane := h * w
	level := func(v float64) uint8 {
		if math.IsNaN(v) || v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		return uint8(v*255 + 0.5)
	}

	switch c {
	case 1:
		img := image.NewGray(image.Rect(0, 0, w, h))
		for i := 0; i < plane; i++ {
			img.Pix[i] = level(t.data[i])
		}
		return img, nil
	case 3, 4:
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < plane; i++ {
			px := color.NRGBA{
				R: level(t.data[i]),
				G: level(t.data[plane+i]),
				B: level(t.data[2*plane+i]),
				A: 255,
			}
			if c == 4 {
				px.A = level(t.data[3*plane+i])
			}
			img.SetNRGBA(i%w, i/w, px)
		}
		return img, nil
	}
	return nil, errors.Errorf("img2img: cannot encode %d channels as an image", c)
}

// SaveImage writes batch as a PNG grid at path, creating parent
// directories. Pixels are expected in [0, 1].
func SaveImage(batch *Tensor, path string, nrow, padding int) error {
	grid, err := MakeGrid(batch, nrow, padding, 0)
	if err != nil {
		return err
	}
	return writePNG(grid, path)
}

func writePNG(chw *Tensor, path string) error {
	img, err := ToImage(chw)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}
