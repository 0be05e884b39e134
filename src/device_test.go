package img2img

import (
	"math"
	"strings"
	"sync/atomic"
	"testing"
)

func TestParseDevice(t *testing.T) {
	for _, name := range []string{"", "auto", "cpu"} {
		d, err := ParseDevice(name, 3)
		if err != nil {
			t.Fatalf("ParseDevice(%q): %v", name, err)
		}
		if d.Name != "cpu" || d.Workers != 3 || d.Cores <= 0 {
			t.Errorf("ParseDevice(%q) = %+v", name, d)
		}
	}
	if d, _ := ParseDevice("cpu", 0); d.Workers != d.Cores {
		t.Errorf("default workers = %d, want %d cores", d.Workers, d.Cores)
	}
	if _, err := ParseDevice("cuda", 0); err == nil {
		t.Error("expected error for cuda")
	}
}

func TestUseDevice(t *testing.T) {
	prev := CurrentDevice()
	defer UseDevice(prev)

	UseDevice(&Device{Name: "cpu", Workers: 0})
	if CurrentDevice().Workers != 1 {
		t.Errorf("workers = %d, want 1 for a non-positive count", CurrentDevice().Workers)
	}
	UseDevice(nil)
	if CurrentDevice() == nil {
		t.Error("nil device replaced the current one")
	}
}

func TestParallelFor(t *testing.T) {
	for _, limit := range []int{0, 1, 3, 64} {
		var hits [50]int32
		var running, peak int32
		parallelFor(len(hits), limit, func(i int) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			atomic.AddInt32(&hits[i], 1)
			atomic.AddInt32(&running, -1)
		})
		for i, h := range hits {
			if h != 1 {
				t.Fatalf("limit %d: index %d ran %d times", limit, i, h)
			}
		}
		if lim := int32(limit); lim > 0 && peak > lim {
			t.Errorf("limit %d: %d bodies ran concurrently", limit, peak)
		}
	}
	parallelFor(0, 4, func(int) { t.Error("body called for empty range") })
}

func TestScanTensor(t *testing.T) {
	x, _ := TensorFrom([]float64{1, math.NaN(), -3, math.Inf(1), 2}, 5)
	info := ScanTensor(x)
	if info.NaNCount != 1 || info.InfCount != 1 {
		t.Errorf("counts = %d NaN, %d Inf", info.NaNCount, info.InfCount)
	}
	if info.MinValue != -3 || info.MaxValue != 2 {
		t.Errorf("range = [%v, %v]", info.MinValue, info.MaxValue)
	}
	if len(info.BadIndices) != 2 || info.BadIndices[0] != 1 || info.BadIndices[1] != 3 {
		t.Errorf("bad indices = %v", info.BadIndices)
	}
	if !strings.Contains(info.Format(), "corrupt: 1 NaN, 1 Inf") {
		t.Errorf("Format = %q", info.Format())
	}

	clean := ScanTensor(NewTensor(2, 2))
	if clean.MinValue != 0 || clean.MaxValue != 0 || !strings.Contains(clean.Format(), "range=") {
		t.Errorf("clean info = %+v", clean)
	}
	if ScanTensor(nil) != nil {
		t.Error("ScanTensor(nil) != nil")
	}
}

func TestValidateTensorOutput(t *testing.T) {
	good := NewTensor(2, 3)
	if err := ValidateTensorOutput(good, 6, "conv2d", "0.conv", 0); err != nil {
		t.Errorf("valid tensor: %v", err)
	}

	nan := NewTensor(2, 3)
	nan.data[4] = math.NaN()
	inf := NewTensor(2, 3)
	inf.data[0] = math.Inf(-1)

	tests := []struct {
		name     string
		t        *Tensor
		size     int
		wantType string
	}{
		{"nil", nil, 0, "nil output"},
		{"size", good, 4, "size mismatch"},
		{"nan", nan, 0, "NaN detected"},
		{"inf", inf, 6, "Inf detected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTensorOutput(tt.t, tt.size, "conv2d", "0.conv", 2)
			le, ok := err.(*LayerError)
			if !ok {
				t.Fatalf("err = %T %v, want *LayerError", err, err)
			}
			if le.ErrorType != tt.wantType || le.LayerIndex != 2 {
				t.Errorf("error = %+v", le)
			}
			if msg := le.Error(); !strings.Contains(msg, `at layer 2 "0.conv" during forward`) {
				t.Errorf("message = %q", msg)
			}
		})
	}
}
