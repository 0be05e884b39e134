package img2img

import (
	"fmt"
	"math"
	"strings"
)

// TensorInfo captures tensor state for error reporting
type TensorInfo struct {
	Shape      []int
	Size       int
	NaNCount   int
	InfCount   int
	MinValue   float64
	MaxValue   float64
	BadIndices []int // first 10 corrupted indices
}

// Format returns a compact string representation
func (t *TensorInfo) Format() string {
	s := fmt.Sprintf("%v size=%d", t.Shape, t.Size)
	if t.NaNCount > 0 || t.InfCount > 0 {
		s += fmt.Sprintf(" (corrupt: %d NaN, %d Inf)", t.NaNCount, t.InfCount)
	} else {
		s += fmt.Sprintf(" range=[%.4f, %.4f]", t.MinValue, t.MaxValue)
	}
	return s
}

// LayerError reports a failure located at one layer of a model.
type LayerError struct {
	Component    string // "conv2d", "batch_norm2d", ...
	ErrorType    string // "NaN detected", "shape mismatch"
	LayerIndex   int
	LayerName    string
	Phase        string // "forward", "backward", "build", "load"
	OutputInfo   *TensorInfo
	ExpectedInfo string
	Cause        string
}

func (e *LayerError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "img2img: %s %s at layer %d", e.Component, e.ErrorType, e.LayerIndex)
	if e.LayerName != "" {
		fmt.Fprintf(&b, " %q", e.LayerName)
	}
	if e.Phase != "" {
		fmt.Fprintf(&b, " during %s", e.Phase)
	}
	b.WriteString("\n")
	if e.OutputInfo != nil {
		fmt.Fprintf(&b, "  output:   %s\n", e.OutputInfo.Format())
	}
	if e.ExpectedInfo != "" {
		fmt.Fprintf(&b, "  expected: %s\n", e.ExpectedInfo)
	}
	fmt.Fprintf(&b, "  cause:    %s", e.Cause)
	return b.String()
}

// ScanTensor checks for NaN/Inf and collects stats
func ScanTensor(t *Tensor) *TensorInfo {
	if t == nil {
		return nil
	}

	info := &TensorInfo{
		Shape:      t.Shape(),
		Size:       len(t.data),
		MinValue:   math.Inf(1),
		MaxValue:   math.Inf(-1),
		BadIndices: make([]int, 0, 10),
	}

	for i, v := range t.data {
		switch {
		case math.IsNaN(v):
			info.NaNCount++
			if len(info.BadIndices) < 10 {
				info.BadIndices = append(info.BadIndices, i)
			}
		case math.IsInf(v, 0):
			info.InfCount++
			if len(info.BadIndices) < 10 {
				info.BadIndices = append(info.BadIndices, i)
			}
		default:
			info.MinValue = math.Min(info.MinValue, v)
			info.MaxValue = math.Max(info.MaxValue, v)
		}
	}

	// empty or all-corrupt tensors
	if math.IsInf(info.MinValue, 1) {
		info.MinValue = 0
	}
	if math.IsInf(info.MaxValue, -1) {
		info.MaxValue = 0
	}
	return info
}

// ValidateTensorOutput checks a layer output for nil, size and NaN/Inf
// problems. expectedSize <= 0 skips the size check.
func ValidateTensorOutput(t *Tensor, expectedSize int, component, layerName string, layerIndex int) error {
	if t == nil {
		return &LayerError{
			Component:  component,
			ErrorType:  "nil output",
			LayerIndex: layerIndex,
			LayerName:  layerName,
			Phase:      "forward",
			Cause:      "layer returned nil",
		}
	}

	if expectedSize > 0 && len(t.data) != expectedSize {
		return &LayerError{
			Component:    component,
			ErrorType:    "size mismatch",
			LayerIndex:   layerIndex,
			LayerName:    layerName,
			Phase:        "forward",
			OutputInfo:   ScanTensor(t),
			ExpectedInfo: fmt.Sprintf("size=%d", expectedSize),
			Cause:        fmt.Sprintf("output has %d elements, expected %d", len(t.data), expectedSize),
		}
	}

	info := ScanTensor(t)
	if info.NaNCount > 0 {
		return &LayerError{
			Component:  component,
			ErrorType:  "NaN detected",
			LayerIndex: layerIndex,
			LayerName:  layerName,
			Phase:      "forward",
			OutputInfo: info,
			Cause:      fmt.Sprintf("%d NaN values at indices %v", info.NaNCount, info.BadIndices),
		}
	}
	if info.InfCount > 0 {
		return &LayerError{
			Component:  component,
			ErrorType:  "Inf detected",
			LayerIndex: layerIndex,
			LayerName:  layerName,
			Phase:      "forward",
			OutputInfo: info,
			Cause:      fmt.Sprintf("%d Inf values at indices %v - likely overflow", info.InfCount, info.BadIndices),
		}
	}
	return nil
}
