package img2img

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PaddingType selects how Conv2D fills the border.
type PaddingType int

const (
	PaddingZero PaddingType = iota
	PaddingReflect
	PaddingReplicate
	PaddingCircular
)

var paddingNames = map[PaddingType]string{
	PaddingZero:      "zero",
	PaddingReflect:   "reflect",
	PaddingReplicate: "replicate",
	PaddingCircular:  "circular",
}

func (p PaddingType) String() string {
	if s, ok := paddingNames[p]; ok {
		return s
	}
	return "PaddingType(" + strconv.Itoa(int(p)) + ")"
}

// ParsePaddingType accepts "zero" (or "zeros"), "reflect", "replicate" and "circular".
func ParsePaddingType(s string) (PaddingType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "zero", "zeros":
		return PaddingZero, nil
	case "reflect":
		return PaddingReflect, nil
	case "replicate":
		return PaddingReplicate, nil
	case "circular":
		return PaddingCircular, nil
	}
	return 0, errors.Errorf("img2img: padding type %q is not implemented", s)
}

func (p PaddingType) MarshalText() ([]byte, error) {
	if _, ok := paddingNames[p]; !ok {
		return nil, errors.Errorf("img2img: padding type %d is not implemented", int(p))
	}
	return []byte(p.String()), nil
}

func (p *PaddingType) UnmarshalText(text []byte) error {
	v, err := ParsePaddingType(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// NormalizationType selects the normalization layer of a ConvBlock.
type NormalizationType int

const (
	NormNone NormalizationType = iota
	NormBatch
	NormInstance
	NormLayer
)

var normalizationNames = map[NormalizationType]string{
	NormNone:     "none",
	NormBatch:    "batch",
	NormInstance: "instance",
	NormLayer:    "layer",
}

func (n NormalizationType) String() string {
	if s, ok := normalizationNames[n]; ok {
		return s
	}
	return "NormalizationType(" + strconv.Itoa(int(n)) + ")"
}

// ParseNormalizationType accepts "batch", "instance", "layer" and "none" or "".
func ParseNormalizationType(s string) (NormalizationType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return NormNone, nil
	case "batch":
		return NormBatch, nil
	case "instance":
		return NormInstance, nil
	case "layer":
		return NormLayer, nil
	}
	return 0, errors.Errorf("img2img: normalization type %q is not implemented", s)
}

func (n NormalizationType) MarshalText() ([]byte, error) {
	if _, ok := normalizationNames[n]; !ok {
		return nil, errors.Errorf("img2img: normalization type %d is not implemented", int(n))
	}
	return []byte(n.String()), nil
}

func (n *NormalizationType) UnmarshalText(text []byte) error {
	v, err := ParseNormalizationType(string(text))
	if err != nil {
		return err
	}
	*n = v
	return nil
}

// ActivationType selects the activation layer of a ConvBlock.
type ActivationType int

const (
	ActNone ActivationType = iota
	ActReLU
	ActLeakyReLU
	ActTanh
	ActSigmoid
)

var activationNames = map[ActivationType]string{
	ActNone:      "none",
	ActReLU:      "relu",
	ActLeakyReLU: "leaky_relu",
	ActTanh:      "tanh",
	ActSigmoid:   "sigmoid",
}

func (a ActivationType) String() string {
	if s, ok := activationNames[a]; ok {
		return s
	}
	return "ActivationType(" + strconv.Itoa(int(a)) + ")"
}

// ParseActivationType accepts "relu", "leaky_relu", "tanh", "sigmoid" and "none" or "".
func ParseActivationType(s string) (ActivationType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ActNone, nil
	case "relu":
		return ActReLU, nil
	case "leaky_relu", "leakyrelu":
		return ActLeakyReLU, nil
	case "tanh":
		return ActTanh, nil
	case "sigmoid":
		return ActSigmoid, nil
	}
	return 0, errors.Errorf("img2img: activation type %q is not implemented", s)
}

func (a ActivationType) MarshalText() ([]byte, error) {
	if _, ok := activationNames[a]; !ok {
		return nil, errors.Errorf("img2img: activation type %d is not implemented", int(a))
	}
	return []byte(a.String()), nil
}

func (a *ActivationType) UnmarshalText(text []byte) error {
	v, err := ParseActivationType(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
