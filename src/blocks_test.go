package img2img

import (
	"math/rand"
	"strings"
	"testing"
)

func stateNames(l Layer) []string {
	var names []string
	for _, e := range l.state("") {
		names = append(names, e.name)
	}
	return names
}

func TestConvBlockStructure(t *testing.T) {
	tests := []struct {
		name  string
		block Layer
		want  []string
	}{
		{
			"batch norm",
			ConvBlock(3, 8, 3).WithPadding(1).WithNormalization(NormBatch).Build(),
			[]string{"conv.weight", "conv.bias", "norm.weight", "norm.bias", "norm.running_mean", "norm.running_var", "norm.num_batches_tracked"},
		},
		{
			"instance norm without bias",
			ConvBlock(3, 8, 3).WithPadding(1).WithNormalization(NormInstance).WithBias(false).Build(),
			[]string{"conv.weight"},
		},
		{
			"layer norm",
			ConvBlock(3, 8, 3).WithPadding(1).WithNormalization(NormLayer).Build(),
			[]string{"conv.weight", "conv.bias", "norm.weight", "norm.bias"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buildLayer(t, tt.block, []int{3, 6, 6})
			got := stateNames(tt.block)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("state names = %v, want %v", got, tt.want)
			}
			if out := tt.block.outputShape(); !sameShape(out, []int{8, 6, 6}) {
				t.Errorf("output shape = %v", out)
			}
		})
	}
}

func TestConvBlockChildren(t *testing.T) {
	block := buildLayer(t, ConvBlock(1, 2, 3).WithDropout(0.5).WithActivation(ActLeakyReLU).Build(), []int{1, 5, 5})
	var kinds []string
	for _, c := range block.(composite).children() {
		kinds = append(kinds, c.name+"="+c.layer.name())
	}
	want := "conv=conv2d,norm=identity,dropout=dropout,act=leaky_relu"
	if strings.Join(kinds, ",") != want {
		t.Errorf("children = %v, want %s", kinds, want)
	}
}

func TestConvBlockDefaults(t *testing.T) {
	block := ConvBlock(3, 4, 4).Build().(*ConvBlockLayer)
	if block.stride != 1 || block.padding != 0 || block.normalization != NormNone ||
		block.paddingType != PaddingZero || block.activation != ActReLU || !block.useBias {
		t.Errorf("unexpected defaults %+v", block)
	}
}

func TestConvBlockUnknownEnums(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	blocks := []Layer{
		ConvBlock(1, 1, 1).WithNormalization(NormalizationType(9)).Build(),
		ConvBlock(1, 1, 1).WithActivation(ActivationType(9)).Build(),
		ConvBlock(1, 1, 1).WithPaddingType(PaddingType(9)).Build(),
	}
	for i, b := range blocks {
		if err := b.build([]int{1, 2, 2}, rng); err == nil {
			t.Errorf("block %d: expected not-implemented error", i)
		}
	}
}

func TestConvBlocksChannelDoubling(t *testing.T) {
	tests := []struct {
		mult, max int
		blocks    int
		outC      int
	}{
		{8, 128, 4, 128},
		{4, 16, 2, 16},
		{4, 20, 3, 32},
		{16, 16, 0, 16},
		{32, 16, 0, 32},
	}
	for _, tt := range tests {
		l := ConvBlocks().WithLayerMultiplier(tt.mult).WithMaxLayerMultiplier(tt.max).WithPadding(1).Build()
		buildLayer(t, l, []int{tt.mult, 32, 32})
		cb := l.(*ConvBlocksLayer)
		if cb.Len() != tt.blocks {
			t.Errorf("ConvBlocks(%d, %d) has %d blocks, want %d", tt.mult, tt.max, cb.Len(), tt.blocks)
		}
		if out := l.outputShape(); out[0] != tt.outC {
			t.Errorf("ConvBlocks(%d, %d) output channels %d, want %d", tt.mult, tt.max, out[0], tt.outC)
		}
	}
}

func TestConvBlocksDefaults(t *testing.T) {
	cb := ConvBlocks().Build().(*ConvBlocksLayer)
	if cb.layerMultiplier != 64 || cb.maxLayerMultiplier != 1024 || cb.kernelSize != 4 || cb.stride != 2 ||
		cb.padding != 0 || cb.paddingType != PaddingZero || cb.normalization != NormNone || cb.activation != ActReLU {
		t.Errorf("unexpected defaults %+v", cb)
	}
}

func TestEmptyConvBlocksIsIdentity(t *testing.T) {
	l := buildLayer(t, ConvBlocks().WithLayerMultiplier(8).WithMaxLayerMultiplier(8).Build(), []int{8, 4, 4})
	x := randTensor(rand.New(rand.NewSource(1)), 2, 8, 4, 4)
	out, err := l.forward(x, true)
	if err != nil {
		t.Fatal(err)
	}
	for i := range x.data {
		if out.data[i] != x.data[i] {
			t.Fatal("empty stack must return its input")
		}
	}
	if len(l.parameters()) != 0 {
		t.Error("empty stack has no parameters")
	}
}

func TestConvBlocksStride(t *testing.T) {
	l := buildLayer(t, ConvBlocks().WithLayerMultiplier(4).WithMaxLayerMultiplier(16).WithPadding(1).Build(), []int{4, 16, 16})
	if out := l.outputShape(); !sameShape(out, []int{16, 4, 4}) {
		t.Errorf("output shape = %v, want [16 4 4]", out)
	}
	names := stateNames(l)
	if names[0] != "0.conv.weight" || names[len(names)-1] != "1.conv.bias" {
		t.Errorf("state names = %v", names)
	}
}

func TestResBlockZeroBranchIsIdentity(t *testing.T) {
	rb := buildLayer(t, ResBlock(4).Build(), []int{4, 5, 5})
	for _, p := range rb.parameters() {
		p.fill(0)
	}
	x := randTensor(rand.New(rand.NewSource(2)), 2, 4, 5, 5)
	out, err := rb.forward(x, true)
	if err != nil {
		t.Fatal(err)
	}
	for i := range x.data {
		if !approxEqual(out.data[i], x.data[i], 1e-12) {
			t.Fatalf("out[%d] = %v, want skip value %v", i, out.data[i], x.data[i])
		}
	}
}

func TestResBlockAddsSkip(t *testing.T) {
	rb := buildLayer(t, ResBlock(2).WithNormalization(NormNone).Build(), []int{2, 4, 4})
	x := randTensor(rand.New(rand.NewSource(3)), 1, 2, 4, 4)
	out, err := rb.forward(x, false)
	if err != nil {
		t.Fatal(err)
	}
	branch, err := rb.(*ResBlockLayer).chain.forward(x, false)
	if err != nil {
		t.Fatal(err)
	}
	for i := range x.data {
		if !approxEqual(out.data[i], branch.data[i]+x.data[i], 1e-12) {
			t.Fatalf("out[%d] = %v, want branch+x = %v", i, out.data[i], branch.data[i]+x.data[i])
		}
	}

	children := rb.(composite).children()
	last := children[1].layer.(composite).children()
	if got := last[len(last)-1].layer.name(); got != "identity" {
		t.Errorf("second block activation = %s, want identity", got)
	}
}

func TestResBlockShapeMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if err := ResBlock(4).WithStride(2).Build().build([]int{4, 8, 8}, rng); err == nil {
		t.Error("expected error when the branch changes the spatial size")
	}
	if err := ResBlock(4).WithPadding(0).Build().build([]int{4, 8, 8}, rng); err == nil {
		t.Error("expected error when the branch shrinks the input")
	}
}

func TestResBlocksStack(t *testing.T) {
	l := buildLayer(t, ResBlocks(4, 3).WithPaddingType(PaddingReflect).Build(), []int{4, 6, 6})
	names := stateNames(l)
	// instance norm carries no state, so only convolutions appear
	if len(names) != 3*2*2 {
		t.Fatalf("state has %d entries: %v", len(names), names)
	}
	if names[0] != "0.0.conv.weight" || names[len(names)-1] != "2.1.conv.bias" {
		t.Errorf("state names = %v", names)
	}
	if out := l.outputShape(); !sameShape(out, []int{4, 6, 6}) {
		t.Errorf("output shape = %v", out)
	}
	if err := ResBlocks(4, -1).Build().build([]int{4, 6, 6}, rand.New(rand.NewSource(1))); err == nil {
		t.Error("expected error for negative block count")
	}
}

func TestBlockGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	tests := []struct {
		name  string
		layer Layer
		shape []int
	}{
		{"conv block batch tanh", ConvBlock(2, 3, 3).WithPadding(1).WithNormalization(NormBatch).WithActivation(ActTanh).
			WithInitializer(HeNormal(1)).Build(), []int{2, 4, 4}},
		{"conv blocks layer sigmoid", ConvBlocks().WithLayerMultiplier(2).WithMaxLayerMultiplier(4).WithKernelSize(3).
			WithStride(1).WithPadding(1).WithNormalization(NormLayer).WithActivation(ActSigmoid).Build(), []int{2, 4, 4}},
		{"res block instance tanh", ResBlock(2).WithActivation(ActTanh).WithPaddingType(PaddingReplicate).Build(), []int{2, 4, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := buildLayer(t, tt.layer, tt.shape)
			for _, p := range l.parameters() {
				for i := range p.data {
					p.data[i] += 0.3 * rng.NormFloat64()
				}
			}
			x := randTensor(rng, append([]int{2}, tt.shape...)...)
			checkGradients(t, l, x, true)
		})
	}
}
