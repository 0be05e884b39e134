package img2img

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
)

// Device describes where tensor kernels run. Only CPU execution exists;
// Workers bounds how many batch items are processed concurrently.
type Device struct {
	Name    string
	Brand   string
	Cores   int
	Workers int
	AVX2    bool
	AVX512  bool
}

var device atomic.Pointer[Device]

// DetectDevice inspects the host CPU.
func DetectDevice() *Device {
	cores := cpuid.CPU.LogicalCores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	return &Device{
		Name:    "cpu",
		Brand:   cpuid.CPU.BrandName,
		Cores:   cores,
		Workers: cores,
		AVX2:    cpuid.CPU.Supports(cpuid.AVX2),
		AVX512:  cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ),
	}
}

// ParseDevice resolves a configured device name. "cpu" and "auto" select
// the host CPU; "cuda" is rejected since no GPU backend is compiled in.
func ParseDevice(name string, workers int) (*Device, error) {
	switch name {
	case "", "auto", "cpu":
	default:
		return nil, errors.Errorf("img2img: device %q is not available, only cpu is supported", name)
	}
	d := DetectDevice()
	if workers > 0 {
		d.Workers = workers
	}
	return d, nil
}

// UseDevice sets the device used by every layer. A nil device is ignored.
func UseDevice(d *Device) {
	if d == nil {
		return
	}
	if d.Workers <= 0 {
		d.Workers = 1
	}
	device.Store(d)
	Logger().Debug("device selected", "name", d.Name, "brand", d.Brand, "workers", d.Workers, "avx2", d.AVX2, "avx512", d.AVX512)
}

// CurrentDevice returns the active device, detecting it on first use.
func CurrentDevice() *Device {
	if d := device.Load(); d != nil {
		return d
	}
	d := DetectDevice()
	device.CompareAndSwap(nil, d)
	return device.Load()
}

// parallelFor runs body(i) for i in [0, length) with at most limit goroutines.
func parallelFor(length, limit int, body func(i int)) {
	if limit <= 0 {
		limit = 1
	}
	if length <= 0 {
		return
	}
	if limit == 1 || length == 1 {
		for i := 0; i < length; i++ {
			body(i)
		}
		return
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	wg.Add(length)
	for i := 0; i < length; i++ {
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			body(i)
		}(i)
	}
	wg.Wait()
}
