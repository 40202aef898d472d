package main

import (
	"fmt"
	"strings"

	"github.com/chewxy/math32"
	"github.com/gomlx/kernelrt/device"
	"github.com/gomlx/kernelrt/dtypes"
	"github.com/gomlx/kernelrt/loader"
	"github.com/gomlx/kernelrt/strutil"
)

// stageDescriptor describes one radix-2 butterfly stage over a transform of size N.
type stageDescriptor struct {
	N         int
	Precision dtypes.Precision
}

func (d stageDescriptor) String() string {
	return fmt.Sprintf("radix-2 stage, N=%d, %s", d.N, d.Precision)
}

const stageKernelName = "fft_r2"

// stageGenerator emits the source of a single radix-2 butterfly stage: x[i], x[i+N/2] = x[i] +/- w[i]*x[i+N/2].
type stageGenerator struct{}

var _ loader.Generator = stageGenerator{}

func (stageGenerator) Generate(desc loader.Descriptor, info device.Info) (string, []string, error) {
	d := desc.(stageDescriptor)
	c := d.Precision.CType()
	var sb strings.Builder
	for _, ext := range d.Precision.Extensions() {
		fmt.Fprintf(&sb, "#pragma OPENCL EXTENSION %s : enable\n", ext)
	}
	fmt.Fprintf(&sb, "constant char description[] = \"%s\";\n", strutil.Escape(d.String()))
	fmt.Fprintf(&sb, "__attribute__((intel_reqd_sub_group_size(%d)))\n", info.MinSubgroupSize())
	fmt.Fprintf(&sb, "__kernel void %s(__global %s *x, __global const %s *w, int n) {\n", stageKernelName, c, c)
	fmt.Fprintf(&sb, "    int i = get_global_id(0);\n")
	fmt.Fprintf(&sb, "    %s a = x[i], b = x[i + n/2], t = w[i];\n", c)
	fmt.Fprintf(&sb, "    %s bt = (%s)(b.x*t.x - b.y*t.y, b.x*t.y + b.y*t.x);\n", c, c)
	fmt.Fprintf(&sb, "    x[i] = a + bt;\n    x[i + n/2] = a - bt;\n}\n")
	return sb.String(), []string{stageKernelName}, nil
}

// twiddles returns exp(-2*pi*i*k/n) for k < n/2, computed in single precision.
func twiddles(n int) []complex128 {
	w := make([]complex128, n/2)
	for k := range w {
		angle := -2 * math32.Pi * float32(k) / float32(n)
		w[k] = complex(float64(math32.Cos(angle)), float64(math32.Sin(angle)))
	}
	return w
}
