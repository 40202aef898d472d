// run_kernel is a testing program: it opens a driver, prints the device capabilities, then builds (or loads
// from an AOT archive) a radix-2 butterfly stage and launches it on a device buffer.
package main

import (
	"flag"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/kernelrt/cache"
	"github.com/gomlx/kernelrt/cache/archive"
	"github.com/gomlx/kernelrt/device"
	"github.com/gomlx/kernelrt/drivers"
	"github.com/gomlx/kernelrt/dtypes"
	_ "github.com/gomlx/kernelrt/internal/simdriver"
	"github.com/gomlx/kernelrt/loader"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagDriver    = flag.String("driver", "", "Driver name or full path to a driver plugin. Defaults to $"+drivers.DefaultDriverEnv)
	flagList      = flag.Bool("list", false, "List the available drivers and exit")
	flagSize      = flag.Int("n", 1024, "Transform size: a power of 2")
	flagLocal     = flag.Int("local", 64, "Work-group size, limited to the device maximum")
	flagPrecision = flag.String("precision", "single", "Precision: half, single or double")
	flagArchive   = flag.String("archive", "", "AOT archive with precompiled kernels, built with kernelrt_aot")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `run_kernel opens a device, prints its capabilities and runs one radix-2 FFT stage on it.

$ run_kernel -driver=sim-cl -n=4096 -precision=single

Usage:
`)
		flag.PrintDefaults()
	}
	klog.InitFlags(flag.CommandLine)
	flag.Parse()

	if *flagList {
		listDrivers()
		return
	}
	precision, found := dtypes.MapOfNames[*flagPrecision]
	if !found {
		klog.Fatalf("Unknown precision %q", *flagPrecision)
	}
	n := *flagSize
	if n < 2 || n&(n-1) != 0 {
		klog.Fatalf("Transform size -n=%d must be a power of 2", n)
	}

	api := must.M1(drivers.Open(*flagDriver))
	defer func() { must.M(api.Destroy()) }()
	info := must.M1(api.Info())
	printInfo(api, info)

	aot, jit := cache.NewAOT(), cache.NewJIT()
	defer aot.Release()
	defer jit.Clear()
	if *flagArchive != "" {
		entries := must.M1(archive.ReadFile(*flagArchive))
		count := must.M1(archive.Load(api, entries, aot))
		fmt.Printf("Loaded %d of %d precompiled modules from %s\n", count, len(entries), *flagArchive)
	}
	opts := device.DefaultOptions().WithExtensions(precision.Extensions()...)
	l := loader.New(api, stageGenerator{}, cache.Chain{aot, jit}, opts)
	desc := stageDescriptor{N: n, Precision: precision}

	start := time.Now()
	kernel := must.M1(l.Kernel(desc, stageKernelName))
	defer kernel.Release()
	acquired := time.Since(start)

	data := must.M1(api.CreateDeviceBuffer(n * precision.ComplexSize()))
	defer func() { must.M(api.ReleaseBuffer(data)) }()
	w := must.M1(api.CreateTwiddleTable(dtypes.ComplexBytes(twiddles(n), precision)))
	defer func() { must.M(api.ReleaseBuffer(w)) }()

	global := n / 2
	local := min(*flagLocal, global, int(info.MaxWorkGroupSize))
	if global%local != 0 {
		klog.Fatalf("Global size %d is not divisible by the work-group size %d", global, local)
	}
	start = time.Now()
	event := must.M1(api.LaunchKernel(kernel.Kernel, [3]int{global, 1, 1}, [3]int{local, 1, 1}, nil,
		func(b device.ArgBinder) error {
			return device.BindArgs(b, data, w, int32(n))
		}))
	must.M(event.Await())
	elapsed := time.Since(start)
	must.M(api.ReleaseEvent(event))

	hits, builds := l.Stats()
	table := newTable("Launch", "")
	table.Row("Kernel", fmt.Sprintf("%s (%s)", kernel.Name(), desc))
	table.Row("Global / local size", fmt.Sprintf("%s / %d", humanize.Comma(int64(global)), local))
	table.Row("Data", humanize.Bytes(uint64(n*precision.ComplexSize())))
	table.Row("Kernel acquired in", acquired.String())
	table.Row("Cache hits / builds", fmt.Sprintf("%d / %d", hits, builds))
	table.Row("JIT cached kernels", fmt.Sprintf("%v", jit.KernelNames()))
	table.Row("Run time", elapsed.String())
	fmt.Println(table.Render())
}

func printInfo(api device.API, info device.Info) {
	table := newTable("Device", "")
	table.Row("API", api.String())
	if id, err := api.DeviceID(); err == nil {
		table.Row("Device id", fmt.Sprintf("0x%x", id))
	} else {
		klog.Warningf("failed to query device id: %+v", err)
	}
	table.Row("Type", info.Type.String())
	table.Row("Max work-group size", humanize.Comma(int64(info.MaxWorkGroupSize)))
	table.Row("Subgroup sizes", fmt.Sprintf("%v", info.Subgroups()))
	table.Row("Local memory", humanize.Bytes(info.LocalMemorySize))
	fmt.Println(table.Render())
}

func listDrivers() {
	available := drivers.Available()
	table := newTable("Driver", "Path")
	for _, name := range slices.Sorted(maps.Keys(available)) {
		table.Row(name, available[name])
	}
	fmt.Println(table.Render())
}
