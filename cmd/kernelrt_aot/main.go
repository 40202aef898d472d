// kernelrt_aot compiles OpenCL C source files ahead of time into an archive that can be loaded with
// archive.Load into a cache.AOT.
//
// Modules are compiled either with a driver (the binaries are then native to its device) or with the Level
// Zero offline compiler (ocloc), which can target devices not present in the machine.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/kernelrt/backends/ze"
	"github.com/gomlx/kernelrt/cache/archive"
	"github.com/gomlx/kernelrt/device"
	"github.com/gomlx/kernelrt/drivers"
	_ "github.com/gomlx/kernelrt/internal/simdriver"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var (
	flagOutput      = flag.String("o", "kernels.krt", "Output archive")
	flagDriver      = flag.String("driver", "", "Driver used to compile. Defaults to $"+drivers.DefaultDriverEnv+". Not used with -ocloc_device or -spirv")
	flagOclocDevice = flag.String("ocloc_device", "", "Compile with ocloc to native code for this device (e.g. \"pvc\")")
	flagDeviceID    = flag.Uint64("device_id", archive.AnyDevice, "Device id recorded for -ocloc_device binaries, 0 for any device")
	flagSPIRV       = flag.Bool("spirv", false, "Compile with ocloc to SPIR-V")
	flagOptions     = flag.String("options", "", "Extra compiler flags, space separated")
	flagExtensions  = flag.String("extensions", "", "OpenCL C extensions required by the sources, comma separated")
	flagParallelism = flag.Int("j", runtime.NumCPU(), "Number of parallel ocloc compilations")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `kernelrt_aot compiles OpenCL C sources into an AOT archive.

$ kernelrt_aot -o=fft.krt -driver=cl fft_r2.cl fft_r4.cl
$ kernelrt_aot -o=fft.krt -ocloc_device=pvc -device_id=0x0bd5 fft_r2.cl fft_r4.cl

Usage:
`)
		flag.PrintDefaults()
	}
	klog.InitFlags(flag.CommandLine)
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "No source files given.")
		fmt.Fprintln(os.Stderr)
		flag.Usage()
		os.Exit(1)
	}

	opts := device.DefaultOptions().WithFlags(strings.Fields(*flagOptions)...)
	if *flagExtensions != "" {
		opts = opts.WithExtensions(strings.Split(*flagExtensions, ",")...)
	}
	sources := make([]string, flag.NArg())
	for i, fileName := range flag.Args() {
		sources[i] = string(must.M1(os.ReadFile(fileName)))
	}

	var entries []archive.Entry
	if *flagSPIRV || *flagOclocDevice != "" {
		entries = must.M1(compileOffline(flag.Args(), sources, opts))
	} else {
		entries = must.M1(compileWithDriver(flag.Args(), sources, opts))
	}
	must.M(archive.WriteFile(*flagOutput, entries))

	var total int
	for _, e := range entries {
		total += len(e.Binary)
		fmt.Printf("\t%-20s %-6s %s\t%v\n", e.Name, e.Format, humanize.Bytes(uint64(len(e.Binary))), e.KernelNames)
	}
	fmt.Printf("Wrote %d modules (%s) to %s\n", len(entries), humanize.Bytes(uint64(total)), *flagOutput)
}

var reKernelDecl = regexp.MustCompile(`(?:__)?kernel\s+(?:__attribute__\(\(.*?\)\)\s+)?void\s+([A-Za-z_]\w*)\s*\(`)

// declaredKernels lists the kernels declared in an OpenCL C source.
func declaredKernels(source string) []string {
	var names []string
	for _, match := range reKernelDecl.FindAllStringSubmatch(source, -1) {
		if !slices.Contains(names, match[1]) {
			names = append(names, match[1])
		}
	}
	return names
}

// compileOffline compiles the sources in parallel with ocloc.
func compileOffline(fileNames, sources []string, opts device.Options) ([]archive.Entry, error) {
	ocloc, err := ze.NewOcloc()
	if err != nil {
		return nil, err
	}
	entries := make([]archive.Entry, len(sources))
	var g errgroup.Group
	g.SetLimit(max(*flagParallelism, 1))
	for i, source := range sources {
		g.Go(func() error {
			e := archive.Entry{
				Name:        filepath.Base(fileNames[i]),
				KernelNames: declaredKernels(source),
			}
			var err error
			if *flagSPIRV {
				e.Format = device.SPIRV
				e.Binary, err = ze.CompileToSPIRV(ocloc, source, opts)
			} else {
				e.Format, e.DeviceID = device.Native, *flagDeviceID
				e.Binary, err = ze.CompileNative(ocloc, source, *flagOclocDevice, opts)
			}
			if err != nil {
				return errors.WithMessagef(err, "failed to compile %q", fileNames[i])
			}
			if len(e.KernelNames) == 0 {
				klog.Warningf("no kernels found in %q", fileNames[i])
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// compileWithDriver builds the sources on the driver's device. The APIs are not safe for concurrent use,
// so sources are compiled one at a time.
func compileWithDriver(fileNames, sources []string, opts device.Options) ([]archive.Entry, error) {
	api, err := drivers.Open(*flagDriver)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := api.Destroy(); err != nil {
			klog.Errorf("failed to destroy %s: %+v", api, err)
		}
	}()
	deviceID, err := api.DeviceID()
	if err != nil {
		return nil, err
	}
	entries := make([]archive.Entry, 0, len(sources))
	for i, source := range sources {
		binary, err := nativeBinary(api, source, opts)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to compile %q on %s", fileNames[i], api)
		}
		module, err := api.CreateAOTModule(binary, device.Native)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to load the binary of %q", fileNames[i])
		}
		entries = append(entries, archive.Entry{
			Name:        filepath.Base(fileNames[i]),
			Format:      device.Native,
			DeviceID:    deviceID,
			KernelNames: module.KernelNames(),
			Binary:      binary,
		})
		module.Release()
	}
	return entries, nil
}

func nativeBinary(api device.API, source string, opts device.Options) ([]byte, error) {
	bundle, err := api.BuildKernelBundle(source, opts)
	if err != nil {
		return nil, err
	}
	defer bundle.Release()
	return bundle.Binary()
}
