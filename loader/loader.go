// Package loader acquires kernels for the plan layer: from a cache if the module is there, otherwise by
// generating its source, building it, and storing the module in the cache.
package loader

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gomlx/kernelrt/cache"
	"github.com/gomlx/kernelrt/device"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Descriptor describes the transform a kernel implements. It is opaque to the loader, which only passes it
// to the Generator and prints it in logs.
type Descriptor interface {
	fmt.Stringer
}

// Generator emits the source of the kernels implementing a transform, and the names of the entry points
// the source defines.
type Generator interface {
	Generate(desc Descriptor, info device.Info) (source string, kernelNames []string, err error)
}

// GeneratorFunc adapts a function to a Generator.
type GeneratorFunc func(desc Descriptor, info device.Info) (source string, kernelNames []string, err error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(desc Descriptor, info device.Info) (string, []string, error) {
	return f(desc, info)
}

// Loader gets kernels for one device API. It is not safe for concurrent use, like the device.API it wraps.
type Loader struct {
	api       device.API
	generator Generator
	cache     cache.Cache
	opts      device.Options

	infoOnce sync.Once
	info     device.Info
	infoErr  error

	hits, builds atomic.Int64
}

// New returns a Loader building with api and opts, and caching into c (usually a cache.Chain{aot, jit}).
func New(api device.API, generator Generator, c cache.Cache, opts device.Options) *Loader {
	return &Loader{api: api, generator: generator, cache: c, opts: opts}
}

// Info returns the device capabilities given to the generator. It's queried once.
func (l *Loader) Info() (device.Info, error) {
	l.infoOnce.Do(func() {
		l.info, l.infoErr = l.api.Info()
	})
	return l.info, l.infoErr
}

// Kernel is a kernel created by the Loader, with the bundle it was created from. Launch Kernel.Kernel.
type Kernel struct {
	Kernel device.Kernel
	Bundle device.KernelBundle
}

// Name of the kernel entry point.
func (k *Kernel) Name() string {
	return k.Kernel.Name()
}

// Release the kernel and its bundle.
func (k *Kernel) Release() {
	if k.Kernel != nil {
		k.Kernel.Release()
		k.Kernel = nil
	}
	if k.Bundle != nil {
		k.Bundle.Release()
		k.Bundle = nil
	}
}

// Kernel returns the kernel name, generated for desc if it's not in the cache.
//
// On a cache miss all kernels defined by the generated source are stored in the cache. If the build fails,
// the *device.CompileError is returned and nothing is stored.
func (l *Loader) Kernel(desc Descriptor, name string) (*Kernel, error) {
	key := cache.Key{KernelName: name}
	var bundle device.KernelBundle
	if module := l.cache.Get(key); module.IsValid() {
		var err error
		bundle, err = l.api.MakeKernelBundle(module)
		module.Release()
		if err != nil {
			return nil, errors.WithMessagef(err, "loader: failed to use cached module for kernel %q", name)
		}
		l.hits.Add(1)
		klog.V(2).Infof("loader: kernel %q found in cache", name)
	} else {
		var err error
		bundle, err = l.build(desc, name)
		if err != nil {
			return nil, err
		}
	}

	kernel, err := l.api.CreateKernel(bundle, name)
	if err != nil {
		bundle.Release()
		return nil, errors.WithMessagef(err, "loader: failed to create kernel %q", name)
	}
	return &Kernel{Kernel: kernel, Bundle: bundle}, nil
}

func (l *Loader) build(desc Descriptor, name string) (device.KernelBundle, error) {
	info, err := l.Info()
	if err != nil {
		return nil, errors.WithMessagef(err, "loader: failed to query device info for kernel %q", name)
	}
	source, kernelNames, err := l.generator.Generate(desc, info)
	if err != nil {
		return nil, errors.WithMessagef(err, "loader: failed to generate source for %s", desc)
	}
	if !slices.Contains(kernelNames, name) {
		return nil, errors.Errorf("loader: source generated for %s defines kernels %v, not %q",
			desc, kernelNames, name)
	}
	bundle, err := l.api.BuildKernelBundle(source, l.opts)
	if err != nil {
		return nil, errors.WithMessagef(err, "loader: failed to build %s", desc)
	}
	l.builds.Add(1)
	klog.V(1).Infof("loader: built %s on %s, kernels %v", desc, l.api, kernelNames)
	for _, kernelName := range kernelNames {
		l.cache.Store(cache.Key{KernelName: kernelName}, bundle.Module())
	}
	return bundle, nil
}

// Stats returns the number of kernels served from the cache and the number of modules built.
func (l *Loader) Stats() (hits, builds int64) {
	return l.hits.Load(), l.builds.Load()
}
