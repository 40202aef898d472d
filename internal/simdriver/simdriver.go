// Package simdriver implements simulated native runtimes for the kernel runtime backends: an OpenCL-like
// driver (CL), a Level Zero-like driver plus offline compiler (ZE), and a SYCL-like runtime dispatching to
// either (SYCL).
//
// The simulated runtimes keep reference counts of every object they hand out, record the native calls made
// and "compile" kernel source by scanning it for kernel declarations. A "#error" directive in the source makes
// the build fail, with the directive's text in the build log. Launched kernels complete immediately.
//
// They are used by the tests of the backends and by the command line tools, registered in the drivers
// registry as "sim-cl", "sim-ze", "sim-sycl-cl" and "sim-sycl-ze".
package simdriver

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gomlx/kernelrt/handle"
)

// nextHandle is shared by all simulated runtimes, so handles are unique in the process.
var nextHandle atomic.Uintptr

func init() {
	nextHandle.Store(0x1000)
}

func newHandle() handle.Native {
	return handle.Native(nextHandle.Add(0x10))
}

// Calls records the names of the native calls made, in order. It is safe for concurrent use.
type Calls struct {
	mu    sync.Mutex
	calls []string
}

func (c *Calls) add(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

// List returns a copy of the calls recorded so far.
func (c *Calls) List() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.calls)
}

// Count returns how many times call was made.
func (c *Calls) Count(call string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, name := range c.calls {
		if name == call {
			count++
		}
	}
	return count
}

// Reset forgets the recorded calls.
func (c *Calls) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

// Arg is a kernel argument as set by the adapter.
type Arg struct {
	// Kind is "value" for plain values, or the binding used for pointers: "usm" or "svm".
	Kind    string
	Value   []byte
	Pointer uintptr
}

// Launch records a kernel submission.
type Launch struct {
	Kernel string

	// Global and Local are the work sizes, in the order given by the adapter.
	Global, Local [3]uint64

	// Groups is the group count, for runtimes that take it instead of the global size.
	Groups [3]uint64

	Event handle.Native
	Wait  []handle.Native
	Args  map[int]Arg
}

// binaryMagic prefixes the "binaries" produced by the simulated compilers, which are just the source text.
const binaryMagic = "SIMBIN\n"

var (
	reKernelDecl     = regexp.MustCompile(`(?:__)?kernel\s+void\s+([A-Za-z_]\w*)\s*\(`)
	reErrorDirective = regexp.MustCompile(`^\s*#error\b\s*(.*)$`)
)

// KernelNames returns the names of the kernels declared in source, in order of declaration.
func KernelNames(source string) []string {
	var names []string
	for _, match := range reKernelDecl.FindAllStringSubmatch(source, -1) {
		if !slices.Contains(names, match[1]) {
			names = append(names, match[1])
		}
	}
	return names
}

// compile "builds" the source text: it returns the build log, and whether the build succeeded.
func compile(fileName, source string) (log string, ok bool) {
	var sb strings.Builder
	ok = true
	for lineNum, line := range strings.Split(source, "\n") {
		if match := reErrorDirective.FindStringSubmatch(line); match != nil {
			fmt.Fprintf(&sb, "%s:%d: error: %s\n", fileName, lineNum+1, match[1])
			ok = false
		}
	}
	if ok && len(KernelNames(source)) == 0 {
		fmt.Fprintf(&sb, "%s: warning: no kernels declared\n", fileName)
	}
	return sb.String(), ok
}

// Binary returns the simulated binary of source.
func Binary(source string) []byte {
	return []byte(binaryMagic + source)
}

// sourceOf returns the source text of a simulated binary, or ok=false if it isn't one.
func sourceOf(binary []byte) (source string, ok bool) {
	text := string(binary)
	if !strings.HasPrefix(text, binaryMagic) {
		return "", false
	}
	return strings.TrimPrefix(text, binaryMagic), true
}

// refCounts tracks the reference counts of native objects. Not safe for concurrent use: the owner locks.
type refCounts map[handle.Native]int

func (r refCounts) create() handle.Native {
	h := newHandle()
	r[h] = 1
	return h
}

func (r refCounts) retain(h handle.Native) bool {
	if r[h] <= 0 {
		return false
	}
	r[h]++
	return true
}

// release returns whether h was alive, and whether it was deleted.
func (r refCounts) release(h handle.Native) (alive, deleted bool) {
	if r[h] <= 0 {
		return false, false
	}
	r[h]--
	if r[h] == 0 {
		delete(r, h)
		return true, true
	}
	return true, false
}
