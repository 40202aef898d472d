package device

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

// ModuleFormat is the format of a precompiled module binary.
type ModuleFormat int

const (
	// SPIRV is the portable intermediate representation.
	SPIRV ModuleFormat = iota

	// Native is device specific machine code.
	Native
)

// String implements fmt.Stringer.
func (f ModuleFormat) String() string {
	switch f {
	case SPIRV:
		return "spirv"
	case Native:
		return "native"
	}
	return fmt.Sprintf("ModuleFormat(%d)", int(f))
}

// CompilerOptionsEnv is the environment variable with extra compiler flags (space separated) appended by
// DefaultOptions.
const CompilerOptionsEnv = "KERNELRT_COMPILER_OPTIONS"

// Options configures the compilation of kernel source code. It is passed explicitly to every build.
type Options struct {
	// Flags are the compiler flags, e.g. "-cl-mad-enable".
	Flags []string

	// Extensions are the OpenCL C extensions the source requires, e.g. "cl_intel_subgroups".
	// Only used by compilers that must be told about them (Level Zero offline compilation).
	Extensions []string
}

// DefaultOptions returns the default compilation options: "-cl-mad-enable" plus the flags in
// $KERNELRT_COMPILER_OPTIONS, if set.
func DefaultOptions() Options {
	opts := Options{Flags: []string{"-cl-mad-enable"}}
	if extra := os.Getenv(CompilerOptionsEnv); extra != "" {
		opts.Flags = append(opts.Flags, strings.Fields(extra)...)
	}
	return opts
}

// WithFlags returns a copy of the options with the flags appended.
func (o Options) WithFlags(flags ...string) Options {
	o.Flags = append(slices.Clone(o.Flags), flags...)
	return o
}

// WithExtensions returns a copy of the options with the extensions appended.
func (o Options) WithExtensions(extensions ...string) Options {
	o.Extensions = append(slices.Clone(o.Extensions), extensions...)
	return o
}

// FlagsString joins the flags the way native compilers take them.
func (o Options) FlagsString() string {
	return strings.Join(o.Flags, " ")
}
