package device

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
)

// Type is the class of a device.
type Type int

const (
	Custom Type = iota
	CPU
	GPU
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case CPU:
		return "cpu"
	case GPU:
		return "gpu"
	case Custom:
		return "custom"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// MaxSubgroupSizes is the capacity of Info.SubgroupSizes.
const MaxSubgroupSizes = 5

// defaultSubgroupSize is assumed when a device reports no subgroup sizes.
const defaultSubgroupSize = 8

// Info is a snapshot of the capabilities of a device that kernel generators care about.
// It is queried once per device and copied by value.
type Info struct {
	// MaxWorkGroupSize is the maximum number of work items in a work group.
	MaxWorkGroupSize uint64

	// SubgroupSizes holds the supported subgroup sizes; only the first NumSubgroupSizes are valid.
	SubgroupSizes    [MaxSubgroupSizes]uint64
	NumSubgroupSizes int

	// LocalMemorySize is the size of the shared local memory, in bytes.
	LocalMemorySize uint64

	Type Type
}

// NewInfo creates an Info. Subgroup sizes beyond MaxSubgroupSizes are dropped.
func NewInfo(maxWorkGroupSize uint64, subgroupSizes []uint64, localMemorySize uint64, deviceType Type) Info {
	info := Info{
		MaxWorkGroupSize: maxWorkGroupSize,
		LocalMemorySize:  localMemorySize,
		Type:             deviceType,
	}
	info.NumSubgroupSizes = copy(info.SubgroupSizes[:], subgroupSizes)
	return info
}

// Subgroups returns the valid subgroup sizes. The slice is a copy.
func (info Info) Subgroups() []uint64 {
	n := min(info.NumSubgroupSizes, MaxSubgroupSizes)
	return append([]uint64(nil), info.SubgroupSizes[:n]...)
}

// MinSubgroupSize returns the smallest supported subgroup size, or 8 if none is reported.
func (info Info) MinSubgroupSize() uint64 {
	sizes := info.Subgroups()
	if len(sizes) == 0 {
		return defaultSubgroupSize
	}
	return slices.Min(sizes)
}

// MaxSubgroupSize returns the largest supported subgroup size, or 8 if none is reported.
func (info Info) MaxSubgroupSize() uint64 {
	sizes := info.Subgroups()
	if len(sizes) == 0 {
		return defaultSubgroupSize
	}
	return slices.Max(sizes)
}

// RegisterSpace estimates the size of the register file of one hardware thread, in bytes.
//
// It assumes 256 registers of 32 bytes, with the register width scaling with the minimum subgroup size.
func (info Info) RegisterSpace() uint64 {
	const (
		bytesPerRegister = 32
		numRegisters     = 256
	)
	scale := max(uint64(1), info.MinSubgroupSize()/8)
	return scale * bytesPerRegister * numRegisters
}

// String implements fmt.Stringer, for diagnostics.
func (info Info) String() string {
	sizes := make([]string, 0, info.NumSubgroupSizes)
	for _, s := range info.Subgroups() {
		sizes = append(sizes, fmt.Sprintf("%d", s))
	}
	return fmt.Sprintf("%s device: max work-group size %s, subgroup sizes [%s], local memory %s",
		info.Type, humanize.Comma(int64(info.MaxWorkGroupSize)), strings.Join(sizes, ", "),
		humanize.IBytes(info.LocalMemorySize))
}
