// Package dtypes defines the floating point precisions of transform data, and encodes host values into the
// byte layout the kernels read (e.g. twiddle tables uploaded with device.API.CreateTwiddleTable).
package dtypes

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Precision of the real and imaginary parts of the complex values processed by the kernels.
type Precision int

const (
	// InvalidPrecision represents a precision not set.
	InvalidPrecision Precision = iota

	// Half precision, 16 bits. It requires the cl_khr_fp16 extension.
	Half

	// Single precision, 32 bits.
	Single

	// Double precision, 64 bits. It requires the cl_khr_fp64 extension.
	Double
)

// String implements fmt.Stringer.
func (p Precision) String() string {
	switch p {
	case Half:
		return "Half"
	case Single:
		return "Single"
	case Double:
		return "Double"
	}
	return fmt.Sprintf("Precision(%d)", int(p))
}

// MapOfNames maps names, including the usual aliases and lower-case versions, to the Precision.
var MapOfNames = map[string]Precision{}

func init() {
	for p, aliases := range map[Precision][]string{
		Half:   {"F16", "Float16", "fp16"},
		Single: {"F32", "Float32", "Float", "fp32"},
		Double: {"F64", "Float64", "fp64"},
	} {
		for _, name := range append(aliases, p.String()) {
			MapOfNames[name] = p
			MapOfNames[strings.ToLower(name)] = p
		}
	}
}

// Size returns the number of bytes of one real value.
func (p Precision) Size() int {
	switch p {
	case Half:
		return 2
	case Single:
		return 4
	case Double:
		return 8
	}
	return 0
}

// ComplexSize returns the number of bytes of one complex value.
func (p Precision) ComplexSize() int {
	return 2 * p.Size()
}

// CType returns the OpenCL C type of a complex value with this precision.
func (p Precision) CType() string {
	switch p {
	case Half:
		return "half2"
	case Single:
		return "float2"
	case Double:
		return "double2"
	}
	return ""
}

// Extensions returns the OpenCL C extensions kernels of this precision require.
func (p Precision) Extensions() []string {
	switch p {
	case Half:
		return []string{"cl_khr_fp16"}
	case Double:
		return []string{"cl_khr_fp64"}
	}
	return nil
}

// ComplexBytes encodes values with precision p, interleaving the real and imaginary parts, little-endian.
// It panics for an invalid precision.
func ComplexBytes(values []complex128, p Precision) []byte {
	size := p.Size()
	if size == 0 {
		exceptions.Panicf("dtypes.ComplexBytes: invalid precision %s", p)
	}
	buf := make([]byte, 2*size*len(values))
	put := func(pos int, v float64) {
		switch p {
		case Half:
			binary.LittleEndian.PutUint16(buf[pos:], float16.Fromfloat32(float32(v)).Bits())
		case Single:
			binary.LittleEndian.PutUint32(buf[pos:], math.Float32bits(float32(v)))
		case Double:
			binary.LittleEndian.PutUint64(buf[pos:], math.Float64bits(v))
		}
	}
	for i, v := range values {
		put(2*i*size, real(v))
		put((2*i+1)*size, imag(v))
	}
	return buf
}

// FromComplexBytes decodes values encoded by ComplexBytes.
func FromComplexBytes(b []byte, p Precision) ([]complex128, error) {
	size := p.ComplexSize()
	if size == 0 {
		return nil, errors.Errorf("dtypes.FromComplexBytes: invalid precision %s", p)
	}
	if len(b)%size != 0 {
		return nil, errors.Errorf("dtypes.FromComplexBytes: %d bytes is not a multiple of %d (%s complex)", len(b), size, p)
	}
	get := func(pos int) float64 {
		switch p {
		case Half:
			return float64(float16.Frombits(binary.LittleEndian.Uint16(b[pos:])).Float32())
		case Single:
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(b[pos:])))
		default:
			return math.Float64frombits(binary.LittleEndian.Uint64(b[pos:]))
		}
	}
	values := make([]complex128, len(b)/size)
	for i := range values {
		values[i] = complex(get(i*size), get(i*size+size/2))
	}
	return values, nil
}
