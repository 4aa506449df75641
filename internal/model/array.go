package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// DType names the native pixel encoding of an array.
type DType string

// Supported pixel encodings.
const (
	Uint8   DType = "uint8"
	Int8    DType = "int8"
	Uint16  DType = "uint16"
	Int16   DType = "int16"
	Uint32  DType = "uint32"
	Int32   DType = "int32"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

var dtypeSizes = map[DType]int{
	Uint8:   1,
	Int8:    1,
	Uint16:  2,
	Int16:   2,
	Uint32:  4,
	Int32:   4,
	Float32: 4,
	Float64: 8,
}

// Size returns the number of bytes per element, or 0 for an unknown dtype.
func (d DType) Size() int {
	return dtypeSizes[d]
}

// Valid reports whether d is a supported pixel encoding.
func (d DType) Valid() bool {
	_, ok := dtypeSizes[d]
	return ok
}

// Array is a dense multi-dimensional numeric array. Data holds the elements
// in C (row-major) order, little-endian, DType.Size() bytes each.
type Array struct {
	DType DType  `json:"dtype"`
	Shape []int  `json:"shape"`
	Data  []byte `json:"data,omitempty"`
}

// MaxArrayBytes caps the data size of a single array.
const MaxArrayBytes = min(math.MaxInt, 1<<34)

// ErrArrayTooLarge is returned for shapes whose data would exceed
// MaxArrayBytes.
var ErrArrayTooLarge = errors.New("array too large")

// ArrayBytes returns the data size of an array of the given dtype and shape.
func ArrayBytes(dtype DType, shape ...int) (int, error) {
	if !dtype.Valid() {
		return 0, fmt.Errorf("unsupported dtype %q", dtype)
	}
	n := dtype.Size()
	for i, dim := range shape {
		if dim < 0 {
			return 0, fmt.Errorf("negative dimension %d at axis %d", dim, i)
		}
		if dim != 0 && n > MaxArrayBytes/dim {
			return 0, fmt.Errorf("shape %v of %s: %w", shape, dtype, ErrArrayTooLarge)
		}
		n *= dim
	}
	return n, nil
}

// NewArray allocates a zeroed array of the given dtype and shape.
func NewArray(dtype DType, shape ...int) (Array, error) {
	n, err := ArrayBytes(dtype, shape...)
	if err != nil {
		return Array{}, err
	}
	return Array{
		DType: dtype,
		Shape: append([]int(nil), shape...),
		Data:  make([]byte, n),
	}, nil
}

// Len returns the number of elements described by the shape.
func (a Array) Len() int {
	n := 1
	for _, dim := range a.Shape {
		n *= dim
	}
	return n
}

// Squeeze returns a with every axis of length 1 removed. The data is shared,
// not copied. An array whose axes are all of length 1 becomes rank 0.
func (a Array) Squeeze() Array {
	shape := make([]int, 0, len(a.Shape))
	for _, dim := range a.Shape {
		if dim != 1 {
			shape = append(shape, dim)
		}
	}
	return Array{DType: a.DType, Shape: shape, Data: a.Data}
}

// At returns the element at the given index converted to float64.
// It panics if the index does not match the array's rank or bounds.
func (a Array) At(idx ...int) float64 {
	if len(idx) != len(a.Shape) {
		panic(fmt.Sprintf("model: index rank %d does not match array rank %d", len(idx), len(a.Shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= a.Shape[i] {
			panic(fmt.Sprintf("model: index %d out of range for axis %d of length %d", v, i, a.Shape[i]))
		}
		off = off*a.Shape[i] + v
	}
	size := a.DType.Size()
	b := a.Data[off*size : (off+1)*size]

	switch a.DType {
	case Uint8:
		return float64(b[0])
	case Int8:
		return float64(int8(b[0]))
	case Uint16:
		return float64(binary.LittleEndian.Uint16(b))
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case Uint32:
		return float64(binary.LittleEndian.Uint32(b))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		panic(fmt.Sprintf("model: unsupported dtype %q", a.DType))
	}
}
