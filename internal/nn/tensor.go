package nn

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Batch marks a leading dimension whose size is only known once a tensor is
// bound to the graph.
const Batch = -1

// ErrShapeMismatch is returned when a tensor does not fit the shape a layer
// or loss expects.
var ErrShapeMismatch = errors.New("nn: shape mismatch")

// Shape lists tensor dimensions, outermost first.
type Shape []int

// Size returns the number of elements, or -1 when a dimension is unknown.
func (s Shape) Size() int {
	n := 1
	for _, d := range s {
		if d < 0 {
			return -1
		}
		n *= d
	}
	return n
}

// Equal reports whether both shapes have the same rank and dimensions.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Accepts reports whether a concrete shape fits s, treating Batch entries as
// wildcards.
func (s Shape) Accepts(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != Batch && s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s Shape) Clone() Shape {
	return append(Shape(nil), s...)
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		if d == Batch {
			parts[i] = "None"
			continue
		}
		parts[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Tensor is a dense row-major array of float64 values.
type Tensor struct {
	Shape Shape
	Data  []float64
}

// New allocates a zero tensor.
func New(shape ...int) *Tensor {
	s := Shape(shape)
	n := s.Size()
	if n < 0 {
		n = 0
	}
	return &Tensor{Shape: s, Data: make([]float64, n)}
}

// FromData wraps data without copying it.
func FromData(shape Shape, data []float64) (*Tensor, error) {
	if shape.Size() != len(data) {
		return nil, errors.Wrapf(ErrShapeMismatch, "shape %v holds %d values, got %d", shape, shape.Size(), len(data))
	}
	return &Tensor{Shape: shape.Clone(), Data: data}, nil
}

func (t *Tensor) Len() int {
	return len(t.Data)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: t.Shape.Clone(), Data: append([]float64(nil), t.Data...)}
}

// Reshape returns a view sharing t's data.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	return FromData(Shape(shape), t.Data)
}

// ZerosLike allocates a zero tensor of the same shape.
func (t *Tensor) ZerosLike() *Tensor {
	return &Tensor{Shape: t.Shape.Clone(), Data: make([]float64, len(t.Data))}
}

// sum returns a+b elementwise as a new tensor. nil operands are treated as zero.
func sum(a, b *Tensor) *Tensor {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	out := a.Clone()
	for i, v := range b.Data {
		out.Data[i] += v
	}
	return out
}
