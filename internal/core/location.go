package core

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"
)

// ErrLocationOutOfRange is returned when a value does not lie on the unit ring.
var ErrLocationOutOfRange = errors.New("location out of range [0,1)")

// Location is a node's position on the unit ring [0,1).
// The value is stored as raw float64 bits so readers never observe a torn write.
type Location struct {
	bits atomic.Uint64
}

// NewLocation creates a location holding v.
func NewLocation(v float64) (*Location, error) {
	l := &Location{}
	if err := l.Set(v); err != nil {
		return nil, err
	}
	return l, nil
}

// RandomLocation creates a location uniformly distributed on the ring.
func RandomLocation() *Location {
	l := &Location{}
	l.bits.Store(math.Float64bits(rand.Float64()))
	return l
}

// Value returns the current position.
func (l *Location) Value() float64 {
	return math.Float64frombits(l.bits.Load())
}

// Set replaces the position. Values outside [0,1) are rejected.
func (l *Location) Set(v float64) error {
	if !IsValid(v) {
		return fmt.Errorf("%w: %v", ErrLocationOutOfRange, v)
	}
	l.bits.Store(math.Float64bits(v))
	return nil
}

// CompareAndSwap replaces old with v only if the position is still old.
func (l *Location) CompareAndSwap(old, v float64) (bool, error) {
	if !IsValid(v) {
		return false, fmt.Errorf("%w: %v", ErrLocationOutOfRange, v)
	}
	return l.bits.CompareAndSwap(math.Float64bits(old), math.Float64bits(v)), nil
}

func (l *Location) String() string {
	return fmt.Sprintf("%.6f", l.Value())
}

// IsValid reports whether v is a finite value in [0,1).
func IsValid(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v < 1
}

// Distance returns the ring distance between a and b, always in [0, 0.5].
func Distance(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > 0.5 {
		return 1 - d
	}
	return d
}
