// Package severity defines the ordered vibration severity classes and the
// threshold set that maps an RMS value onto them.
package severity

import (
	"errors"
	"fmt"
	"strings"
)

// Class is an ordinal vibration severity. The numeric order is load-bearing:
// calibration solves boundaries between adjacent classes and classification
// walks the thresholds from the top down.
type Class uint8

const (
	Calm Class = iota
	Struct
	Foot
	Play
	Jump
)

// NumClasses is the number of severity classes.
const NumClasses = 5

// ErrUnknownClass indicates a label that does not name a severity class
var ErrUnknownClass = errors.New("unknown severity class")

var classNames = [NumClasses]string{"CALM", "STRUCT", "FOOT", "PLAY", "JUMP"}

// All returns every class in ascending order.
func All() [NumClasses]Class {
	return [NumClasses]Class{Calm, Struct, Foot, Play, Jump}
}

// String returns the upper-case wire name of the class.
func (c Class) String() string {
	if int(c) < NumClasses {
		return classNames[c]
	}
	return fmt.Sprintf("Class(%d)", uint8(c))
}

// Valid reports whether c is one of the five defined classes.
func (c Class) Valid() bool {
	return int(c) < NumClasses
}

// Parse converts a label such as "play" or " JUMP " into a Class.
func Parse(s string) (Class, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range classNames {
		if n == name {
			return Class(i), nil
		}
	}
	return Calm, fmt.Errorf("%w: %q", ErrUnknownClass, s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Class) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownClass, uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Class) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
