// Package fraction provides exact rational coordinates for grid cell
// boundaries. Every value is kept in lowest terms so that two boundaries
// computed at different subdivision depths compare equal when they describe
// the same position.
package fraction

import (
	"fmt"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
)

const ErrTypeMalformedFraction = "malformed_fraction"

// GCD returns the greatest common divisor of a and b using the Euclidean
// algorithm. GCD(0, 0) is 0.
func GCD(a, b int) int {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}

	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Simplify reduces n/m to lowest terms. 0/0 is returned unchanged.
func Simplify(n, m int) (int, int) {
	g := GCD(n, m)
	if g == 0 {
		return n, m
	}
	return n / g, m / g
}

// Fraction is an immutable reduced rational number. The zero value is the
// degenerate 0/0 fraction used to mark released cells.
type Fraction struct {
	num int
	den int
}

// New returns n/m in lowest terms with a positive denominator. A zero
// denominator yields the degenerate fraction.
func New(n, m int) Fraction {
	if m == 0 {
		return Fraction{}
	}
	if m < 0 {
		n, m = -n, -m
	}

	n, m = Simplify(n, m)
	return Fraction{num: n, den: m}
}

// Zero and One are the bounds of the unit interval.
var (
	Zero = Fraction{num: 0, den: 1}
	One  = Fraction{num: 1, den: 1}
)

func (f Fraction) Num() int {
	return f.num
}

func (f Fraction) Den() int {
	return f.den
}

// Pair returns the fraction as a [numerator, denominator] pair.
func (f Fraction) Pair() [2]int {
	return [2]int{f.num, f.den}
}

// IsDegenerate reports whether f is the 0/0 placeholder.
func (f Fraction) IsDegenerate() bool {
	return f.den == 0
}

// IsReduced reports whether n/m is already written in lowest terms with a
// positive denominator.
func IsReduced(n, m int) bool {
	return m > 0 && GCD(n, m) == 1
}

func (f Fraction) Add(o Fraction) Fraction {
	return New(f.num*o.den+o.num*f.den, f.den*o.den)
}

func (f Fraction) Sub(o Fraction) Fraction {
	return New(f.num*o.den-o.num*f.den, f.den*o.den)
}

func (f Fraction) Mul(o Fraction) Fraction {
	return New(f.num*o.num, f.den*o.den)
}

func (f Fraction) Div(o Fraction) Fraction {
	return New(f.num*o.den, f.den*o.num)
}

// Mid returns the midpoint between f and o.
func (f Fraction) Mid(o Fraction) Fraction {
	return New(f.num*o.den+o.num*f.den, 2*f.den*o.den)
}

// Cmp returns -1, 0 or 1 depending on whether f is lesser, equal or greater
// than o. Degenerate fractions compare as 0.
func (f Fraction) Cmp(o Fraction) int {
	l := f.num * o.den
	r := o.num * f.den

	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	default:
		return 0
	}
}

// Equal reports whether both fractions have the same reduced form.
func (f Fraction) Equal(o Fraction) bool {
	return f.num == o.num && f.den == o.den
}

func (f Fraction) Less(o Fraction) bool {
	return f.Cmp(o) < 0
}

// Min returns the lesser of f and o.
func Min(f, o Fraction) Fraction {
	if o.Less(f) {
		return o
	}
	return f
}

// Max returns the greater of f and o.
func Max(f, o Fraction) Fraction {
	if f.Less(o) {
		return o
	}
	return f
}

// Float64 returns the floating point approximation of f. Degenerate fractions
// return 0.
func (f Fraction) Float64() float64 {
	if f.den == 0 {
		return 0
	}
	return float64(f.num) / float64(f.den)
}

func (f Fraction) String() string {
	return fmt.Sprintf("%d/%d", f.num, f.den)
}

func (f Fraction) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Pair())
}

func (f *Fraction) UnmarshalJSON(b []byte) error {
	var pair [2]int
	if err := json.Unmarshal(b, &pair); err != nil {
		return errors.New("decoding fraction failed").
			WithType(ErrTypeMalformedFraction).
			Wrap(err)
	}

	if pair[0] == 0 && pair[1] == 0 {
		*f = Fraction{}
		return nil
	}

	if pair[1] == 0 {
		return errors.New("fraction has a zero denominator").
			WithType(ErrTypeMalformedFraction).
			WithTag("numerator", pair[0])
	}

	*f = New(pair[0], pair[1])
	return nil
}
