package solarplan

import "errors"

// ErrDivideByZero is returned by the guarded divisions. Callers are expected
// to check divisors themselves; this error is never coerced to 0 or +Inf.
var ErrDivideByZero = errors.New("solarplan: division by zero")

// Kwh is an amount of energy in kilowatt-hours. Arithmetic is closed over
// Kwh except Cost, which is the only Energy -> Currency conversion.
type Kwh float64

func (k Kwh) Add(other Kwh) Kwh {
	return k + other
}

func (k Kwh) Sub(other Kwh) Kwh {
	return k - other
}

func (k Kwh) MulScalar(f float64) Kwh {
	return Kwh(float64(k) * f)
}

// Cost converts an energy amount to money at the given rate.
func (k Kwh) Cost(rate GbpPerKwh) Gbp {
	return Gbp(float64(k) * float64(rate))
}

// Div returns the dimensionless ratio k/other.
func (k Kwh) Div(other Kwh) (float64, error) {
	if other == 0 {
		return 0, ErrDivideByZero
	}
	return float64(k) / float64(other), nil
}

func (k Kwh) Min(other Kwh) Kwh {
	if other < k {
		return other
	}
	return k
}

func (k Kwh) Max(other Kwh) Kwh {
	if other > k {
		return other
	}
	return k
}

func (k Kwh) Abs() Kwh {
	if k < 0 {
		return -k
	}
	return k
}

func (k Kwh) LessThan(other Kwh) bool {
	return k < other
}
