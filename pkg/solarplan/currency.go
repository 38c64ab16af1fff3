package solarplan

// Gbp is an amount of money in pounds sterling.
type Gbp float64

func (g Gbp) Add(other Gbp) Gbp {
	return g + other
}

func (g Gbp) Sub(other Gbp) Gbp {
	return g - other
}

func (g Gbp) MulScalar(f float64) Gbp {
	return Gbp(float64(g) * f)
}

// Div returns the dimensionless ratio g/other.
func (g Gbp) Div(other Gbp) (float64, error) {
	if other == 0 {
		return 0, ErrDivideByZero
	}
	return float64(g) / float64(other), nil
}

func (g Gbp) Min(other Gbp) Gbp {
	if other < g {
		return other
	}
	return g
}

func (g Gbp) Max(other Gbp) Gbp {
	if other > g {
		return other
	}
	return g
}

func (g Gbp) Abs() Gbp {
	if g < 0 {
		return -g
	}
	return g
}

func (g Gbp) LessThan(other Gbp) bool {
	return g < other
}

// GbpPerKwh is a signed grid price. Negative means the market pays to
// consume, which some protections treat as a reason not to intervene.
type GbpPerKwh float64

func (r GbpPerKwh) IsNegative() bool {
	return r < 0
}
