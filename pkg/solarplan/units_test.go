package solarplan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKwhArithmetic(t *testing.T) {
	a := Kwh(2.5)
	b := Kwh(1.5)

	assert.Equal(t, Kwh(4), a.Add(b))
	assert.Equal(t, Kwh(1), a.Sub(b))
	assert.Equal(t, Kwh(5), a.MulScalar(2))
	assert.Equal(t, Kwh(1.5), a.Min(b))
	assert.Equal(t, Kwh(2.5), a.Max(b))
	assert.Equal(t, Kwh(2), Kwh(-2).Abs())
	assert.True(t, b.LessThan(a))
}

func TestKwhCost(t *testing.T) {
	assert.Equal(t, Gbp(0.5), Kwh(2).Cost(GbpPerKwh(0.25)))
	// negative prices yield negative cost
	assert.Equal(t, Gbp(-0.5), Kwh(2).Cost(GbpPerKwh(-0.25)))
}

func TestKwhDivideByZero(t *testing.T) {
	_, err := Kwh(5).Div(0)
	assert.ErrorIs(t, err, ErrDivideByZero)

	ratio, err := Kwh(5).Div(2)
	assert.NoError(t, err)
	assert.InDelta(t, 2.5, ratio, 1e-9)
}

func TestGbpArithmetic(t *testing.T) {
	a := Gbp(3)
	b := Gbp(-1)

	assert.Equal(t, Gbp(2), a.Add(b))
	assert.Equal(t, Gbp(4), a.Sub(b))
	assert.Equal(t, Gbp(-1), a.Min(b))
	assert.Equal(t, Gbp(3), a.Max(b))
	assert.Equal(t, Gbp(1), b.Abs())
	assert.True(t, b.LessThan(a))

	_, err := a.Div(0)
	assert.ErrorIs(t, err, ErrDivideByZero)
}

func TestParseWorkMode(t *testing.T) {
	m, err := ParseWorkMode("battery_first")
	assert.NoError(t, err)
	assert.Equal(t, WorkModeBatteryFirst, m)

	_, err = ParseWorkMode("turbo")
	assert.Error(t, err)
}
