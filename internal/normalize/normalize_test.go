package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrice(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"R 1,250,000", 1250000, true},
		{"$1.250.000", 1250000, true},
		{"1250000", 1250000, true},
		{"R1 250 000", 1250000, true},
		{"POA", 0, false},
		{"", 0, false},
		{"price on request", 0, false},
	}
	for _, tc := range cases {
		got, ok := Price(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestArea(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"250 m²", 250, true},
		{"250m2", 250, true},
		{"250 sqm", 250, true},
		{"1.5 ha", 15000, true},
		{"120.5", 120.5, true},
		{"250 acres", 0, false},
		{"large", 0, false},
	}
	for _, tc := range cases {
		got, ok := Area(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.InDelta(t, tc.want, got, 0.001, tc.in)
	}
}

func TestSmallInt(t *testing.T) {
	cases := []struct {
		in   string
		want int32
		ok   bool
	}{
		{"3 beds", 3, true},
		{"Bedrooms: 4", 4, true},
		{"2", 2, true},
		{"studio", 0, false},
	}
	for _, tc := range cases {
		got, ok := SmallInt(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestAddress(t *testing.T) {
	got, ok := Address("  12 Main Road,\n  Claremont  ")
	assert.True(t, ok)
	assert.Equal(t, "12 Main Road, Claremont", got)

	_, ok = Address("   ")
	assert.False(t, ok)
}

func TestPropertyType(t *testing.T) {
	got, ok := PropertyType("  Residential ")
	assert.True(t, ok)
	assert.Equal(t, "residential", got)

	_, ok = PropertyType("")
	assert.False(t, ok)
}

func TestFloat(t *testing.T) {
	got, ok := Float("-33.918861")
	assert.True(t, ok)
	assert.InDelta(t, -33.918861, got, 0.000001)

	got, ok = Float("18.4233")
	assert.True(t, ok)
	assert.InDelta(t, 18.4233, got, 0.0001)

	_, ok = Float("unknown")
	assert.False(t, ok)
}
