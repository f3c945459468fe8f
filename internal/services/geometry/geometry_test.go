package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TransitWatch/internal/domain/models"
)

func equalCusps() []float64 {
	c := make([]float64, 12)
	for i := range c {
		c[i] = float64(i * 30)
	}
	return c
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{0, 0},
		{360, 0},
		{-10, 350},
		{720, 0},
		{725, 5},
		{-370, 350},
		{359.5, 359.5},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, Normalize(tc.in), 1e-9, "Normalize(%v)", tc.in)
	}
	for l := -1000.0; l <= 1000; l += 7.3 {
		got := Normalize(l)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.Less(t, got, 360.0)
	}
	assert.Equal(t, 0.0, Normalize(-1e-15))
}

func TestAngularSeparation(t *testing.T) {
	assert.Equal(t, 180.0, AngularSeparation(0, 180))
	assert.Equal(t, 0.0, AngularSeparation(0, 0))
	assert.InDelta(t, 20.0, AngularSeparation(350, 10), 1e-9)
	for a := 0.0; a < 360; a += 13 {
		for b := 0.0; b < 360; b += 17 {
			s := AngularSeparation(a, b)
			assert.Equal(t, s, AngularSeparation(b, a))
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 180.0)
		}
	}
}

func TestMatchAspect(t *testing.T) {
	m, ok := MatchAspect(0, 5, 10)
	require.True(t, ok)
	assert.Equal(t, 0.0, m.Angle)
	assert.Equal(t, "conjunction", m.Name)
	assert.InDelta(t, 5.0, m.Exactness, 1e-9)

	_, ok = MatchAspect(0, 15, 5)
	assert.False(t, ok)

	m, ok = MatchAspect(0, 60, 10)
	require.True(t, ok)
	assert.Equal(t, 60.0, m.Angle)
	assert.True(t, m.Major)

	m, ok = MatchAspect(0, 30, 10)
	require.True(t, ok)
	assert.Equal(t, 30.0, m.Angle)
	assert.False(t, m.Major)

	_, ok = MatchAspect(0, 5, -1)
	assert.False(t, ok)
}

func TestMatchAspect_FirstInCatalogueWins(t *testing.T) {
	// 40 degrees is 5 from semi-square but 20 from sextile; with a wide orb the
	// sextile comes first in the catalogue.
	m, ok := MatchAspect(0, 40, 25)
	require.True(t, ok)
	assert.Equal(t, 60.0, m.Angle)
	assert.LessOrEqual(t, m.Exactness, m.Orb)
}

func TestSignIndex(t *testing.T) {
	assert.Equal(t, 0, SignIndex(0))
	assert.Equal(t, 0, SignIndex(29.999))
	assert.Equal(t, 1, SignIndex(30))
	assert.Equal(t, 11, SignIndex(359.99))
	assert.Equal(t, 11, SignIndex(-1))
}

func TestHouseFromLongitude(t *testing.T) {
	h, err := HouseFromLongitude(45, equalCusps())
	require.NoError(t, err)
	assert.Equal(t, 2, h)

	h, err = HouseFromLongitude(95, equalCusps())
	require.NoError(t, err)
	assert.Equal(t, 4, h)

	for l := 0.0; l < 360; l += 0.5 {
		h, err := HouseFromLongitude(l, equalCusps())
		require.NoError(t, err)
		assert.Equal(t, int(l/30)+1, h)
	}

	_, err = HouseFromLongitude(45, []float64{0, 30, 60})
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
}

func TestHouseFromLongitude_WrapAround(t *testing.T) {
	cusps := []float64{300, 330, 0, 30, 60, 90, 120, 150, 180, 210, 240, 270}
	h, err := HouseFromLongitude(310, cusps)
	require.NoError(t, err)
	assert.Equal(t, 1, h)

	h, err = HouseFromLongitude(5, cusps)
	require.NoError(t, err)
	assert.Equal(t, 3, h)

	h, err = HouseFromLongitude(299, cusps)
	require.NoError(t, err)
	assert.Equal(t, 12, h)
}
