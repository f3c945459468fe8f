package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TransitWatch/internal/domain/models"
)

func TestDignity(t *testing.T) {
	d, s := Dignity(models.Sun, 0)
	assert.Equal(t, DignityExalted, d)
	assert.Equal(t, 2.0, s)

	d, s = Dignity(models.Sun, 6)
	assert.Equal(t, DignityDebilitated, d)
	assert.Equal(t, -2.0, s)

	d, _ = Dignity(models.Sun, 4)
	assert.Equal(t, DignityOwn, d)

	// Ketu in Scorpio is both exalted and own; exaltation wins.
	d, _ = Dignity(models.Ketu, 7)
	assert.Equal(t, DignityExalted, d)

	d, s = Dignity(models.Moon, 8)
	assert.Equal(t, DignityNeutral, d)
	assert.Equal(t, 0.0, s)
}

func TestHouseSignificance(t *testing.T) {
	for _, h := range []int{1, 4, 7, 10} {
		c, w := HouseSignificance(h)
		assert.Equal(t, HouseAngular, c)
		assert.Equal(t, 2.0, w)
	}
	c, _ := HouseSignificance(5)
	assert.Equal(t, HouseSuccedent, c)
	c, _ = HouseSignificance(12)
	assert.Equal(t, HouseCadent, c)
}

func TestTransitStrength_Clamped(t *testing.T) {
	m := models.AspectMatch{Angle: 90, Orb: 5, Exactness: 0}
	// Saturn exalted in Libra in an angular house: 50 + 25 + 10 + 10 + 15
	assert.Equal(t, 100.0, TransitStrength(m, models.Saturn, 6, 7))

	// Moon debilitated in Scorpio, cadent house, orb fully used
	m = models.AspectMatch{Angle: 0, Orb: 5, Exactness: 5}
	assert.Equal(t, 40.0, TransitStrength(m, models.Moon, 7, 3))

	for sign := 0; sign < 12; sign++ {
		for house := 1; house <= 12; house++ {
			for _, b := range models.AllBodies {
				v := TransitStrength(models.AspectMatch{Orb: 30}, b, sign, house)
				assert.GreaterOrEqual(t, v, 0.0)
				assert.LessOrEqual(t, v, 100.0)
			}
		}
	}
}

func TestTransitStrength_TighterIsStronger(t *testing.T) {
	tight := TransitStrength(models.AspectMatch{Orb: 5, Exactness: 0.5}, models.Mars, 2, 3)
	loose := TransitStrength(models.AspectMatch{Orb: 5, Exactness: 4.5}, models.Mars, 2, 3)
	assert.Greater(t, tight, loose)
}

func TestOverallInfluence(t *testing.T) {
	assert.Equal(t, 0.0, OverallInfluence(nil))
	assert.Equal(t, 70.0, OverallInfluence([]models.ActiveTransit{{Intensity: 80}, {Intensity: 60}}))
}

func TestThresholds(t *testing.T) {
	th := DefaultThresholds
	assert.Equal(t, "critical", th.Level(70.1))
	assert.Equal(t, "medium", th.Level(70))
	assert.Equal(t, "medium", th.Level(41))
	assert.Equal(t, "low", th.Level(40))

	a, err := th.Analyze(models.Jupiter, 3, 4, 80)
	require.NoError(t, err)
	assert.Equal(t, DignityExalted, a.Dignity)
	assert.Equal(t, HouseAngular, a.HouseClass)
	assert.Equal(t, "critical", a.Level)
	assert.Contains(t, a.Themes, "home")

	_, err = th.Analyze(models.Jupiter, 3, 13, 80)
	var ce *models.CalculationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, models.Jupiter, ce.Body)
}
