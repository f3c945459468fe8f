package models

// Body identifies a tracked celestial body.
type Body string

const (
	Sun     Body = "sun"
	Moon    Body = "moon"
	Mercury Body = "mercury"
	Venus   Body = "venus"
	Mars    Body = "mars"
	Jupiter Body = "jupiter"
	Saturn  Body = "saturn"
	Rahu    Body = "rahu"
	Ketu    Body = "ketu"
)

// AllBodies lists the tracked bodies in their canonical order.
var AllBodies = []Body{Sun, Moon, Mercury, Venus, Mars, Jupiter, Saturn, Rahu, Ketu}

// IsValidBody returns true if b is one of the tracked bodies.
func IsValidBody(b Body) bool {
	for _, x := range AllBodies {
		if x == b {
			return true
		}
	}
	return false
}

// ParseBodies converts raw names to bodies, skipping unknown ones.
// An empty input yields AllBodies.
func ParseBodies(raw []string) []Body {
	if len(raw) == 0 {
		return append([]Body(nil), AllBodies...)
	}
	out := make([]Body, 0, len(raw))
	for _, s := range raw {
		b := Body(s)
		if IsValidBody(b) {
			out = append(out, b)
		}
	}
	return out
}

// SignNames holds the 12 zodiac sign names indexed 0..11.
var SignNames = [12]string{
	"Aries", "Taurus", "Gemini", "Cancer", "Leo", "Virgo",
	"Libra", "Scorpio", "Sagittarius", "Capricorn", "Aquarius", "Pisces",
}

// SignName returns the name for a sign index, or "" when out of range.
func SignName(idx int) string {
	if idx < 0 || idx >= len(SignNames) {
		return ""
	}
	return SignNames[idx]
}
