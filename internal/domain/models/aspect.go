package models

// AspectMatch is a recognised angular relationship between two longitudes.
type AspectMatch struct {
	BodyA     Body    `json:"body_a"`
	BodyB     Body    `json:"body_b"`
	Angle     float64 `json:"angle"`
	Name      string  `json:"name"`
	Major     bool    `json:"major"`
	Exactness float64 `json:"exactness"` // |separation - angle|, always <= Orb
	Orb       float64 `json:"orb"`
	Strength  float64 `json:"strength"` // 0..100
}

// Key identifies the aspect independent of its strength.
func (a AspectMatch) Key() AspectKey {
	return AspectKey{Transit: a.BodyA, Natal: a.BodyB, Angle: a.Angle}
}

// AspectKey identifies a transiting/natal body pair at a given aspect angle.
type AspectKey struct {
	Transit Body
	Natal   Body
	Angle   float64
}
