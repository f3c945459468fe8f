package usecase

import (
	"sort"

	"TransitWatch/internal/domain/models"
	"TransitWatch/internal/services/geometry"
)

// FindTransitPeriods groups consecutive samples of body that share a sign.
// Each period starts at its first sample and ends at its last one, so
// boundary precision is bounded by the sampling step. The first and last
// periods are marked partial: they are cut by the window, not by a sign change.
func FindTransitPeriods(series []models.Snapshot, body models.Body) ([]models.TransitPeriod, error) {
	if len(series) == 0 {
		return nil, nil
	}

	var (
		out []models.TransitPeriod
		cur *models.TransitPeriod
	)
	for _, s := range series {
		pos, ok := s.Positions[body]
		if !ok {
			return nil, &models.CalculationError{Op: "segment", Body: body, Err: models.NewValidationError("series", "missing position at %s", s.Time)}
		}
		sign := geometry.SignIndex(pos.Longitude)
		if cur != nil && cur.Sign == sign {
			cur.End = s.Time
			continue
		}
		if cur != nil {
			out = append(out, *cur)
		}
		cur = &models.TransitPeriod{
			Body:      body,
			Sign:      sign,
			SignName:  models.SignName(sign),
			Longitude: pos.Longitude,
			Start:     s.Time,
			End:       s.Time,
		}
	}
	out = append(out, *cur)

	out[0].Partial = true
	out[len(out)-1].Partial = true
	for i := range out {
		out[i].Duration = out[i].End.Sub(out[i].Start)
	}
	return out, nil
}

// FindAllTransitPeriods segments every body and orders the result by start time.
func FindAllTransitPeriods(series []models.Snapshot, bodies []models.Body) ([]models.TransitPeriod, error) {
	var out []models.TransitPeriod
	for _, b := range bodies {
		ps, err := FindTransitPeriods(series, b)
		if err != nil {
			return nil, err
		}
		out = append(out, ps...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// PeriodEvents derives sign exit and entry events from the boundaries between
// consecutive periods of the same body. Both are stamped at the first sample
// of the new sign.
func PeriodEvents(periods []models.TransitPeriod, intensity func(b models.Body, sign int, lon float64) float64) []models.TransitEvent {
	byBody := map[models.Body][]models.TransitPeriod{}
	for _, p := range periods {
		byBody[p.Body] = append(byBody[p.Body], p)
	}

	var out []models.TransitEvent
	for _, body := range models.AllBodies {
		ps := byBody[body]
		sort.SliceStable(ps, func(i, j int) bool { return ps[i].Start.Before(ps[j].Start) })
		for i := 1; i < len(ps); i++ {
			prev, next := ps[i-1], ps[i]
			ts := next.Start
			var inPrev, inNext float64
			if intensity != nil {
				inPrev = intensity(body, prev.Sign, prev.Longitude)
				inNext = intensity(body, next.Sign, next.Longitude)
			}
			out = append(out,
				models.TransitEvent{
					Type:      models.EventSignExit,
					Timestamp: ts,
					Body:      body,
					Sign:      prev.Sign,
					Intensity: inPrev,
					Key:       models.EventKey(models.EventSignExit, body, prev.Sign, ts.Unix()),
				},
				models.TransitEvent{
					Type:      models.EventSignEntry,
					Timestamp: ts,
					Body:      body,
					Sign:      next.Sign,
					Intensity: inNext,
					Key:       models.EventKey(models.EventSignEntry, body, next.Sign, ts.Unix()),
				},
			)
		}
	}
	sortEvents(out)
	return out
}

func sortEvents(evs []models.TransitEvent) {
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].Timestamp.Before(evs[j].Timestamp) })
}
