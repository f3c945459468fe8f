package usecase

import (
	"sort"

	"TransitWatch/internal/domain/models"
	"TransitWatch/internal/services/geometry"
)

// DetectAspectEvents diffs the transiting×natal aspect sets of consecutive
// samples. An aspect present in sample i but not i-1 forms at i; one present
// in i-1 but not i separates at i. Identity is (transiting body, natal body,
// angle), so strength changes alone never emit.
func (a *TransitAnalyzer) DetectAspectEvents(series []models.Snapshot) ([]models.TransitEvent, error) {
	if len(series) < 2 {
		return nil, nil
	}

	prev, err := a.aspectSet(series[0].Positions)
	if err != nil {
		return nil, err
	}

	var out []models.TransitEvent
	for i := 1; i < len(series); i++ {
		cur, err := a.aspectSet(series[i].Positions)
		if err != nil {
			return nil, err
		}
		ts := series[i].Time

		for _, k := range sortedKeys(cur) {
			if _, ok := prev[k]; ok {
				continue
			}
			m := cur[k]
			out = append(out, models.TransitEvent{
				Type:      models.EventAspectFormation,
				Timestamp: ts,
				Body:      k.Transit,
				NatalBody: k.Natal,
				Angle:     k.Angle,
				Intensity: m.Strength,
				Key:       models.EventKey(models.EventAspectFormation, k.Transit, k.Natal, k.Angle, ts.Unix()),
			})
		}
		for _, k := range sortedKeys(prev) {
			if _, ok := cur[k]; ok {
				continue
			}
			m := prev[k]
			out = append(out, models.TransitEvent{
				Type:      models.EventAspectSeparation,
				Timestamp: ts,
				Body:      k.Transit,
				NatalBody: k.Natal,
				Angle:     k.Angle,
				Intensity: m.Strength,
				Key:       models.EventKey(models.EventAspectSeparation, k.Transit, k.Natal, k.Angle, ts.Unix()),
			})
		}
		prev = cur
	}
	return out, nil
}

// DetectCriticalPeriods emits a critical_period event whenever a body's
// transit intensity rises above the critical threshold between two samples.
func (a *TransitAnalyzer) DetectCriticalPeriods(series []models.Snapshot) ([]models.TransitEvent, error) {
	if len(series) < 2 {
		return nil, nil
	}

	prev := map[models.Body]float64{}
	var out []models.TransitEvent
	for i, s := range series {
		for _, body := range models.AllBodies {
			pos, ok := s.Positions[body]
			if !ok {
				continue
			}
			v, err := a.Intensity(body, pos)
			if err != nil {
				return nil, err
			}
			before, seen := prev[body]
			prev[body] = v
			if i == 0 || !seen {
				continue
			}
			if before <= a.thresholds.Critical && v > a.thresholds.Critical {
				out = append(out, models.TransitEvent{
					Type:      models.EventCriticalPeriod,
					Timestamp: s.Time,
					Body:      body,
					Sign:      geometry.SignIndex(pos.Longitude),
					Intensity: v,
					Key:       models.EventKey(models.EventCriticalPeriod, body, s.Time.Unix()),
				})
			}
		}
	}
	return out, nil
}

func (a *TransitAnalyzer) aspectSet(positions models.BodyPositions) (map[models.AspectKey]models.AspectMatch, error) {
	ms, err := a.Aspects(positions)
	if err != nil {
		return nil, err
	}
	set := make(map[models.AspectKey]models.AspectMatch, len(ms))
	for _, m := range ms {
		set[m.Key()] = m
	}
	return set, nil
}

var bodyRank = func() map[models.Body]int {
	r := make(map[models.Body]int, len(models.AllBodies))
	for i, b := range models.AllBodies {
		r[b] = i
	}
	return r
}()

func sortedKeys(set map[models.AspectKey]models.AspectMatch) []models.AspectKey {
	keys := make([]models.AspectKey, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Transit != b.Transit {
			return bodyRank[a.Transit] < bodyRank[b.Transit]
		}
		if a.Natal != b.Natal {
			return bodyRank[a.Natal] < bodyRank[b.Natal]
		}
		return a.Angle < b.Angle
	})
	return keys
}
