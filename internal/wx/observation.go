package wx

import (
	"time"
)

// ResolveObservation derives the current-conditions snapshot for one
// airport. Exactly one source is used: a METAR if present, else the most
// recent ASOS row, else a synthetic VFR-safe snapshot. Fields are never
// merged across sources.
func ResolveObservation(metar *METAR, asos *ASOSRow, now time.Time) ObservationSnapshot {
	if metar != nil {
		return observationFromMETAR(metar, now)
	}
	if asos != nil {
		return observationFromASOS(asos, now)
	}
	return ObservationSnapshot{
		Source:     SourceNone,
		HasObs:     false,
		Visibility: unlimitedVisibilitySM,
	}
}

func observationFromMETAR(m *METAR, now time.Time) ObservationSnapshot {
	obs := ObservationSnapshot{
		Source: SourceMETAR,
		HasObs: true,
	}

	if vis := parseVisibility(m.Visib); vis != nil {
		obs.Visibility = *vis
	} else {
		obs.Visibility = unlimitedVisibilitySM
	}

	obs.Ceiling = ceilingFromClouds(m.Clouds)

	// Wind speed and gust keys vary between API revisions.
	obs.WindSpeed = firstNumber(m.WSpd, m.WSpdKt)
	obs.WindGust = firstNumber(m.WGst, m.WGstKt)

	if m.ObsTime != nil && *m.ObsTime > 0 {
		age := int(now.Sub(time.Unix(*m.ObsTime, 0)).Minutes())
		obs.AgeMinutes = &age
	}

	return obs
}

func observationFromASOS(row *ASOSRow, now time.Time) ObservationSnapshot {
	obs := ObservationSnapshot{
		Source: SourceASOS,
		HasObs: true,
	}

	if row.Vsby != nil {
		obs.Visibility = *row.Vsby
	} else {
		obs.Visibility = unlimitedVisibilitySM
	}

	obs.Ceiling = ceilingFromASOSLayers(row)
	obs.WindSpeed = row.Sped
	obs.WindGust = row.Gust

	if !row.Valid.IsZero() {
		age := int(now.Sub(row.Valid).Minutes())
		obs.AgeMinutes = &age
	}

	return obs
}

// ceilingFromASOSLayers applies the ceiling rule to the four fixed
// skycN/skylN field pairs of an ASOS row.
func ceilingFromASOSLayers(row *ASOSRow) *float64 {
	layers := make([]CloudLayer, 0, len(row.SkyC))
	for i, cover := range row.SkyC {
		if cover == "" {
			continue
		}
		layers = append(layers, CloudLayer{Cover: cover, Base: row.SkyL[i]})
	}
	return ceilingFromClouds(layers)
}

// firstNumber returns the first non-nil value from the given alias chain.
func firstNumber(candidates ...*float64) *float64 {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}
