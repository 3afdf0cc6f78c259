package wx

import (
	"time"
)

const (
	// DefaultLookaheadHours is the timeline length when none is configured.
	DefaultLookaheadHours = 24
	// MinLookaheadHours and MaxLookaheadHours bound the timeline length.
	MinLookaheadHours = 1
	MaxLookaheadHours = 48
)

// ClampLookahead bounds a requested lookahead to the supported range,
// substituting the default for non-positive zero-value requests.
func ClampLookahead(hours int) int {
	if hours == 0 {
		return DefaultLookaheadHours
	}
	if hours < MinLookaheadHours {
		return MinLookaheadHours
	}
	if hours > MaxLookaheadHours {
		return MaxLookaheadHours
	}
	return hours
}

// ParseSegments normalizes a raw TAF record into forecast segments.
// Groups with a missing or inverted validity window are skipped rather
// than failing the record.
func ParseSegments(taf *TAF) []ForecastSegment {
	segments := make([]ForecastSegment, 0, len(taf.Fcsts))
	for _, f := range taf.Fcsts {
		if f.TimeFrom <= 0 || f.TimeTo <= f.TimeFrom {
			continue
		}
		segments = append(segments, ForecastSegment{
			TimeFrom:     f.TimeFrom,
			TimeTo:       f.TimeTo,
			Visibility:   parseVisibility(f.Visib),
			Ceiling:      ceilingFromClouds(f.Clouds),
			WindSpeed:    f.WSpd,
			WindGust:     f.WGst,
			WindDir:      parseWindDir(f.WDir),
			CategoryHint: parseCategoryHint(f.FltCat),
		})
	}
	return segments
}

// BuildTimeline produces exactly `hours` consecutive hourly slots for one
// airport, starting at the top of the hour containing ref. Each slot takes
// the first segment whose [TimeFrom, TimeTo) window contains the slot
// instant; hours not covered by any segment come back as unknown with no
// numeric fields.
func BuildTimeline(icaoID string, segments []ForecastSegment, hours int, ref time.Time) Timeline {
	hours = ClampLookahead(hours)
	start := ref.UTC().Truncate(time.Hour)

	slots := make([]HourSlot, hours)
	for i := range slots {
		hour := start.Add(time.Duration(i) * time.Hour)
		slots[i] = buildSlot(segments, hour)
	}

	return Timeline{ICAOID: icaoID, Slots: slots}
}

// EmptyTimeline returns the explicit no-data marker for an airport whose
// id produced no forecast record.
func EmptyTimeline(icaoID string) Timeline {
	return Timeline{ICAOID: icaoID, NoData: true, Slots: []HourSlot{}}
}

func buildSlot(segments []ForecastSegment, hour time.Time) HourSlot {
	slot := HourSlot{Hour: hour, Category: CategoryUnknown}

	instant := hour.Unix()
	var active *ForecastSegment
	for i := range segments {
		if segments[i].TimeFrom <= instant && instant < segments[i].TimeTo {
			active = &segments[i]
			break
		}
	}
	if active == nil {
		return slot
	}

	slot.Visibility = active.Visibility
	slot.Ceiling = active.Ceiling
	slot.WindSpeed = active.WindSpeed
	slot.WindGust = active.WindGust
	slot.WindDir = active.WindDir
	slot.Category = segmentCategory(active)
	return slot
}

// segmentCategory resolves the category for an active segment: the
// upstream hint wins, then classification from whichever of
// visibility/ceiling is reported (the missing half assumed unlimited),
// and unknown only when the segment reports neither.
func segmentCategory(seg *ForecastSegment) Category {
	if seg.CategoryHint != "" {
		return seg.CategoryHint
	}
	switch {
	case seg.Visibility != nil && seg.Ceiling != nil:
		return Classify(*seg.Visibility, *seg.Ceiling)
	case seg.Visibility != nil:
		return Classify(*seg.Visibility, clearSkyCeilingFt)
	case seg.Ceiling != nil:
		return Classify(unlimitedVisibilitySM, *seg.Ceiling)
	default:
		return CategoryUnknown
	}
}

// BuildTimelines reshapes raw TAF records into one timeline per requested
// id, preserving request order. Ids with no matching record get an
// explicit empty timeline so the output stays one-to-one with the input.
func BuildTimelines(tafs []TAF, requestedIDs []string, hours int, ref time.Time) []Timeline {
	byID := make(map[string][]ForecastSegment, len(tafs))
	for i := range tafs {
		if _, seen := byID[tafs[i].ICAOID]; seen {
			continue
		}
		byID[tafs[i].ICAOID] = ParseSegments(&tafs[i])
	}

	timelines := make([]Timeline, 0, len(requestedIDs))
	for _, id := range requestedIDs {
		segments, ok := byID[id]
		if !ok {
			timelines = append(timelines, EmptyTimeline(id))
			continue
		}
		timelines = append(timelines, BuildTimeline(id, segments, hours, ref))
	}
	return timelines
}

// ResolveTimeline picks the timeline a displayed airport should use.
// Airports with an override entry try the override target's timeline
// first, falling back to their own when the target's is missing or empty;
// airports without an entry always use their own. The chain is
// one-directional and never transitive.
func ResolveTimeline(stationID string, overrides map[string]string, byID map[string]Timeline) Timeline {
	own, hasOwn := byID[stationID]

	if target, overridden := overrides[stationID]; overridden {
		if tl, ok := byID[target]; ok && !tl.Empty() {
			return tl
		}
		if hasOwn {
			return own
		}
		return EmptyTimeline(stationID)
	}

	if hasOwn {
		return own
	}
	return EmptyTimeline(stationID)
}
