package wx

import (
	"strconv"
	"strings"
	"time"
)

// Category is the coarse visibility/ceiling-derived flight severity class.
type Category string

const (
	CategoryVFR     Category = "vfr"
	CategoryMVFR    Category = "mvfr"
	CategoryIFR     Category = "ifr"
	CategoryLIFR    Category = "lifr"
	CategoryUnknown Category = "unk"
)

// IsAlertable reports whether the category warrants an IFR/LIFR alert.
func (c Category) IsAlertable() bool {
	return c == CategoryIFR || c == CategoryLIFR
}

// CloudLayer is a single cloud layer as reported by aviationweather.gov.
type CloudLayer struct {
	Cover string   `json:"cover"`          // "FEW", "SCT", "BKN", "OVC", "VV", ...
	Base  *float64 `json:"base,omitempty"` // ft AGL, absent for CLR/SKC
}

// METAR is a current observation record from aviationweather.gov.
// Only the fields the dashboard consumes are mapped; wind speed and gust
// appear under two different keys depending on API version, hence the
// alias pairs.
type METAR struct {
	ICAOID  string       `json:"icaoId"`
	Name    string       `json:"name,omitempty"`
	ObsTime *int64       `json:"obsTime,omitempty"` // epoch seconds
	Visib   any          `json:"visib,omitempty"`   // number, or string like "10+"
	WSpd    *float64     `json:"wspd,omitempty"`
	WSpdKt  *float64     `json:"wspdKt,omitempty"`
	WGst    *float64     `json:"wgst,omitempty"`
	WGstKt  *float64     `json:"wgstKt,omitempty"`
	WDir    any          `json:"wdir,omitempty"` // number, or "VRB"
	Clouds  []CloudLayer `json:"clouds,omitempty"`
	RawOb   string       `json:"rawOb,omitempty"`
}

// TAFForecast is one time-bounded forecast group inside a TAF record.
type TAFForecast struct {
	TimeFrom int64        `json:"timeFrom"` // epoch seconds
	TimeTo   int64        `json:"timeTo"`   // epoch seconds
	Visib    any          `json:"visib,omitempty"`
	Clouds   []CloudLayer `json:"clouds,omitempty"`
	WSpd     *float64     `json:"wspd,omitempty"`
	WGst     *float64     `json:"wgst,omitempty"`
	WDir     any          `json:"wdir,omitempty"`
	FltCat   string       `json:"fltCat,omitempty"` // upstream category hint, when present
}

// TAF is a raw forecast record from aviationweather.gov.
type TAF struct {
	ICAOID string        `json:"icaoId"`
	Fcsts  []TAFForecast `json:"fcsts"`
}

// ForecastSegment is a parsed, normalized TAF group. Segments with an
// unparseable validity window are dropped at parse time.
type ForecastSegment struct {
	TimeFrom     int64
	TimeTo       int64
	Visibility   *float64
	Ceiling      *float64
	WindSpeed    *float64
	WindGust     *float64
	WindDir      *int
	CategoryHint Category // empty when upstream gave no usable hint
}

// HourSlot is one hour of a reconstructed forecast timeline.
type HourSlot struct {
	Hour       time.Time `json:"hour"` // top of hour, UTC
	Category   Category  `json:"category"`
	Visibility *float64  `json:"visibility,omitempty"`
	Ceiling    *float64  `json:"ceiling,omitempty"`
	WindSpeed  *float64  `json:"wind_speed,omitempty"`
	WindGust   *float64  `json:"wind_gust,omitempty"`
	WindDir    *int      `json:"wind_dir,omitempty"`
}

// Timeline is the fixed-cadence hourly forecast for one airport.
// NoData marks airports whose id produced no forecast record at all;
// such airports still get an entry so the result stays one-to-one with
// the requested id set.
type Timeline struct {
	ICAOID string     `json:"icaoId"`
	NoData bool       `json:"no_data,omitempty"`
	Slots  []HourSlot `json:"slots"`
}

// Empty reports whether the timeline carries no usable slots.
func (t Timeline) Empty() bool {
	return t.NoData || len(t.Slots) == 0
}

// ObservationSource identifies which upstream backed an observation.
type ObservationSource string

const (
	SourceMETAR ObservationSource = "metar"
	SourceASOS  ObservationSource = "asos"
	SourceNone  ObservationSource = "none"
)

// ObservationSnapshot is the current-conditions view for one airport,
// derived from exactly one source (METAR preferred, ASOS fallback).
// When neither is available the snapshot holds VFR-safe synthetic values
// and HasObs is false.
type ObservationSnapshot struct {
	Source     ObservationSource `json:"source"`
	HasObs     bool              `json:"has_obs"`
	Visibility float64           `json:"visibility"`
	Ceiling    *float64          `json:"ceiling,omitempty"` // absent = no BKN/OVC/VV layer
	WindSpeed  *float64          `json:"wind_speed,omitempty"`
	WindGust   *float64          `json:"wind_gust,omitempty"`
	AgeMinutes *int              `json:"age_minutes,omitempty"`
}

// Category classifies the snapshot, treating a missing ceiling as clear sky.
func (o ObservationSnapshot) Category() Category {
	ceiling := clearSkyCeilingFt
	if o.Ceiling != nil {
		ceiling = *o.Ceiling
	}
	return Classify(o.Visibility, ceiling)
}

// ASOSRow is one observation row from the IEM ASOS network export,
// reduced to the most recent row per station at parse time.
type ASOSRow struct {
	Station string      `json:"station"` // 3-letter id, no leading K
	Valid   time.Time   `json:"valid"`
	Vsby    *float64    `json:"vsby,omitempty"`
	WDir    *float64    `json:"wdir,omitempty"`
	Sped    *float64    `json:"sped,omitempty"`
	Gust    *float64    `json:"gust,omitempty"`
	TmpF    *float64    `json:"tmpf,omitempty"`
	SkyC    [4]string   `json:"skyc"`
	SkyL    [4]*float64 `json:"skyl"`
}

// Payload is one immutable assembled refresh result. It is the unit that
// gets cached, persisted, and invalidated as a whole.
type Payload struct {
	FetchedAt time.Time  `json:"fetched_at"`
	METARs    []METAR    `json:"metars"`
	Timelines []Timeline `json:"taf_data"`
	ASOS      []ASOSRow  `json:"asos_rows"`
}

// AlertType distinguishes current-conditions alerts from forecast alerts.
type AlertType string

const (
	AlertNow      AlertType = "now"
	AlertForecast AlertType = "forecast"
)

// Alert is a derived IFR/LIFR condition notice. Never persisted.
type Alert struct {
	Type        AlertType  `json:"type"`
	StationID   string     `json:"station_id"`
	StationName string     `json:"station_name"`
	Category    Category   `json:"category"`
	Hour        *time.Time `json:"hour,omitempty"` // forecast alerts only
}

// parseVisibility normalizes the upstream visibility field, which may be
// a number or a string with a trailing "+" ("10+"). Returns nil when the
// field is missing or unparseable.
func parseVisibility(v any) *float64 {
	switch val := v.(type) {
	case float64:
		return &val
	case int:
		f := float64(val)
		return &f
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(val), "+")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// parseWindDir normalizes the wind direction field, which may be a number
// or the string "VRB". Variable/missing directions come back as nil.
func parseWindDir(v any) *int {
	switch val := v.(type) {
	case float64:
		d := int(val)
		return &d
	case int:
		d := val
		return &d
	case string:
		d, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return nil
		}
		return &d
	default:
		return nil
	}
}

// ceilingFromClouds returns the lowest base among ceiling-forming layers
// (BKN, OVC, VV), or nil when no qualifying layer exists.
func ceilingFromClouds(layers []CloudLayer) *float64 {
	var ceiling *float64
	for _, layer := range layers {
		if layer.Base == nil {
			continue
		}
		switch strings.ToUpper(layer.Cover) {
		case "BKN", "OVC", "VV":
			if ceiling == nil || *layer.Base < *ceiling {
				base := *layer.Base
				ceiling = &base
			}
		}
	}
	return ceiling
}

// parseCategoryHint maps an upstream flight category string to a Category,
// returning empty for anything outside the four known values.
func parseCategoryHint(s string) Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vfr":
		return CategoryVFR
	case "mvfr":
		return CategoryMVFR
	case "ifr":
		return CategoryIFR
	case "lifr":
		return CategoryLIFR
	default:
		return ""
	}
}
