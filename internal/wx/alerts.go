package wx

const (
	// DefaultAlertLookaheadHours is how far ahead the forecast scan looks
	// for IFR/LIFR conditions when none is configured.
	DefaultAlertLookaheadHours = 6
)

// DeriveStationAlerts produces the ordered alert list for one airport:
// at most one "now" alert from the current observation, followed by at
// most one "forecast" alert for the first IFR/LIFR slot within the
// lookahead window. Later qualifying slots do not add further alerts.
func DeriveStationAlerts(stationID, stationName string, obsCategory Category, timeline Timeline, lookaheadHours int) []Alert {
	if lookaheadHours <= 0 {
		lookaheadHours = DefaultAlertLookaheadHours
	}

	var alerts []Alert

	if obsCategory.IsAlertable() {
		alerts = append(alerts, Alert{
			Type:        AlertNow,
			StationID:   stationID,
			StationName: stationName,
			Category:    obsCategory,
		})
	}

	scan := timeline.Slots
	if len(scan) > lookaheadHours {
		scan = scan[:lookaheadHours]
	}
	for _, slot := range scan {
		if !slot.Category.IsAlertable() {
			continue
		}
		hour := slot.Hour
		alerts = append(alerts, Alert{
			Type:        AlertForecast,
			StationID:   stationID,
			StationName: stationName,
			Category:    slot.Category,
			Hour:        &hour,
		})
		break
	}

	return alerts
}
