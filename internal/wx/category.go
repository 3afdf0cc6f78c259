package wx

// Classification thresholds per the standard US flight category definitions.
// Comparisons are strict: a visibility of exactly 3 SM or a ceiling of
// exactly 1000 ft lands on the less severe side.
const (
	lifrVisibilitySM = 1.0
	lifrCeilingFt    = 500.0
	ifrVisibilitySM  = 3.0
	ifrCeilingFt     = 1000.0
	mvfrVisibilitySM = 5.0
	mvfrCeilingFt    = 3000.0

	// Values substituted when one half of the pair is unreported.
	clearSkyCeilingFt     = 10000.0
	unlimitedVisibilitySM = 10.0
)

// Classify maps visibility (statute miles) and ceiling (feet) to a flight
// category. Most severe condition wins; the same code path classifies both
// current observations and forecast timeline slots.
func Classify(visibilitySM, ceilingFt float64) Category {
	switch {
	case visibilitySM < lifrVisibilitySM || ceilingFt < lifrCeilingFt:
		return CategoryLIFR
	case visibilitySM < ifrVisibilitySM || ceilingFt < ifrCeilingFt:
		return CategoryIFR
	case visibilitySM < mvfrVisibilitySM || ceilingFt < mvfrCeilingFt:
		return CategoryMVFR
	default:
		return CategoryVFR
	}
}
