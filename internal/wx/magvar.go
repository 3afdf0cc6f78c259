package wx

import (
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// MagneticVariation returns the magnetic declination in degrees
// (+East, -West) at the given surface position, used to annotate display
// records so the dashboard can show magnetic wind directions alongside
// the true directions the upstreams report.
func MagneticVariation(lat, lon float64, date time.Time) float64 {
	loc := egm96.NewLocationGeodetic(lat, lon, 0)

	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		// Return 0 for safety if calculation fails
		return 0.0
	}

	return mag.D()
}
