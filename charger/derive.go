package charger

import "math"

// EstimateCurrent approximates the charging current from total AC power.
//
// This is a best-effort figure: it assumes the load is balanced across the
// active phases and that every phase sits at the nominal voltage. The phase
// count comes from which L1/L2/L3 sections the event carried; two sections
// count as two-phase regardless of which two they are.
//
// Zero power yields int64(0), otherwise the result is rounded to 3 decimals.
func EstimateCurrent(power, voltage float64, phases int) any {
	if power == 0 {
		return int64(0)
	}

	divisor := 1.0
	switch {
	case phases >= 3:
		divisor = 3
	case phases == 2:
		divisor = 2
	}

	return round3(power / voltage / divisor)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
