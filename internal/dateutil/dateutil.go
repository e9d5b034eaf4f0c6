package dateutil

import "time"

// TimestampLayout is the fixed wire format used by the observation portal
// and for date-range boundaries in the catalog.
const TimestampLayout = "2006-01-02T15:04:05"

// DayObsLayout is the observation-day format used to key calibration frames.
const DayObsLayout = "20060102"

// Parse parses a portal timestamp. Timestamps are naive UTC.
func Parse(value string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, value, time.UTC)
}

// Format renders a time in the portal timestamp format.
func Format(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// DayObs renders the observation day for a time.
func DayObs(t time.Time) string {
	return t.UTC().Format(DayObsLayout)
}
