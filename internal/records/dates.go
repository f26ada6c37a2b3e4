package records

import "strings"

const (
	dateOnlyLength = len("2006-01-02")
	filterZone     = "+03:00"
)

// NormalizeDateFilter widens user-supplied date filters into the timezone-
// qualified datetime form the CRM expects. A bare date becomes the start or
// end of that day, a naive datetime gains the zone, and a trailing Z is
// rewritten to the fixed offset.
func NormalizeDateFilter(value string, endOfDay bool) string {
	if len(value) == dateOnlyLength {
		if endOfDay {
			return value + "T23:59:59" + filterZone
		}
		return value + "T00:00:00" + filterZone
	}

	if strings.Contains(value, "T") && !strings.Contains(value, "+") && !strings.HasSuffix(value, "Z") {
		return value + filterZone
	}

	if strings.HasSuffix(value, "Z") {
		return strings.TrimSuffix(value, "Z") + filterZone
	}

	return value
}
