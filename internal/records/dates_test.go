package records

import "testing"

func TestNormalizeDateFilter(t *testing.T) {
	cases := []struct {
		name     string
		value    string
		endOfDay bool
		expected string
	}{
		{"bare date start", "2024-03-01", false, "2024-03-01T00:00:00+03:00"},
		{"bare date end", "2024-03-01", true, "2024-03-01T23:59:59+03:00"},
		{"naive datetime gains zone", "2024-03-01T10:30:00", false, "2024-03-01T10:30:00+03:00"},
		{"zulu rewritten", "2024-03-01T10:30:00Z", false, "2024-03-01T10:30:00+03:00"},
		{"zoned datetime untouched", "2024-03-01T10:30:00+02:00", true, "2024-03-01T10:30:00+02:00"},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			normalized := NormalizeDateFilter(testCase.value, testCase.endOfDay)
			if normalized != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, normalized)
			}
		})
	}
}
