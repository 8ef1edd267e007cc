package parser

import "strings"

// Header vocabulary, matched as case-insensitive substrings. German terms come
// first because the portal exports German headers.
var (
	DateTerms        = []string{"datum", "zeit", "date", "time"}
	ConsumptionTerms = []string{"verbrauch", "wert", "energie", "consumption", "usage", "value", "energy", "kwh"}
)

// inferColumns returns the indices of the date and consumption columns. When
// either is missing from the vocabulary, the first two columns are used.
func inferColumns(header []string) (dateCol, valueCol int, err error) {
	dateCol, valueCol = -1, -1

	for i, col := range header {
		if dateCol == -1 && matchesAny(col, DateTerms) {
			dateCol = i
		}
	}
	for i, col := range header {
		if i == dateCol {
			continue
		}
		if valueCol == -1 && matchesAny(col, ConsumptionTerms) {
			valueCol = i
		}
	}

	if dateCol != -1 && valueCol != -1 {
		return dateCol, valueCol, nil
	}
	if len(header) < 2 {
		return -1, -1, ErrSchema
	}
	return 0, 1, nil
}

func matchesAny(col string, terms []string) bool {
	colLower := strings.ToLower(strings.TrimSpace(col))
	for _, term := range terms {
		if strings.Contains(colLower, term) {
			return true
		}
	}
	return false
}
