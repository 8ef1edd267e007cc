package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// zonedFormats carry their own offset
var zonedFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04Z07:00",
}

// localFormats are interpreted in the caller's location
var localFormats = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"2.1.2006 15:04",
	"02.01.2006",
	"2.1.2006",
	"02.01.06",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
	"01/02/2006",
	"1/2/2006",
	"1/2/06",
	"Jan 2, 2006",
	"January 2, 2006",
}

// parseTimestamp parses the date formats seen in portal exports. Interval
// values like "01.06.2024 00:00 - 01.06.2024 00:15" use their start.
func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	if start, _, ok := strings.Cut(s, " - "); ok {
		s = strings.TrimSpace(start)
	}
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	for _, format := range zonedFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	for _, format := range localFormats {
		if t, err := time.ParseInLocation(format, s, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", s)
}

// thousandsGrouped matches "1,234" and "1,234,567.5" style numbers
var thousandsGrouped = regexp.MustCompile(`^-?\d{1,3}(,\d{3})+(\.\d+)?$`)

// parseKWh parses a consumption value. With decimalComma set, "1.234,5" and
// "2,5" are read the German way. Otherwise commas only count as thousands
// separators in properly grouped numbers; a lone comma without a point is a
// decimal comma, and anything else is rejected.
func parseKWh(s string, decimalComma bool) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	s = strings.TrimSuffix(s, "kwh")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.Trim(s, `"'`)

	if s == "" {
		return 0, fmt.Errorf("empty value")
	}

	if decimalComma {
		if strings.Contains(s, ",") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		}
	} else if strings.Contains(s, ",") {
		switch {
		case thousandsGrouped.MatchString(s):
			s = strings.ReplaceAll(s, ",", "")
		case strings.Count(s, ",") == 1 && !strings.Contains(s, "."):
			s = strings.Replace(s, ",", ".", 1)
		default:
			return 0, fmt.Errorf("ambiguous number: %s", s)
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number: %s", s)
	}
	return v, nil
}
