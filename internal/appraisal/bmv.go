package appraisal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Matches a line of the form "BMV: $N", allowing list or bold markdown around the label.
var bmvLineRe = regexp.MustCompile(`(?im)^[\s>*_-]*BMV[*_]*\s*:[*_\s]*\$?\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)

// ParseBMV extracts the last "BMV: $N" figure from comp-filter output.
func ParseBMV(text string) (float64, error) {
	matches := bmvLineRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("no BMV line found")
	}
	raw := strings.ReplaceAll(matches[len(matches)-1][1], ",", "")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse BMV %q: %w", raw, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("BMV must be positive, got %v", v)
	}
	return v, nil
}
