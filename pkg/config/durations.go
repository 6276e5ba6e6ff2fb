package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

// intervalPattern accepts a positive integer followed by a ms/s/m/h/d unit.
var intervalPattern = regexp.MustCompile(`^(\d+)(ms|s|m|h|d)$`)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// parseInterval parses a schedule interval string such as "30s", "5m", "1h",
// "1d" into a time.Duration. Day-unit values are treated as exactly 24h.
func parseInterval(raw string) (time.Duration, error) {
	m := intervalPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, fmt.Errorf("must match ^\\d+(ms|s|m|h|d)$")
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	var unit time.Duration
	switch m[2] {
	case "ms":
		unit = time.Millisecond
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	return time.Duration(n) * unit, nil
}

// validateCronExpression confirms raw parses as a standard five-field cron
// expression without constructing a running schedule.
func validateCronExpression(raw string) error {
	_, err := cronParser.Parse(raw)
	return err
}
