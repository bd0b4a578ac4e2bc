package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from strings such as "30s",
// "15m" or "7d" in a poller document.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := parseDurationExtended(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

const (
	day  = 24 * time.Hour
	week = 7 * day
)

// parseDurationExtended accepts everything time.ParseDuration does plus d
// (24h) and w (7d) units, e.g. "7d", "1w2d3h", "1.5d", "-2w".
func parseDurationExtended(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("duration is required")
	}
	if !strings.ContainsAny(s, "dw") {
		return time.ParseDuration(s)
	}

	sign := time.Duration(1)
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}

	var total time.Duration
	for s != "" {
		num, unit, rest, ok := nextDurationTerm(s)
		if !ok {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		s = rest

		var part time.Duration
		switch unit {
		case "d", "w":
			value, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q", raw)
			}
			scale := day
			if unit == "w" {
				scale = week
			}
			part = time.Duration(value * float64(scale))
		default:
			parsed, err := time.ParseDuration(num + unit)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
			}
			part = parsed
		}
		total += part
	}
	return sign * total, nil
}

// nextDurationTerm splits one "<number><unit>" term off the front of s.
func nextDurationTerm(s string) (num, unit, rest string, ok bool) {
	i := 0
	dot := false
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.' && !dot) {
		if s[i] == '.' {
			dot = true
		}
		i++
	}
	if i == 0 {
		return "", "", "", false
	}
	j := i
	for j < len(s) {
		r, size := utf8.DecodeRuneInString(s[j:])
		if r == utf8.RuneError || !(r == 'µ' || unicode.IsLetter(r)) {
			break
		}
		j += size
	}
	if j == i {
		return "", "", "", false
	}
	return s[:i], s[i:j], s[j:], true
}
