package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxDelayMinutes bounds /delay.
const MaxDelayMinutes = 7 * 24 * 60

// ParseAddArgs parses the arguments of /add.
// Format: [-c] <term>, one term per line. -c makes regexes case sensitive.
func ParseAddArgs(args string) (caseSensitive bool, terms []string, err error) {
	args = strings.TrimSpace(args)
	if args == "-c" {
		args = ""
	}
	if rest, ok := strings.CutPrefix(args, "-c"); ok && rest != "" && (rest[0] == ' ' || rest[0] == '\n' || rest[0] == '\t') {
		caseSensitive = true
		args = rest
	}

	for _, line := range strings.Split(args, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			terms = append(terms, line)
		}
	}
	if len(terms) == 0 {
		return false, nil, fmt.Errorf("usage: /add [-c] <term>, one term per line")
	}
	return caseSensitive, terms, nil
}

// ParseToggleArg parses an optional on/off argument. An empty argument
// returns nil, meaning toggle.
func ParseToggleArg(args string) (*bool, error) {
	var v bool
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "":
		return nil, nil
	case "on", "yes", "true", "1":
		v = true
	case "off", "no", "false", "0":
		v = false
	default:
		return nil, fmt.Errorf("expected on or off, got %q", strings.TrimSpace(args))
	}
	return &v, nil
}

// ParseDelayArg parses a delay in whole minutes.
func ParseDelayArg(args string) (time.Duration, error) {
	s := strings.TrimSpace(args)
	mins, err := strconv.Atoi(s)
	if err != nil || mins < 0 || mins > MaxDelayMinutes {
		return 0, fmt.Errorf("delay must be a whole number of minutes between 0 and %d", MaxDelayMinutes)
	}
	return time.Duration(mins) * time.Minute, nil
}

// ParseIDArg extracts a numeric Telegram ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}
