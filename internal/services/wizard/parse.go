package wizard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mailbot/internal/transport"
)

// ParseKeyboard parses admin keyboard input: one "label;url" per line, both
// fields required and non-empty. Any bad line rejects the whole input so the
// admin can fix and resend it.
func ParseKeyboard(text string) ([]transport.Button, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var out []transport.Button
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ";")
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %q: want exactly one %q separator", line, ";")
		}
		label := strings.TrimSpace(parts[0])
		url := strings.TrimSpace(parts[1])
		if label == "" || url == "" {
			return nil, fmt.Errorf("line %q: label and url must be non-empty", line)
		}
		out = append(out, transport.Button{Label: label, URL: url})
	}
	if len(out) == 0 {
		return nil, errors.New("no buttons given")
	}
	return out, nil
}

// ParseClockDuration parses "HH:MM:SS" as a relative duration (added to
// "now"), not a calendar time. Hours are capped at 23 to match the clock
// notation the admins type.
func ParseClockDuration(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%q: want HH:MM:SS", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		if p == "" || len(p) > 2 {
			return 0, fmt.Errorf("%q: want HH:MM:SS", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("%q: want HH:MM:SS", s)
		}
		nums[i] = n
	}
	h, m, sec := nums[0], nums[1], nums[2]
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("%q: field out of range", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}
