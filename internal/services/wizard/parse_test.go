package wizard

import (
	"testing"
	"time"
)

func TestParseKeyboard(t *testing.T) {
	t.Parallel()
	buttons, err := ParseKeyboard("Google;google.com\nFacebook;facebook.com")
	if err != nil {
		t.Fatalf("ParseKeyboard error: %v", err)
	}
	if len(buttons) != 2 {
		t.Fatalf("got %d buttons, want 2", len(buttons))
	}
	if buttons[0].Label != "Google" || buttons[0].URL != "google.com" {
		t.Fatalf("unexpected first button: %+v", buttons[0])
	}
	if buttons[1].Label != "Facebook" || buttons[1].URL != "facebook.com" {
		t.Fatalf("unexpected second button: %+v", buttons[1])
	}
}

func TestParseKeyboardRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
	}{
		{name: "no separator", in: "onlylabel"},
		{name: "two separators", in: "a;b;c"},
		{name: "empty label", in: ";google.com"},
		{name: "empty url", in: "Google;"},
		{name: "empty input", in: ""},
		{name: "one bad line rejects all", in: "Google;google.com\nbroken"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseKeyboard(tt.in); err == nil {
				t.Fatalf("ParseKeyboard(%q) = nil error, want reject", tt.in)
			}
		})
	}
}

func TestParseClockDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want time.Duration
	}{
		{name: "seconds", in: "00:00:05", want: 5 * time.Second},
		{name: "minutes", in: "00:02:00", want: 2 * time.Minute},
		{name: "hours", in: "23:59:59", want: 23*time.Hour + 59*time.Minute + 59*time.Second},
		{name: "short fields", in: "1:2:3", want: time.Hour + 2*time.Minute + 3*time.Second},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClockDuration(tt.in)
			if err != nil {
				t.Fatalf("ParseClockDuration(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("ParseClockDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseClockDurationRejects(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"25:00:00", "00:60:00", "00:00:60", "bad", "1:2", "::", "0", "-1:00:00"} {
		if _, err := ParseClockDuration(in); err == nil {
			t.Fatalf("ParseClockDuration(%q) = nil error, want reject", in)
		}
	}
}
