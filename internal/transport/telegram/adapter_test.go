package telegram

import (
	"encoding/json"
	"strings"
	"testing"

	"mailbot/internal/transport"
	logx "mailbot/pkg/logx"
)

func TestMarkupJSONRoundTrip(t *testing.T) {
	t.Parallel()
	blob := MarkupJSON([]transport.Button{
		{Label: "Google", URL: "google.com"},
		{Label: "Facebook", URL: "facebook.com"},
	})
	if blob == "" {
		t.Fatal("empty blob")
	}
	var raw struct {
		InlineKeyboard [][]struct {
			Text string `json:"text"`
			URL  string `json:"url"`
		} `json:"inline_keyboard"`
	}
	if err := json.Unmarshal([]byte(blob), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(raw.InlineKeyboard) != 2 {
		t.Fatalf("rows = %d, want 2", len(raw.InlineKeyboard))
	}
	if raw.InlineKeyboard[0][0].Text != "Google" || raw.InlineKeyboard[0][0].URL != "google.com" {
		t.Fatalf("unexpected first row: %+v", raw.InlineKeyboard[0])
	}

	// The stored blob must render back through buildMarkup unchanged.
	rm := buildMarkup(&transport.SendOptions{MarkupJSON: blob})
	if rm == nil || len(rm.InlineKeyboard) != 2 {
		t.Fatalf("buildMarkup rejected its own blob: %+v", rm)
	}
}

func TestMarkupJSONEmpty(t *testing.T) {
	t.Parallel()
	if got := MarkupJSON(nil); got != "" {
		t.Fatalf("MarkupJSON(nil) = %q, want empty", got)
	}
}

func TestBuildMarkup(t *testing.T) {
	t.Parallel()
	if buildMarkup(&transport.SendOptions{}) != nil {
		t.Fatal("empty options must yield no markup")
	}
	if buildMarkup(&transport.SendOptions{MarkupJSON: "not json"}) != nil {
		t.Fatal("garbage blob must yield no markup")
	}

	rm := buildMarkup(&transport.SendOptions{
		Buttons: []transport.Button{{Label: "A", URL: "a.com"}},
		Menu:    []transport.MenuButton{{Label: "B", Data: "cb_b"}},
	})
	if rm == nil || len(rm.InlineKeyboard) != 2 {
		t.Fatalf("rows = %+v", rm)
	}
	if rm.InlineKeyboard[0][0].URL != "a.com" {
		t.Fatalf("url row first: %+v", rm.InlineKeyboard[0])
	}
	if rm.InlineKeyboard[1][0].Data != "cb_b" {
		t.Fatalf("data row second: %+v", rm.InlineKeyboard[1])
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, logx.Nop()); err == nil || !strings.Contains(err.Error(), "token") {
		t.Fatalf("New without token: err = %v", err)
	}
}
