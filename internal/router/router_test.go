package router

import "testing"

func TestCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{in: "/stop", want: "stop"},
		{in: "/stop@mybot", want: "stop"},
		{in: "/ADM", want: "adm"},
		{in: "  /id  ", want: "id"},
		{in: "/start extra args", want: "start"},
		{in: "stop", want: ""},
		{in: "", want: ""},
		{in: "hello /stop", want: ""},
	}
	for _, tt := range tests {
		if got := command(tt.in); got != tt.want {
			t.Errorf("command(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
