package platform

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Platform
		wantErr bool
	}{
		{"discord", Discord, false},
		{"telegram", Telegram, false},
		{"whatsapp", WhatsApp, false},
		{"slack", Slack, false},
		{"Discord", "", true},
		{"irc", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Parse(%q) succeeded, want error", tt.in)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("Parse(%q) = %q, %v, want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestAllParses(t *testing.T) {
	for _, p := range All() {
		if _, err := Parse(p.String()); err != nil {
			t.Errorf("Parse(%q) failed: %v", p, err)
		}
	}
}
