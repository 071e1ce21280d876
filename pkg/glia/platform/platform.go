// Package platform defines the chat platforms Glia can authenticate
// users from. Platform values appear in session keys, token claims and
// the platform_links table, so they are plain lowercase strings.
package platform

import "fmt"

// Platform identifies an external chat platform.
type Platform string

const (
	Discord  Platform = "discord"
	Telegram Platform = "telegram"
	WhatsApp Platform = "whatsapp"
	Slack    Platform = "slack"
)

// All lists every supported platform.
func All() []Platform {
	return []Platform{Discord, Telegram, WhatsApp, Slack}
}

// Parse validates a platform name coming from a request or token claim.
func Parse(s string) (Platform, error) {
	switch p := Platform(s); p {
	case Discord, Telegram, WhatsApp, Slack:
		return p, nil
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

func (p Platform) String() string { return string(p) }
