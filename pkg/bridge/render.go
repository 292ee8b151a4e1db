package bridge

import (
	"strings"

	"github.com/openclaw/bridge/pkg/message"
)

// renderOutboundText builds the plain-text fanout representation of a
// canonical message, prefixed with its source channel.
func renderOutboundText(msg message.Canonical) string {
	prefix := "[" + string(msg.SourceChannel) + "] "

	switch msg.Kind {
	case message.KindCommand:
		body := "/" + msg.CommandName
		if len(msg.CommandArgs) > 0 {
			body += " " + strings.Join(msg.CommandArgs, " ")
		}
		return prefix + strings.TrimSpace(body)
	case message.KindAudio:
		return prefix + "(audio) " + urlOrUnavailable(msg.AudioURL)
	case message.KindFile:
		return prefix + "(file) " + urlOrUnavailable(msg.FileURL)
	default:
		return prefix + msg.Text
	}
}

func urlOrUnavailable(url string) string {
	if url == "" {
		return "unavailable"
	}
	return url
}
