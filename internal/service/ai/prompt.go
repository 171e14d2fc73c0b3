package ai

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
)

const historyLimit = 10

func trimHistory(messages []chat.Message) []chat.Message {
	if len(messages) > historyLimit {
		return messages[len(messages)-historyLimit:]
	}
	return messages
}

var (
	titleListMarker = regexp.MustCompile(`^[-*\d.\s]+`)
	titleMarkdown   = regexp.MustCompile("[*_#`~]")
)

// TitlePrompt asks for a short single-line title of the conversation.
func TitlePrompt(messages []chat.Message) string {
	var b strings.Builder
	b.WriteString("Give a short, catchy single-line title (max 6 words) for this conversation.\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "\n%s: %s", m.Role, m.Content)
	}
	return b.String()
}

// CleanTitle keeps the first line of raw and strips list markers and
// markdown decoration.
func CleanTitle(raw string) string {
	line := strings.TrimSpace(raw)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = titleListMarker.ReplaceAllString(line, "")
	line = titleMarkdown.ReplaceAllString(line, "")
	return strings.TrimSpace(line)
}

// GenerateTitle names a conversation with the given completer.
func GenerateTitle(ctx context.Context, completer Completer, messages []chat.Message) (string, error) {
	raw, err := completer.Complete(ctx, nil, TitlePrompt(messages))
	if err != nil {
		return "", err
	}
	return CleanTitle(raw), nil
}
