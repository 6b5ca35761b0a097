package source

import (
	"encoding/json"
	"io"
)

// geminiEntry is one line of a gemini chat log. The format is line-oriented
// JSON with a flat message shape.
type geminiEntry struct {
	SessionID string `json:"sessionId"`
	MessageID int    `json:"messageId"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	Tool      string `json:"toolName"`
	Timestamp string `json:"timestamp"`
}

type geminiParser struct{}

func (geminiParser) Kind() Kind { return KindGemini }

func (geminiParser) Parse(r io.Reader) (*ParsedSession, error) {
	acc := newAccumulator()
	var inputChars, outputChars int64

	err := scanLines(r, func(line []byte) bool {
		var entry geminiEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return false
		}
		if entry.Type == "" && entry.Message == "" {
			return false
		}

		ts := parseTimestamp(entry.Timestamp)
		if acc.s.SessionID == "" && entry.SessionID != "" {
			acc.s.SessionID = entry.SessionID
		}

		switch entry.Type {
		case "user":
			inputChars += int64(len(entry.Message))
			acc.event(Event{Role: RoleUser, Text: entry.Message, Timestamp: ts})
		case "gemini", "assistant":
			outputChars += int64(len(entry.Message))
			acc.event(Event{Role: RoleAssistant, Text: entry.Message, Timestamp: ts})
		case "tool":
			acc.event(Event{Role: RoleTool, Text: entry.Message, ToolName: entry.Tool, Timestamp: ts})
		default:
			acc.event(Event{Role: RoleOther, Text: entry.Message, Timestamp: ts})
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	// Gemini logs carry no usage data; estimate at ~4 chars per token.
	acc.s.Tokens.Input = inputChars / 4
	acc.s.Tokens.Output = outputChars / 4

	return acc.done(), nil
}
