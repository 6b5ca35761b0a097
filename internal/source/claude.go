package source

import (
	"encoding/json"
	"io"
	"strings"
	"time"
)

// claudeEntry is one JSONL line of a claude transcript.
type claudeEntry struct {
	Type       string         `json:"type"`
	Timestamp  string         `json:"timestamp"`
	SessionID  string         `json:"sessionId"`
	SessionID2 string         `json:"session_id"`
	Cwd        string         `json:"cwd"`
	Project    string         `json:"project_path"`
	Message    *claudeMessage `json:"message"`
}

type claudeMessage struct {
	Model   string          `json:"model"`
	Role    string          `json:"role"`
	Usage   *claudeUsage    `json:"usage"`
	Content json.RawMessage `json:"content"`
}

type claudeUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

// claudeBlock is one content block inside a message.
type claudeBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Thinking string          `json:"thinking"`
	Name     string          `json:"name"`
	Content  json.RawMessage `json:"content"`
}

type claudeParser struct{}

func (claudeParser) Kind() Kind { return KindClaude }

func (claudeParser) Parse(r io.Reader) (*ParsedSession, error) {
	acc := newAccumulator()

	err := scanLines(r, func(line []byte) bool {
		var entry claudeEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return false
		}

		ts := parseTimestamp(entry.Timestamp)

		if acc.s.SessionID == "" {
			if entry.SessionID != "" {
				acc.s.SessionID = entry.SessionID
			} else if entry.SessionID2 != "" {
				acc.s.SessionID = entry.SessionID2
			}
		}
		if acc.s.CWD == "" {
			if entry.Cwd != "" {
				acc.s.CWD = entry.Cwd
			} else if entry.Project != "" {
				acc.s.CWD = entry.Project
			}
		}

		switch entry.Type {
		case "user", "assistant":
			if entry.Message == nil {
				acc.timestamp(ts)
				return true
			}
			if entry.Message.Model != "" {
				acc.s.Model = entry.Message.Model
			}
			if entry.Message.Usage != nil {
				acc.s.Tokens.Input += entry.Message.Usage.InputTokens
				acc.s.Tokens.Output += entry.Message.Usage.OutputTokens
				acc.s.Tokens.CacheCreation += entry.Message.Usage.CacheCreationInputTokens
				acc.s.Tokens.CacheRead += entry.Message.Usage.CacheReadInputTokens
			}
			emitClaudeEvents(acc, entry.Type, entry.Message, ts)
		case "system":
			// System entries carry metadata only; they still advance
			// the activity clock.
			acc.timestamp(ts)
		default:
			acc.timestamp(ts)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return acc.done(), nil
}

// emitClaudeEvents expands a message's content blocks into events. Text
// blocks collapse into one event per message; tool_use, tool_result and
// thinking blocks each produce their own.
func emitClaudeEvents(acc *accumulator, entryType string, msg *claudeMessage, ts time.Time) {
	role := RoleUser
	if entryType == "assistant" || msg.Role == "assistant" {
		role = RoleAssistant
	}

	// Plain string content.
	var text string
	if err := json.Unmarshal(msg.Content, &text); err == nil {
		acc.event(Event{Role: role, Text: text, Timestamp: ts})
		return
	}

	var blocks []claudeBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		acc.timestamp(ts)
		return
	}

	var textParts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				textParts = append(textParts, b.Text)
			}
		case "thinking":
			acc.event(Event{Role: RoleReasoning, Text: b.Thinking, Thinking: true, Timestamp: ts})
		case "tool_use":
			acc.event(Event{Role: RoleTool, ToolName: b.Name, Timestamp: ts})
		case "tool_result":
			acc.event(Event{Role: RoleTool, Text: claudeResultText(b.Content), ToolName: "result", Timestamp: ts})
		default:
			if b.Text != "" {
				textParts = append(textParts, b.Text)
			}
		}
	}
	if len(textParts) > 0 || len(blocks) == 0 {
		acc.event(Event{Role: role, Text: strings.Join(textParts, "\n"), Timestamp: ts})
	}
}

// claudeResultText extracts displayable text from a tool_result content
// value, which may be a string or a nested block list.
func claudeResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []claudeBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}
