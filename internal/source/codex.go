package source

import (
	"encoding/json"
	"io"
)

// codexEntry is one JSONL line of a codex rollout file. The payload shape
// depends on the entry type.
type codexEntry struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

type codexMeta struct {
	ID        string `json:"id"`
	Cwd       string `json:"cwd"`
	Model     string `json:"originator"`
	Timestamp string `json:"timestamp"`
}

type codexTurnContext struct {
	Model string `json:"model"`
}

type codexResponseItem struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
}

type codexEventMsg struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Info *struct {
		TotalTokenUsage *struct {
			InputTokens       int64 `json:"input_tokens"`
			CachedInputTokens int64 `json:"cached_input_tokens"`
			OutputTokens      int64 `json:"output_tokens"`
			ReasoningTokens   int64 `json:"reasoning_output_tokens"`
		} `json:"total_token_usage"`
	} `json:"info"`
}

type codexParser struct{}

func (codexParser) Kind() Kind { return KindCodex }

func (codexParser) Parse(r io.Reader) (*ParsedSession, error) {
	acc := newAccumulator()

	err := scanLines(r, func(line []byte) bool {
		var entry codexEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return false
		}

		ts := parseTimestamp(entry.Timestamp)

		switch entry.Type {
		case "session_meta":
			var meta codexMeta
			if err := json.Unmarshal(entry.Payload, &meta); err != nil {
				return false
			}
			if meta.ID != "" {
				acc.s.SessionID = meta.ID
			}
			if meta.Cwd != "" {
				acc.s.CWD = meta.Cwd
			}
			if acc.s.Model == "" {
				acc.s.Model = meta.Model
			}
			acc.timestamp(ts)

		case "turn_context":
			// turn_context carries the effective model, which overrides
			// session_meta's originator.
			var tc codexTurnContext
			if err := json.Unmarshal(entry.Payload, &tc); err == nil && tc.Model != "" {
				acc.s.Model = tc.Model
			}
			acc.timestamp(ts)

		case "response_item":
			var item codexResponseItem
			if err := json.Unmarshal(entry.Payload, &item); err != nil {
				return false
			}
			switch item.Type {
			case "message":
				role := RoleAssistant
				if item.Role == "user" || item.Role == "developer" {
					role = RoleUser
				}
				var text string
				for _, c := range item.Content {
					if c.Type == "output_text" || c.Type == "input_text" {
						text += c.Text
					}
				}
				acc.event(Event{Role: role, Text: text, Timestamp: ts})
			case "reasoning":
				acc.event(Event{Role: RoleReasoning, Thinking: true, Timestamp: ts})
			case "function_call", "local_shell_call":
				acc.event(Event{Role: RoleTool, ToolName: item.Type, Timestamp: ts})
			default:
				acc.timestamp(ts)
			}

		case "event_msg":
			var ev codexEventMsg
			if err := json.Unmarshal(entry.Payload, &ev); err != nil {
				return false
			}
			switch ev.Type {
			case "tool_use":
				acc.event(Event{Role: RoleTool, ToolName: ev.Name, Timestamp: ts})
			case "token_count":
				// Cumulative totals; the last event wins.
				if ev.Info != nil && ev.Info.TotalTokenUsage != nil {
					u := ev.Info.TotalTokenUsage
					acc.s.Tokens.Input = u.InputTokens - u.CachedInputTokens
					if acc.s.Tokens.Input < 0 {
						acc.s.Tokens.Input = u.InputTokens
					}
					acc.s.Tokens.CacheRead = u.CachedInputTokens
					acc.s.Tokens.Output = u.OutputTokens
				}
				acc.timestamp(ts)
			default:
				acc.timestamp(ts)
			}

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
