package source

import (
	"strings"
	"testing"
)

func TestCodexParse_Session(t *testing.T) {
	content := `{"timestamp":"2026-02-26T10:00:00Z","type":"session_meta","payload":{"id":"rollout-1","cwd":"/home/ari/work/proj","originator":"codex_cli"}}
{"timestamp":"2026-02-26T10:00:01Z","type":"turn_context","payload":{"model":"gpt-5-codex"}}
{"timestamp":"2026-02-26T10:00:02Z","type":"response_item","payload":{"type":"message","role":"user","content":[{"type":"input_text","text":"fix the bug"}]}}
{"timestamp":"2026-02-26T10:00:05Z","type":"response_item","payload":{"type":"reasoning"}}
{"timestamp":"2026-02-26T10:00:10Z","type":"response_item","payload":{"type":"function_call"}}
{"timestamp":"2026-02-26T10:00:15Z","type":"response_item","payload":{"type":"message","role":"assistant","content":[{"type":"output_text","text":"done"}]}}`

	p, err := ParserFor(KindCodex)
	if err != nil {
		t.Fatal(err)
	}
	session, err := p.Parse(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if session.SessionID != "rollout-1" {
		t.Errorf("Expected session ID rollout-1, got %s", session.SessionID)
	}
	if session.CWD != "/home/ari/work/proj" {
		t.Errorf("Expected cwd from session_meta, got %s", session.CWD)
	}
	if session.Model != "gpt-5-codex" {
		t.Errorf("turn_context model should override originator, got %s", session.Model)
	}

	if len(session.Events) != 4 {
		t.Fatalf("Expected 4 events, got %d", len(session.Events))
	}
	if session.Events[0].Role != RoleUser || session.Events[0].Text != "fix the bug" {
		t.Errorf("First event incorrect: %+v", session.Events[0])
	}
	if session.Events[1].Role != RoleReasoning || !session.Events[1].Thinking {
		t.Errorf("Second event should be reasoning: %+v", session.Events[1])
	}
	if session.Events[2].Role != RoleTool {
		t.Errorf("Third event should be a tool call: %+v", session.Events[2])
	}
	if session.Events[3].Role != RoleAssistant || session.Events[3].Text != "done" {
		t.Errorf("Fourth event incorrect: %+v", session.Events[3])
	}
	if session.Title != "fix the bug" {
		t.Errorf("Expected title from first user message, got %q", session.Title)
	}
}

func TestCodexParse_TokenCountLastWins(t *testing.T) {
	content := `{"timestamp":"2026-02-26T10:00:00Z","type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"input_tokens":100,"cached_input_tokens":20,"output_tokens":50}}}}
{"timestamp":"2026-02-26T10:00:10Z","type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"input_tokens":300,"cached_input_tokens":120,"output_tokens":90}}}}`

	p, _ := ParserFor(KindCodex)
	session, err := p.Parse(strings.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}

	// Totals are cumulative; only the last event counts. Cached input is
	// carved out of the input figure.
	if session.Tokens.Input != 180 {
		t.Errorf("Expected input tokens 180, got %d", session.Tokens.Input)
	}
	if session.Tokens.CacheRead != 120 {
		t.Errorf("Expected cache read tokens 120, got %d", session.Tokens.CacheRead)
	}
	if session.Tokens.Output != 90 {
		t.Errorf("Expected output tokens 90, got %d", session.Tokens.Output)
	}
	if session.Tokens.Total != 390 {
		t.Errorf("Expected total tokens 390, got %d", session.Tokens.Total)
	}
}

func TestCodexParse_UnknownTypesAdvanceClock(t *testing.T) {
	content := `{"timestamp":"2026-02-26T10:00:00Z","type":"session_meta","payload":{"id":"r","cwd":"/p"}}
{"timestamp":"2026-02-26T10:01:00Z","type":"compacted","payload":{}}
{"timestamp":"2026-02-26T10:02:00Z","type":"event_msg","payload":{"type":"agent_message_delta"}}`

	p, _ := ParserFor(KindCodex)
	session, err := p.Parse(strings.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	if len(session.Events) != 0 {
		t.Errorf("Expected no events, got %d", len(session.Events))
	}
	if got := session.ActiveDuration.Seconds(); got != 120 {
		t.Errorf("Expected 120s active duration, got %vs", got)
	}
}
