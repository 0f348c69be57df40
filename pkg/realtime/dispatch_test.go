package realtime

import (
	"testing"

	"google.golang.org/genai"

	"github.com/teslashibe/go-live/pkg/transcript"
)

func TestFormatCode(t *testing.T) {
	tests := []struct {
		name string
		code *genai.ExecutableCode
		want string
	}{
		{
			name: "python",
			code: &genai.ExecutableCode{Code: "print(1)\n", Language: genai.LanguagePython},
			want: "\n```python\nprint(1)\n```\n",
		},
		{
			name: "unspecified",
			code: &genai.ExecutableCode{Code: "x", Language: genai.LanguageUnspecified},
			want: "\n```\nx\n```\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatCode(tt.code); got != tt.want {
				t.Errorf("formatCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatResult(t *testing.T) {
	r := &genai.CodeExecutionResult{Outcome: genai.OutcomeOK, Output: "1\n2\n"}
	want := "\n> **Result (OUTCOME_OK):**\n> 1\n> 2\n"
	if got := formatResult(r); got != want {
		t.Errorf("formatResult() = %q, want %q", got, want)
	}
}

func TestHandleMessage_Parts(t *testing.T) {
	h := newHarness(t)
	mh := h.open()

	mh.SimulateMessage(contentMessage(&genai.LiveServerContent{
		ModelTurn: &genai.Content{Parts: []*genai.Part{
			{Text: "considering", Thought: true},
			{Text: "Hello"},
			{ExecutableCode: &genai.ExecutableCode{Code: "1+1", Language: genai.LanguagePython}},
			{CodeExecutionResult: &genai.CodeExecutionResult{Outcome: genai.OutcomeOK, Output: "2"}},
		}},
		InputTranscription:  &genai.Transcription{Text: "hi there"},
		OutputTranscription: &genai.Transcription{Text: "Hello"},
	}))
	h.eng.sync()

	entries := h.sink.all()
	if len(entries) != 6 {
		t.Fatalf("entries = %d, want 6: %+v", len(entries), entries)
	}
	want := []struct {
		role transcript.Role
		kind transcript.Kind
	}{
		{transcript.RoleModel, transcript.KindThought},
		{transcript.RoleModel, transcript.KindContent},
		{transcript.RoleModel, transcript.KindContent},
		{transcript.RoleModel, transcript.KindContent},
		{transcript.RoleUser, transcript.KindContent},
		{transcript.RoleModel, transcript.KindContent},
	}
	for i, w := range want {
		if entries[i].Role != w.role || entries[i].Kind != w.kind || entries[i].Final {
			t.Errorf("entry %d = %+v, want %s/%s", i, entries[i], w.role, w.kind)
		}
	}
	if entries[2].Text != "\n```python\n1+1\n```\n" {
		t.Errorf("code entry = %q", entries[2].Text)
	}
}

func TestHandleMessage_GoAwayKeepsSession(t *testing.T) {
	h := newHarness(t)
	mh := h.open()

	mh.SimulateMessage(&genai.LiveServerMessage{GoAway: &genai.LiveServerGoAway{}})
	h.eng.sync()

	snap := h.eng.Snapshot()
	if !snap.Connected || snap.Status != "Server ending session, will reconnect…" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestHandleMessage_ToolCancellation(t *testing.T) {
	h := newHarness(t)
	mh := h.open()

	mh.SimulateMessage(&genai.LiveServerMessage{
		ToolCallCancellation: &genai.LiveServerToolCallCancellation{IDs: []string{"missing"}},
	})
	h.eng.sync()

	if n := len(mh.SentKind("tool_response")); n != 0 {
		t.Errorf("tool responses = %d, want 0", n)
	}
}

func TestHandleMessage_EmptyTurnHasNoRecording(t *testing.T) {
	h := newHarness(t)
	mh := h.open()

	mh.SimulateMessage(contentMessage(&genai.LiveServerContent{TurnComplete: true}))
	h.eng.sync()

	finals := h.sink.finals(transcript.RoleModel)
	if len(finals) != 1 || finals[0].AudioURL != "" {
		t.Errorf("model finals = %+v", finals)
	}
	if h.store.Len() != 0 {
		t.Error("no artifact should be stored for a silent turn")
	}
}
