package realtime

import (
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/teslashibe/go-live/pkg/transcript"
)

// handleMessage routes one server message. Within a message, audio is
// buffered before it is scheduled, and turn finalization runs after every
// part has been handled so a trailing chunk lands in the turn's recording.
func (e *Engine) handleMessage(gen uint64, msg *genai.LiveServerMessage) {
	if msg == nil {
		return
	}

	if u := msg.SessionResumptionUpdate; u != nil {
		e.metrics.Inbound.WithLabelValues("resumption").Inc()
		if u.Resumable && u.NewHandle != "" {
			e.token = u.NewHandle
			e.logger.Debug("resumption handle updated")
		}
	}

	if msg.ToolCall != nil {
		e.metrics.Inbound.WithLabelValues("tool_call").Inc()
		e.dispatcher.Dispatch(e.toolContext(), msg.ToolCall.FunctionCalls, func(resp *genai.FunctionResponse) {
			e.post(toolResponseEvent{gen: gen, resp: resp})
		})
	}

	if c := msg.ToolCallCancellation; c != nil {
		e.metrics.Inbound.WithLabelValues("tool_cancel").Inc()
		e.logger.Info("tool calls cancelled by server", "ids", c.IDs)
		e.dispatcher.Cancel(c.IDs)
	}

	if msg.GoAway != nil {
		e.metrics.Inbound.WithLabelValues("go_away").Inc()
		e.logger.Warn("server is closing the connection soon")
		e.publish(func(s *Snapshot) { s.Status = "Server ending session, will reconnect…" })
	}

	if u := msg.UsageMetadata; u != nil {
		e.metrics.Inbound.WithLabelValues("usage").Inc()
		e.metrics.Tokens.WithLabelValues("prompt").Add(float64(u.PromptTokenCount))
		e.metrics.Tokens.WithLabelValues("response").Add(float64(u.ResponseTokenCount))
	}

	sc := msg.ServerContent
	if sc == nil {
		return
	}
	e.metrics.Inbound.WithLabelValues("content").Inc()

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			e.handlePart(p)
		}
	}
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		e.emit(transcript.Entry{Text: t.Text, Role: transcript.RoleUser, Kind: transcript.KindContent})
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		e.emit(transcript.Entry{Text: t.Text, Role: transcript.RoleModel, Kind: transcript.KindContent})
	}

	if sc.Interrupted {
		e.logger.Debug("model interrupted")
		e.scheduler.Stop()
		e.closeTurns()
	}
	if sc.TurnComplete {
		e.closeTurns()
	}
}

func (e *Engine) handlePart(p *genai.Part) {
	if p == nil {
		return
	}
	switch {
	case p.InlineData != nil && strings.HasPrefix(p.InlineData.MIMEType, "audio/"):
		e.recorder.Append(p.InlineData.Data)
		if _, err := e.scheduler.PlayChunk(p.InlineData.Data); err != nil {
			e.logger.Debug("play chunk", "error", err)
		}
	case p.ExecutableCode != nil:
		e.emit(transcript.Entry{Text: formatCode(p.ExecutableCode), Role: transcript.RoleModel, Kind: transcript.KindContent})
	case p.CodeExecutionResult != nil:
		e.emit(transcript.Entry{Text: formatResult(p.CodeExecutionResult), Role: transcript.RoleModel, Kind: transcript.KindContent})
	case p.Text != "" && p.Thought:
		e.emit(transcript.Entry{Text: p.Text, Role: transcript.RoleModel, Kind: transcript.KindThought})
	case p.Text != "":
		e.emit(transcript.Entry{Text: p.Text, Role: transcript.RoleModel, Kind: transcript.KindContent})
	}
}

// closeTurns finalizes the turn recording and closes both open turns.
func (e *Engine) closeTurns() {
	url := e.storeRecording()
	e.emit(transcript.Entry{Role: transcript.RoleUser, Final: true, Kind: transcript.KindContent})
	e.emit(transcript.Entry{Role: transcript.RoleModel, Final: true, Kind: transcript.KindContent, AudioURL: url})
}

func (e *Engine) storeRecording() string {
	art := e.recorder.Finalize()
	if art == nil || e.opts.Artifacts == nil {
		return ""
	}
	url, err := e.opts.Artifacts.Put(art)
	if err != nil {
		e.logger.Warn("store turn recording", "error", err)
		return ""
	}
	e.logger.Debug("turn recording stored", "url", url, "duration", art.Duration)
	return url
}

func (e *Engine) emit(entry transcript.Entry) {
	if e.opts.Transcript != nil {
		e.opts.Transcript.OnTranscript(entry)
	}
}

func formatCode(c *genai.ExecutableCode) string {
	lang := strings.ToLower(string(c.Language))
	if lang == "language_unspecified" {
		lang = ""
	}
	return fmt.Sprintf("\n```%s\n%s\n```\n", lang, strings.TrimRight(c.Code, "\n"))
}

func formatResult(r *genai.CodeExecutionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n> **Result (%s):**\n", r.Outcome)
	for _, line := range strings.Split(strings.TrimRight(r.Output, "\n"), "\n") {
		b.WriteString("> ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
