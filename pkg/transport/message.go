package transport

import "google.golang.org/genai"

// RealtimeInput streams media to the model.
type RealtimeInput struct {
	Audio *genai.Blob `json:"audio,omitempty"`
	Video *genai.Blob `json:"video,omitempty"`
	Text  string      `json:"text,omitempty"`
}

// ClientContent appends turns to the conversation.
type ClientContent struct {
	Turns        []*genai.Content `json:"turns,omitempty"`
	TurnComplete bool             `json:"turnComplete"`
}

// ToolResponse answers tool calls.
type ToolResponse struct {
	FunctionResponses []*genai.FunctionResponse `json:"functionResponses"`
}

// Message is one client frame. Exactly one field is set.
type Message struct {
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
	ClientContent *ClientContent `json:"clientContent,omitempty"`
	ToolResponse  *ToolResponse  `json:"toolResponse,omitempty"`
}

// Kind names the set field, for logs and metrics.
func (m Message) Kind() string {
	switch {
	case m.RealtimeInput != nil && m.RealtimeInput.Audio != nil:
		return "audio"
	case m.RealtimeInput != nil && m.RealtimeInput.Video != nil:
		return "video"
	case m.RealtimeInput != nil:
		return "realtime_text"
	case m.ClientContent != nil:
		return "text"
	case m.ToolResponse != nil:
		return "tool_response"
	default:
		return "empty"
	}
}

// AudioMessage wraps PCM16 audio.
func AudioMessage(pcm []byte, mimeType string) Message {
	return Message{RealtimeInput: &RealtimeInput{
		Audio: &genai.Blob{MIMEType: mimeType, Data: pcm},
	}}
}

// VideoMessage wraps one JPEG still.
func VideoMessage(jpeg []byte) Message {
	return Message{RealtimeInput: &RealtimeInput{
		Video: &genai.Blob{MIMEType: "image/jpeg", Data: jpeg},
	}}
}

// TextMessage sends a complete user turn.
func TextMessage(text string) Message {
	return Message{ClientContent: &ClientContent{
		Turns:        []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		TurnComplete: true,
	}}
}

// ToolResponseMessage answers one or more tool calls.
func ToolResponseMessage(resps ...*genai.FunctionResponse) Message {
	return Message{ToolResponse: &ToolResponse{FunctionResponses: resps}}
}
