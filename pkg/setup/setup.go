// Package setup builds the first frame of a live session from user settings
// and the resumption handle of a previous connection.
package setup

import (
	"encoding/json"
	"strings"

	"google.golang.org/genai"
)

// DefaultModel is the live model used when Settings.Model is empty.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

// DefaultVoice is the prebuilt voice used when Settings.Voice is empty.
const DefaultVoice = "Zephyr"

// Settings are the user-facing knobs of a session.
type Settings struct {
	Model        string `yaml:"model" json:"model"`
	Voice        string `yaml:"voice" json:"voice"`
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`

	// TextOnly requests text responses instead of audio.
	TextOnly bool `yaml:"text_only" json:"text_only"`

	// Thinking controls. A nil budget leaves the model default.
	IncludeThoughts bool   `yaml:"include_thoughts" json:"include_thoughts"`
	ThinkingBudget  *int32 `yaml:"thinking_budget" json:"thinking_budget"`

	// Compression enables sliding-window context compression for long sessions.
	Compression bool `yaml:"compression" json:"compression"`

	// Transcribe enables input and output audio transcription.
	Transcribe bool `yaml:"transcribe" json:"transcribe"`

	GoogleSearch  bool `yaml:"google_search" json:"google_search"`
	CodeExecution bool `yaml:"code_execution" json:"code_execution"`
}

// DefaultSettings returns the settings used by the CLI out of the box.
func DefaultSettings() Settings {
	return Settings{
		Model:       DefaultModel,
		Voice:       DefaultVoice,
		Compression: true,
		Transcribe:  true,
	}
}

// GenerationConfig is the generation section of the setup frame.
type GenerationConfig struct {
	ResponseModalities []genai.Modality      `json:"responseModalities,omitempty"`
	SpeechConfig       *genai.SpeechConfig   `json:"speechConfig,omitempty"`
	ThinkingConfig     *genai.ThinkingConfig `json:"thinkingConfig,omitempty"`
}

// Config is the session setup for one connection.
type Config struct {
	Model                    string                                `json:"model"`
	GenerationConfig         *GenerationConfig                     `json:"generationConfig,omitempty"`
	SystemInstruction        *genai.Content                        `json:"systemInstruction,omitempty"`
	Tools                    []*genai.Tool                         `json:"tools,omitempty"`
	SessionResumption        *genai.SessionResumptionConfig        `json:"sessionResumption,omitempty"`
	ContextWindowCompression *genai.ContextWindowCompressionConfig `json:"contextWindowCompression,omitempty"`
	InputAudioTranscription  *genai.AudioTranscriptionConfig       `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *genai.AudioTranscriptionConfig       `json:"outputAudioTranscription,omitempty"`
}

// Build assembles a Config. It is pure: the same inputs give the same output.
//
// The resumption section is always present so the server issues handles;
// a non-empty handle resumes that session.
func Build(s Settings, decls []*genai.FunctionDeclaration, handle string) Config {
	model := s.Model
	if model == "" {
		model = DefaultModel
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	cfg := Config{
		Model:             model,
		GenerationConfig:  &GenerationConfig{},
		SessionResumption: &genai.SessionResumptionConfig{Handle: handle},
	}

	if s.TextOnly {
		cfg.GenerationConfig.ResponseModalities = []genai.Modality{genai.ModalityText}
	} else {
		voice := s.Voice
		if voice == "" {
			voice = DefaultVoice
		}
		cfg.GenerationConfig.ResponseModalities = []genai.Modality{genai.ModalityAudio}
		cfg.GenerationConfig.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}

	if s.IncludeThoughts || s.ThinkingBudget != nil {
		tc := &genai.ThinkingConfig{IncludeThoughts: s.IncludeThoughts}
		if s.ThinkingBudget != nil {
			tc.ThinkingBudget = genai.Ptr(*s.ThinkingBudget)
		}
		cfg.GenerationConfig.ThinkingConfig = tc
	}

	if s.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: s.SystemPrompt}},
		}
	}

	if len(decls) > 0 {
		cfg.Tools = append(cfg.Tools, &genai.Tool{FunctionDeclarations: decls})
	}
	if s.GoogleSearch {
		cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	if s.CodeExecution {
		cfg.Tools = append(cfg.Tools, &genai.Tool{CodeExecution: &genai.ToolCodeExecution{}})
	}

	if s.Compression {
		cfg.ContextWindowCompression = &genai.ContextWindowCompressionConfig{
			SlidingWindow: &genai.SlidingWindow{},
		}
	}
	if s.Transcribe {
		cfg.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
		cfg.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}

	return cfg
}

// Handle returns the resumption handle embedded in c.
func (c Config) Handle() string {
	if c.SessionResumption == nil {
		return ""
	}
	return c.SessionResumption.Handle
}

// SetupMessage renders the {"setup": ...} frame sent first on a connection.
func (c Config) SetupMessage() ([]byte, error) {
	return json.Marshal(struct {
		Setup Config `json:"setup"`
	}{c})
}
