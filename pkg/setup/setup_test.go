package setup

import (
	"encoding/json"
	"reflect"
	"testing"

	"google.golang.org/genai"
)

func TestBuild_Defaults(t *testing.T) {
	cfg := Build(Settings{}, nil, "")

	if cfg.Model != "models/"+DefaultModel {
		t.Errorf("Model = %q", cfg.Model)
	}
	if got := cfg.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != genai.ModalityAudio {
		t.Errorf("ResponseModalities = %v", got)
	}
	voice := cfg.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName
	if voice != DefaultVoice {
		t.Errorf("voice = %q", voice)
	}
	if cfg.SessionResumption == nil {
		t.Fatal("resumption config must always be present")
	}
	if cfg.Handle() != "" {
		t.Errorf("Handle() = %q, want empty", cfg.Handle())
	}
	if cfg.SystemInstruction != nil || cfg.Tools != nil || cfg.ContextWindowCompression != nil {
		t.Error("optional sections should be omitted")
	}
}

func TestBuild_ResumptionHandle(t *testing.T) {
	cfg := Build(DefaultSettings(), nil, "tok-123")
	if cfg.Handle() != "tok-123" {
		t.Errorf("Handle() = %q", cfg.Handle())
	}
}

func TestBuild_IsPure(t *testing.T) {
	s := DefaultSettings()
	s.SystemPrompt = "be brief"
	s.ThinkingBudget = genai.Ptr[int32](128)
	decls := []*genai.FunctionDeclaration{{Name: "get_current_time"}}

	a := Build(s, decls, "h")
	b := Build(s, decls, "h")
	if !reflect.DeepEqual(a, b) {
		t.Error("Build should be deterministic")
	}
}

func TestBuild_AllSections(t *testing.T) {
	s := Settings{
		Model:           "models/custom",
		Voice:           "Puck",
		SystemPrompt:    "You are helpful.",
		IncludeThoughts: true,
		ThinkingBudget:  genai.Ptr[int32](512),
		Compression:     true,
		Transcribe:      true,
		GoogleSearch:    true,
		CodeExecution:   true,
	}
	decls := []*genai.FunctionDeclaration{{Name: "lookup"}}
	cfg := Build(s, decls, "")

	if cfg.Model != "models/custom" {
		t.Errorf("Model = %q, prefix must not be doubled", cfg.Model)
	}
	if cfg.SystemInstruction.Parts[0].Text != "You are helpful." {
		t.Error("system instruction missing")
	}
	if len(cfg.Tools) != 3 {
		t.Fatalf("len(Tools) = %d, want 3", len(cfg.Tools))
	}
	if cfg.Tools[0].FunctionDeclarations[0].Name != "lookup" {
		t.Error("function declarations should come first")
	}
	tc := cfg.GenerationConfig.ThinkingConfig
	if tc == nil || !tc.IncludeThoughts || *tc.ThinkingBudget != 512 {
		t.Errorf("ThinkingConfig = %+v", tc)
	}
	if cfg.ContextWindowCompression.SlidingWindow == nil {
		t.Error("sliding window missing")
	}
	if cfg.InputAudioTranscription == nil || cfg.OutputAudioTranscription == nil {
		t.Error("transcription config missing")
	}
}

func TestBuild_TextOnly(t *testing.T) {
	cfg := Build(Settings{TextOnly: true}, nil, "")
	if cfg.GenerationConfig.SpeechConfig != nil {
		t.Error("text sessions have no speech config")
	}
	if cfg.GenerationConfig.ResponseModalities[0] != genai.ModalityText {
		t.Errorf("modality = %v", cfg.GenerationConfig.ResponseModalities)
	}
}

func TestConfig_SetupMessage(t *testing.T) {
	cfg := Build(DefaultSettings(), nil, "abc")
	data, err := cfg.SetupMessage()
	if err != nil {
		t.Fatal(err)
	}

	var frame map[string]map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatal(err)
	}
	setup, ok := frame["setup"]
	if !ok {
		t.Fatalf("no setup key in %s", data)
	}
	if setup["model"] != "models/"+DefaultModel {
		t.Errorf("model = %v", setup["model"])
	}
	res, ok := setup["sessionResumption"].(map[string]any)
	if !ok || res["handle"] != "abc" {
		t.Errorf("sessionResumption = %v", setup["sessionResumption"])
	}
	if _, ok := setup["generationConfig"]; !ok {
		t.Error("generationConfig missing")
	}
}
