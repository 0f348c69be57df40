package playback

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRecorder_DurationIsSumOfChunks(t *testing.T) {
	r := NewRecorder(24000)

	// 100ms, 250ms, 50ms
	for _, samples := range []int{2400, 6000, 1200} {
		r.Append(pcmOf(samples))
	}

	a := r.Finalize()
	if a == nil {
		t.Fatal("Finalize() returned nil")
	}
	if a.Duration != 400*time.Millisecond {
		t.Errorf("Duration = %v, want 400ms", a.Duration)
	}
	if len(a.WAV) != 44+9600*2 {
		t.Errorf("WAV size = %d, want %d", len(a.WAV), 44+9600*2)
	}
	if a.ID == "" {
		t.Error("artifact has no id")
	}

	if r.Finalize() != nil {
		t.Error("second Finalize should return nil")
	}
}

func TestRecorder_AppendCopies(t *testing.T) {
	r := NewRecorder(24000)
	pcm := []byte{1, 2, 3, 4}
	r.Append(pcm)
	pcm[0] = 9

	a := r.Finalize()
	if a.WAV[44] != 1 {
		t.Error("Append must copy the chunk")
	}
}

func TestRecorder_OddChunkKeepsAlignment(t *testing.T) {
	r := NewRecorder(24000)
	r.Append([]byte{1, 2, 3})
	r.Append([]byte{4, 5})
	r.Append([]byte{6})

	a := r.Finalize()
	if a == nil {
		t.Fatal("Finalize() returned nil")
	}
	if got := a.WAV[44:]; !bytes.Equal(got, []byte{1, 2, 4, 5}) {
		t.Errorf("PCM = %v, want [1 2 4 5]", got)
	}
	if want := 2 * time.Second / 24000; a.Duration != want {
		t.Errorf("Duration = %v, want %v", a.Duration, want)
	}
}

func TestRecorder_Reset(t *testing.T) {
	r := NewRecorder(24000)
	r.Append(pcmOf(100))
	r.Reset()
	if r.Duration() != 0 {
		t.Errorf("Duration() = %v after Reset", r.Duration())
	}
	if r.Finalize() != nil {
		t.Error("Finalize after Reset should return nil")
	}
}

func TestEncodeWAV_Header(t *testing.T) {
	wav := EncodeWAV(make([]byte, 8), 24000)

	if !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Fatal("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != 44 {
		t.Errorf("riff size = %d, want 44", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 24000 {
		t.Errorf("sample rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 48000 {
		t.Errorf("byte rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 8 {
		t.Errorf("data size = %d", got)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore("/artifacts/", 2)

	var urls []string
	for i := 0; i < 3; i++ {
		a := &Artifact{ID: string(rune('a' + i))}
		url, err := s.Put(a)
		if err != nil {
			t.Fatal(err)
		}
		urls = append(urls, url)
	}
	if urls[0] != "/artifacts/a" {
		t.Errorf("url = %q", urls[0])
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if _, err := s.Get("a"); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("oldest artifact should be evicted, got %v", err)
	}
	if _, err := s.Get("c"); err != nil {
		t.Errorf("Get(c) = %v", err)
	}
}

func TestDirStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDirStore(filepath.Join(dir, "turns"))
	if err != nil {
		t.Fatal(err)
	}

	a := &Artifact{ID: "turn1", WAV: EncodeWAV(pcmOf(10), 24000)}
	url, err := s.Put(a)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(url, "file://") || !strings.HasSuffix(url, "turn1.wav") {
		t.Errorf("url = %q", url)
	}
	if err := s.Wait(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "turns", "turn1.wav"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, a.WAV) {
		t.Error("file contents differ from artifact")
	}
}

func TestDirStore_WriteFailureReportedByWait(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "turns")
	s, err := NewDirStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Put(&Artifact{ID: "lost", WAV: []byte("RIFF")}); err != nil {
		t.Fatalf("Put should not wait on the disk, got %v", err)
	}
	if err := s.Wait(); err == nil {
		t.Error("Wait() should report the failed write")
	}
	if err := s.Wait(); err != nil {
		t.Errorf("second Wait() = %v, want nil", err)
	}
}
