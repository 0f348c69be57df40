package playback

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-live/pkg/audioio"
)

// Artifact is the assembled audio of one model turn.
type Artifact struct {
	ID         string
	WAV        []byte
	Duration   time.Duration
	SampleRate int
	CreatedAt  time.Time
}

// Recorder buffers every chunk played during a turn.
type Recorder struct {
	rate int

	mu     sync.Mutex
	chunks [][]byte
	size   int
}

// NewRecorder creates a recorder for PCM16 mono at sampleRate.
func NewRecorder(sampleRate int) *Recorder {
	return &Recorder{rate: sampleRate}
}

// Append copies pcm into the turn buffer. A trailing odd byte is dropped,
// as the scheduler does, so later chunks stay sample aligned.
func (r *Recorder) Append(pcm []byte) {
	pcm = pcm[:len(pcm)&^1]
	if len(pcm) == 0 {
		return
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)

	r.mu.Lock()
	r.chunks = append(r.chunks, buf)
	r.size += len(buf)
	r.mu.Unlock()
}

// Duration returns the length of the buffered audio.
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return audioio.SamplesDuration(r.size/2, r.rate)
}

// Finalize assembles the buffered chunks into a WAV artifact and clears the
// buffer. It returns nil when nothing was buffered.
func (r *Recorder) Finalize() *Artifact {
	r.mu.Lock()
	chunks, size := r.chunks, r.size
	r.chunks, r.size = nil, 0
	r.mu.Unlock()

	if size == 0 {
		return nil
	}

	pcm := make([]byte, 0, size)
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}
	return &Artifact{
		ID:         uuid.NewString(),
		WAV:        EncodeWAV(pcm, r.rate),
		Duration:   audioio.SamplesDuration(len(pcm)/2, r.rate),
		SampleRate: r.rate,
		CreatedAt:  time.Now(),
	}
}

// Reset drops the buffered chunks without producing an artifact.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.chunks, r.size = nil, 0
	r.mu.Unlock()
}

// EncodeWAV wraps mono PCM16 data in a RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
		headerSize    = 44
	)
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	wav := make([]byte, headerSize+len(pcm))
	copy(wav[0:4], "RIFF")
	putLE32(wav[4:8], uint32(36+len(pcm)))
	copy(wav[8:12], "WAVE")

	copy(wav[12:16], "fmt ")
	putLE32(wav[16:20], 16)
	putLE16(wav[20:22], 1) // PCM
	putLE16(wav[22:24], channels)
	putLE32(wav[24:28], uint32(sampleRate))
	putLE32(wav[28:32], uint32(byteRate))
	putLE16(wav[32:34], uint16(blockAlign))
	putLE16(wav[34:36], bitsPerSample)

	copy(wav[36:40], "data")
	putLE32(wav[40:44], uint32(len(pcm)))
	copy(wav[headerSize:], pcm)
	return wav
}

func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
