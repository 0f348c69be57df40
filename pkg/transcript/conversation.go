package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Turn is one continuous span of content from a single speaker.
type Turn struct {
	// ID is stable for the life of the turn so UIs can update in place.
	ID string `json:"id"`

	// Role is the speaker.
	Role Role `json:"role"`

	// Text is the accumulated content.
	Text string `json:"text"`

	// Thoughts is accumulated model reasoning, kept apart from Text.
	Thoughts string `json:"thoughts,omitempty"`

	// AudioURL is a recording of the turn, model turns only.
	AudioURL string `json:"audio_url,omitempty"`

	// Final is set once the turn has been closed.
	Final bool `json:"final"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Conversation folds entries into turns. At most one turn per role is open at
// a time; a final entry closes it.
type Conversation struct {
	mu    sync.Mutex
	turns []*Turn
	open  map[Role]*Turn
	limit int

	onUpdate func(Turn)
	now      func() time.Time
}

// ConversationOption configures a Conversation.
type ConversationOption func(*Conversation)

// WithLimit keeps at most n turns, dropping the oldest closed ones.
func WithLimit(n int) ConversationOption {
	return func(c *Conversation) { c.limit = n }
}

// WithOnUpdate registers a callback fired with a copy of every changed turn.
func WithOnUpdate(fn func(Turn)) ConversationOption {
	return func(c *Conversation) { c.onUpdate = fn }
}

// NewConversation creates an empty conversation.
func NewConversation(opts ...ConversationOption) *Conversation {
	c := &Conversation{
		open: make(map[Role]*Turn),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnTranscript applies e to the open turn for its role.
func (c *Conversation) OnTranscript(e Entry) {
	c.mu.Lock()
	turn := c.open[e.Role]

	// A bare close with nothing open only matters if it carries audio for
	// the last model turn.
	if turn == nil && e.Text == "" {
		if e.Final && e.AudioURL != "" {
			turn = c.lastClosed(e.Role)
		}
		if turn == nil || turn.AudioURL != "" {
			c.mu.Unlock()
			return
		}
	}

	now := c.now()
	if turn == nil {
		turn = &Turn{
			ID:        uuid.NewString(),
			Role:      e.Role,
			StartedAt: now,
		}
		c.turns = append(c.turns, turn)
		c.open[e.Role] = turn
		c.trim()
	}

	switch e.Kind {
	case KindThought:
		turn.Thoughts += e.Text
	default:
		turn.Text += e.Text
	}
	if e.AudioURL != "" {
		turn.AudioURL = e.AudioURL
	}
	turn.UpdatedAt = now
	if e.Final {
		turn.Final = true
		turn.Text = strings.TrimSpace(turn.Text)
		delete(c.open, e.Role)
	}

	snapshot := *turn
	fn := c.onUpdate
	c.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

func (c *Conversation) lastClosed(role Role) *Turn {
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].Role == role && c.turns[i].Final {
			return c.turns[i]
		}
	}
	return nil
}

func (c *Conversation) trim() {
	if c.limit <= 0 || len(c.turns) <= c.limit {
		return
	}
	kept := c.turns[:0]
	excess := len(c.turns) - c.limit
	for _, t := range c.turns {
		if excess > 0 && t.Final {
			excess--
			continue
		}
		kept = append(kept, t)
	}
	c.turns = kept
}

// Turns returns copies of every retained turn, oldest first.
func (c *Conversation) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	for i, t := range c.turns {
		out[i] = *t
	}
	return out
}

// Open reports whether role has an unfinished turn.
func (c *Conversation) Open(role Role) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open[role] != nil
}

// Reset drops all turns.
func (c *Conversation) Reset() {
	c.mu.Lock()
	c.turns = nil
	c.open = make(map[Role]*Turn)
	c.mu.Unlock()
}

var _ Sink = (*Conversation)(nil)
