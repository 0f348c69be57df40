package tools

import (
	"context"
	"time"

	"google.golang.org/genai"
)

// CurrentTime returns a tool reporting the local time. now may be nil.
func CurrentTime(now func() time.Time) Tool {
	if now == nil {
		now = time.Now
	}
	return Tool{
		Declaration: &genai.FunctionDeclaration{
			Name:        "get_current_time",
			Description: "Get the current local date and time.",
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: map[string]*genai.Schema{},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			t := now()
			zone, _ := t.Zone()
			return map[string]any{
				"time":     t.Format(time.RFC3339),
				"weekday":  t.Weekday().String(),
				"timezone": zone,
			}, nil
		},
	}
}

// Defaults returns the built-in tools.
func Defaults() []Tool {
	return []Tool{CurrentTime(nil)}
}
