//go:build !gocv

package video

import (
	"context"
	"errors"
	"log/slog"
)

// GoCVAvailable reports whether the OpenCV camera backend was compiled in.
const GoCVAvailable = false

// NewGoCVOpener returns an opener that always fails in builds without OpenCV.
func NewGoCVOpener(device int, logger *slog.Logger) OpenFunc {
	return func(ctx context.Context) (Source, error) {
		return nil, errors.New("video: built without gocv tag")
	}
}
