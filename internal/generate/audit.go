package generate

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/rcliao/story-engine/internal/model"
)

// Call runs one generation and returns the output with its audit artifact.
// No artifact is produced on failure.
func Call(ctx context.Context, g Generator, req Request) (string, *model.Artifact, error) {
	out, err := g.Generate(ctx, req)
	if err != nil {
		return "", nil, err
	}
	raw, hash := EncodeInput(req.Input)
	return out, &model.Artifact{
		SessionID:   req.SessionID,
		Purpose:     req.Purpose,
		Provider:    g.Name(),
		Model:       req.Model,
		InputHash:   hash,
		InputChars:  utf8.RuneCountInString(raw),
		OutputChars: utf8.RuneCountInString(out),
		RawInput:    raw,
		RawOutput:   out,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
