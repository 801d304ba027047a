// Package vibe turns captured frames into weighted music prompts.
//
// A Classifier looks at a single frame (a camera still, a screenshot, album
// art) and describes its mood as a small set of weighted text prompts ready
// to steer the music stream. The Loop drives a Classifier periodically and
// feeds the results into the stream controller.
package vibe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/vibecast/pkg/musicgen"
)

// Classifier derives a prompt set from a single captured frame.
type Classifier interface {
	// Classify returns 1-4 weighted prompts describing the frame's mood.
	// The frame is an encoded image (JPEG or PNG).
	Classify(ctx context.Context, frame []byte) ([]musicgen.WeightedPrompt, error)
}

// parsePrompts extracts a weighted prompt set from a model response. The
// model is asked for a bare JSON array but may wrap it in a code fence or
// surrounding prose; everything outside the outermost brackets is ignored.
func parsePrompts(content string) ([]musicgen.WeightedPrompt, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("vibe: no JSON array in response %q", truncate(content, 120))
	}

	var raw []struct {
		Text   string  `json:"text"`
		Weight float64 `json:"weight"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("vibe: decode prompts: %w", err)
	}

	prompts := make([]musicgen.WeightedPrompt, 0, len(raw))
	for _, p := range raw {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		weight := p.Weight
		if weight <= 0 || weight > 1 {
			weight = 1
		}
		prompts = append(prompts, musicgen.WeightedPrompt{Text: text, Weight: weight})
	}
	if len(prompts) == 0 {
		return nil, fmt.Errorf("vibe: response contained no usable prompts")
	}
	return prompts, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
