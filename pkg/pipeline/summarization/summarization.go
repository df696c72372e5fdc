// Package summarization implements the summarization pipeline (spec §4.7):
// consumes a stored transcript and the owner's selected LLM configuration
// to produce a JSON summary.
package summarization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opentranscribe/mpo/pkg/llm"
	"github.com/opentranscribe/mpo/pkg/pipeline"
	"github.com/opentranscribe/mpo/pkg/store/models"
)

// TranscriptSegment is the minimal shape the pipeline needs from a stored
// transcript; callers build it from stored segments and each segment's
// speaker label.
type TranscriptSegment struct {
	SpeakerLabel string
	Text         string
}

// Summary is the pipeline's JSON-serializable output.
type Summary struct {
	Overview string   `json:"overview"`
	KeyPoints []string `json:"key_points"`
}

const systemPrompt = "Summarize the following meeting transcript. Respond with a brief overview " +
	"followed by a short list of key points."

// Pipeline runs summarization over a transcript using the configured provider.
type Pipeline struct {
	provider llm.Provider
}

// New builds a Pipeline. provider is nil when the owner has not configured
// an LLM credential — Run then returns models.SummaryStatusNotConfigured
// via llm.ErrNotConfigured rather than attempting a call.
func New(provider llm.Provider) *Pipeline {
	return &Pipeline{provider: provider}
}

// Run produces a Summary and the status it should be persisted under.
func (p *Pipeline) Run(ctx context.Context, segments []TranscriptSegment, sink pipeline.ProgressSink) (*Summary, models.SummaryStatus, error) {
	if p.provider == nil {
		return nil, models.SummaryStatusNotConfigured, llm.ErrNotConfigured
	}

	if sink != nil {
		_ = sink.Report(ctx, "summarization", 0, "building transcript prompt")
	}

	transcript := renderTranscript(segments)
	resp, err := p.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: transcript},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		if errors.Is(err, llm.ErrNotConfigured) {
			return nil, models.SummaryStatusNotConfigured, err
		}
		return nil, models.SummaryStatusFailed, pipeline.NewError("summarization", pipeline.FailureModelAuth, err)
	}

	summary := parseSummary(resp.Text)
	if sink != nil {
		_ = sink.Report(ctx, "summarization", 1, "complete")
	}
	return summary, models.SummaryStatusCompleted, nil
}

func renderTranscript(segments []TranscriptSegment) string {
	var b strings.Builder
	for _, s := range segments {
		fmt.Fprintf(&b, "%s: %s\n", s.SpeakerLabel, s.Text)
	}
	return b.String()
}

// parseSummary splits the model's free-text reply into an overview and
// bullet-style key points, falling back to treating the whole reply as the
// overview when no bullets are present.
func parseSummary(text string) *Summary {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	var overview strings.Builder
	var points []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*") {
			points = append(points, strings.TrimSpace(strings.TrimLeft(trimmed, "-* ")))
			continue
		}
		if trimmed != "" {
			if overview.Len() > 0 {
				overview.WriteString(" ")
			}
			overview.WriteString(trimmed)
		}
	}
	return &Summary{Overview: overview.String(), KeyPoints: points}
}

// Marshal serializes the summary for storage in models.Summary.Content.
func (s *Summary) Marshal() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
