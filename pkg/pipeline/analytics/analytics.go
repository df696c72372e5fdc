// Package analytics implements the analytics pipeline (spec §4.7): speaker
// talk-time, turn-taking, interruptions, and questions, computed from
// persisted transcript segments.
package analytics

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/opentranscribe/mpo/pkg/pipeline"
)

// Segment is the minimal shape the pipeline needs from a stored transcript.
type Segment struct {
	SpeakerLabel string
	StartTime    float64
	EndTime      float64
	Text         string
}

// Result is the pipeline's output, mapped onto models.Analytics fields.
type Result struct {
	TalkTimeBySpeaker map[string]float64
	TurnCount         int
	Interruptions     int
	Questions         int
}

// Pipeline computes Result from a file's ordered segments.
type Pipeline struct{}

// New builds a Pipeline. Analytics has no external dependency, so
// construction never fails.
func New() *Pipeline { return &Pipeline{} }

// Run is a pure function of segments; segments must already be ordered by
// start_time, as pkg/store.ListSegments guarantees.
func (p *Pipeline) Run(ctx context.Context, segments []Segment, sink pipeline.ProgressSink) (*Result, error) {
	result := &Result{TalkTimeBySpeaker: make(map[string]float64)}

	var lastSpeaker string
	var lastEnd float64
	for i, seg := range segments {
		result.TalkTimeBySpeaker[seg.SpeakerLabel] += seg.EndTime - seg.StartTime

		if i > 0 && seg.SpeakerLabel != lastSpeaker {
			result.TurnCount++
			if seg.StartTime < lastEnd {
				result.Interruptions++
			}
		}
		if isQuestion(seg.Text) {
			result.Questions++
		}

		lastSpeaker = seg.SpeakerLabel
		lastEnd = seg.EndTime
	}

	if sink != nil {
		_ = sink.Report(ctx, "analytics", 1, "complete")
	}
	return result, nil
}

func isQuestion(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasSuffix(trimmed, "?")
}

// TalkTimeJSON serializes the per-speaker talk time map for
// models.Analytics.TalkTimeJSON, with speakers sorted for deterministic output.
func (r *Result) TalkTimeJSON() (string, error) {
	keys := make([]string, 0, len(r.TalkTimeBySpeaker))
	for k := range r.TalkTimeBySpeaker {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]struct {
		Speaker  string  `json:"speaker"`
		Seconds  float64 `json:"seconds"`
	}, len(keys))
	for i, k := range keys {
		ordered[i].Speaker = k
		ordered[i].Seconds = r.TalkTimeBySpeaker[k]
	}

	data, err := json.Marshal(ordered)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
