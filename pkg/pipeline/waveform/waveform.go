// Package waveform implements the waveform-generation utility job (spec §6
// "Persisted layout" waveform role): a downsampled summary of a file's
// amplitude envelope, persisted as a JSON envelope of per-bucket min/max
// sample values rather than the full-resolution audio.
package waveform

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/opentranscribe/mpo/pkg/bufpool"
	"github.com/opentranscribe/mpo/pkg/pipeline"
)

// Config controls how finely the waveform is downsampled.
type Config struct {
	// SamplesPerBucket is how many 16-bit PCM samples are folded into one
	// min/max bucket.
	SamplesPerBucket int
}

// DefaultConfig returns the downsampling rate used when no Config is given.
// At 48kHz this buckets roughly one point every ~85ms, dense enough for a
// scrubber waveform without shipping the full sample rate to clients.
func DefaultConfig() Config {
	return Config{SamplesPerBucket: 4096}
}

func (c Config) withDefaults() Config {
	if c.SamplesPerBucket <= 0 {
		c.SamplesPerBucket = DefaultConfig().SamplesPerBucket
	}
	return c
}

// Bucket is one downsampled amplitude window.
type Bucket struct {
	Min int16 `json:"min"`
	Max int16 `json:"max"`
}

// Envelope is the JSON document persisted at the waveform artifact role.
type Envelope struct {
	SamplesPerBucket int      `json:"samples_per_bucket"`
	Buckets          []Bucket `json:"buckets"`
}

// Marshal serializes the envelope for storage via the artifact gateway.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Pipeline computes a downsampled waveform envelope from raw audio bytes.
type Pipeline struct {
	cfg Config
}

// New builds a Pipeline with cfg; a zero Config uses DefaultConfig.
func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg.withDefaults()}
}

// Run streams r in pooled-buffer-sized chunks, treating its content as
// little-endian 16-bit PCM samples, and folds every SamplesPerBucket
// samples into one min/max Bucket.
//
// It has no audio-codec awareness: callers feeding it a compressed or
// containerized format (mp3, mp4) get a waveform shaped by the encoded
// bytes rather than true decoded amplitude. That's an acceptable shortcut
// for a visual scrubber — it is not a substitute for real audio decoding,
// which no dependency in this module's stack provides.
func (p *Pipeline) Run(ctx context.Context, r io.Reader, sink pipeline.ProgressSink, cancel pipeline.CancelChecker) (*Envelope, error) {
	buf := bufpool.Get(bufpool.DefaultLargeSize)
	defer bufpool.Put(buf)

	env := &Envelope{SamplesPerBucket: p.cfg.SamplesPerBucket}

	var pending byte
	var havePending bool
	var count int
	var lo, hi int16
	var haveSample bool

	flush := func() {
		if !haveSample {
			return
		}
		env.Buckets = append(env.Buckets, Bucket{Min: lo, Max: hi})
		count = 0
		haveSample = false
	}

	fold := func(sample int16) {
		if !haveSample {
			lo, hi = sample, sample
			haveSample = true
		} else {
			if sample < lo {
				lo = sample
			}
			if sample > hi {
				hi = sample
			}
		}
		count++
		if count >= p.cfg.SamplesPerBucket {
			flush()
		}
	}

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if cancel != nil {
			requested, err := cancel(ctx)
			if err != nil {
				return nil, err
			}
			if requested {
				return nil, pipeline.ErrCancelled
			}
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			data := buf[:n]
			i := 0
			if havePending {
				sample := int16(binary.LittleEndian.Uint16([]byte{pending, data[0]}))
				fold(sample)
				i = 1
				havePending = false
			}
			for ; i+2 <= len(data); i += 2 {
				fold(int16(binary.LittleEndian.Uint16(data[i : i+2])))
			}
			if i < len(data) {
				pending = data[i]
				havePending = true
			}
		}
		if readErr == io.EOF {
			flush()
			break
		}
		if readErr != nil {
			return nil, readErr
		}
	}

	if sink != nil {
		_ = sink.Report(ctx, "waveform", 1, "complete")
	}
	return env, nil
}
