// Package download implements the URL ingest stage (spec §4.5): fetching a
// remote URL's bytes into a local buffer so the rest of the ingestion path
// (content hashing, artifact storage, transcription enqueue) can treat it
// identically to a local upload. No third-party HTTP client is wired here:
// the retrieved pack carries no HTTP client dependency for any repo, so
// this stays on net/http rather than fabricating one.
package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opentranscribe/mpo/pkg/bufpool"
	"github.com/opentranscribe/mpo/pkg/pipeline"
)

// MaxBytes bounds a single download so a misbehaving or malicious URL
// cannot exhaust memory; a response larger than this fails the job with
// FailureInputQuality rather than streaming indefinitely.
const MaxBytes = 2 << 30 // 2 GiB

// Config controls the HTTP client used to fetch a URL ingest's source.
type Config struct {
	// Timeout bounds the whole request, not just dialing. Zero uses
	// DefaultConfig's value.
	Timeout time.Duration
}

// DefaultConfig returns the timeout used when Config is the zero value.
func DefaultConfig() Config {
	return Config{Timeout: 10 * time.Minute}
}

// Result is a downloaded body buffered in memory, ready for hashing via
// contenthash.Hash (which needs an io.ReaderAt) and upload to the artifact
// store.
type Result struct {
	Body      []byte
	MimeClass string
}

// Pipeline fetches a URL ingest's source bytes.
type Pipeline struct {
	cfg    Config
	client *http.Client
}

// New builds a Pipeline. A zero Config uses DefaultConfig.
func New(cfg Config) *Pipeline {
	if cfg.Timeout <= 0 {
		cfg = DefaultConfig()
	}
	return &Pipeline{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Run fetches url and buffers its body, checking cancel between reads.
func (p *Pipeline) Run(ctx context.Context, url string, sink pipeline.ProgressSink, cancel pipeline.CancelChecker) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pipeline.NewError("download", pipeline.FailureInputQuality, fmt.Errorf("build request: %w", err))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, pipeline.NewError("download", pipeline.FailureTransientInfra, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, pipeline.NewError("download", pipeline.FailureInputQuality, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	buf := &bytes.Buffer{}
	chunk := bufpool.Get(bufpool.DefaultLargeSize)
	defer bufpool.Put(chunk)

	var total int64
	for {
		if cancel != nil {
			stop, cancelErr := cancel(ctx)
			if cancelErr != nil {
				return nil, pipeline.NewError("download", pipeline.FailureUnknown, cancelErr)
			}
			if stop {
				return nil, pipeline.ErrCancelled
			}
		}

		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			total += int64(n)
			if total > MaxBytes {
				return nil, pipeline.NewError("download", pipeline.FailureInputQuality, fmt.Errorf("body exceeds %d bytes", MaxBytes))
			}
			buf.Write(chunk[:n])
			if sink != nil {
				_ = sink.Report(ctx, "download", fractionOf(total, resp.ContentLength), "")
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, pipeline.NewError("download", pipeline.FailureTransientInfra, readErr)
		}
	}

	return &Result{Body: buf.Bytes(), MimeClass: resp.Header.Get("Content-Type")}, nil
}

func fractionOf(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	f := float64(done) / float64(total)
	if f > 1 {
		return 1
	}
	return f
}
