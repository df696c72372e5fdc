package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opentranscribe/mpo/pkg/pipeline"
)

func TestRunFetchesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	p := New(Config{})
	result, err := p.Run(context.Background(), srv.URL, nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if string(result.Body) != "hello world" {
		t.Fatalf("unexpected body: %q", result.Body)
	}
	if result.MimeClass != "audio/mpeg" {
		t.Fatalf("unexpected mime class: %q", result.MimeClass)
	}
}

func TestRunNonOKStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := New(Config{})
	_, err := p.Run(context.Background(), srv.URL, nil, nil)
	var perr *pipeline.Error
	if err == nil {
		t.Fatal("expected error for non-200 status")
	}
	if !asPipelineError(err, &perr) || perr.Class != pipeline.FailureInputQuality {
		t.Fatalf("expected FailureInputQuality, got %v", err)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 1<<20)))
	}))
	defer srv.Close()

	p := New(Config{})
	cancel := func(ctx context.Context) (bool, error) { return true, nil }
	_, err := p.Run(context.Background(), srv.URL, nil, cancel)
	if err != pipeline.ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func asPipelineError(err error, target **pipeline.Error) bool {
	perr, ok := err.(*pipeline.Error)
	if !ok {
		return false
	}
	*target = perr
	return true
}
