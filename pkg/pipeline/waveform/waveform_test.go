package waveform

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/opentranscribe/mpo/pkg/pipeline"
)

func pcm(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestRunBucketsSamplesBySamplesPerBucket(t *testing.T) {
	data := pcm(10, -5, 3, 7, -20, 1, 0, 0)
	p := New(Config{SamplesPerBucket: 4})

	env, err := p.Run(context.Background(), bytes.NewReader(data), nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(env.Buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d: %+v", len(env.Buckets), env.Buckets)
	}
	if env.Buckets[0].Min != -5 || env.Buckets[0].Max != 10 {
		t.Fatalf("unexpected first bucket: %+v", env.Buckets[0])
	}
	if env.Buckets[1].Min != -20 || env.Buckets[1].Max != 1 {
		t.Fatalf("unexpected second bucket: %+v", env.Buckets[1])
	}
}

func TestRunFlushesPartialTrailingBucket(t *testing.T) {
	data := pcm(1, 2, 3)
	p := New(Config{SamplesPerBucket: 100})

	env, err := p.Run(context.Background(), bytes.NewReader(data), nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(env.Buckets) != 1 {
		t.Fatalf("expected the trailing partial bucket to flush, got %+v", env.Buckets)
	}
	if env.Buckets[0].Min != 1 || env.Buckets[0].Max != 3 {
		t.Fatalf("unexpected bucket: %+v", env.Buckets[0])
	}
}

func TestRunIgnoresTrailingOddByte(t *testing.T) {
	data := append(pcm(5, 6), 0xFF)
	p := New(Config{SamplesPerBucket: 10})

	env, err := p.Run(context.Background(), bytes.NewReader(data), nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(env.Buckets) != 1 || env.Buckets[0].Max != 6 {
		t.Fatalf("unexpected envelope: %+v", env.Buckets)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	data := pcm(1, 2, 3, 4)
	p := New(Config{SamplesPerBucket: 1})
	cancel := func(ctx context.Context) (bool, error) { return true, nil }

	_, err := p.Run(context.Background(), bytes.NewReader(data), nil, cancel)
	if err != pipeline.ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestMarshalRoundTrips(t *testing.T) {
	env := &Envelope{SamplesPerBucket: 4096, Buckets: []Bucket{{Min: -1, Max: 1}}}
	data, err := env.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty marshaled envelope")
	}
}
