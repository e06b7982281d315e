package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher appends session records to a Redis stream.
type Publisher struct {
	client redis.Cmdable
}

// PublishOption adjusts the XADD arguments.
type PublishOption func(*redis.XAddArgs)

// WithMaxLenApprox caps the stream at roughly maxLen entries.
func WithMaxLenApprox(maxLen int64) PublishOption {
	return func(args *redis.XAddArgs) {
		if maxLen > 0 {
			args.MaxLen = maxLen
			args.Approx = true
		}
	}
}

func NewPublisher(client redis.Cmdable) *Publisher {
	return &Publisher{client: client}
}

// Publish stamps a missing timestamp and XADDs the record. It returns the
// stream entry id.
func (p *Publisher) Publish(ctx context.Context, stream string, rec Record, opts ...PublishOption) (string, error) {
	if stream == "" {
		return "", fmt.Errorf("stream name is required")
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	if err := rec.validate(); err != nil {
		return "", err
	}

	args := &redis.XAddArgs{Stream: stream, Values: rec.values()}
	for _, opt := range opts {
		opt(args)
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// Recent returns up to n records from the end of stream, newest first.
// Entries that do not parse are skipped.
func Recent(ctx context.Context, client redis.Cmdable, stream string, n int64) ([]Record, error) {
	if n <= 0 {
		n = 50
	}
	msgs, err := client.XRevRangeN(ctx, stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange: %w", err)
	}
	out := make([]Record, 0, len(msgs))
	for _, m := range msgs {
		rec, err := parseRecord(m)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Log reads back a mirrored stream.
type Log struct {
	Client redis.Cmdable
	Stream string
}

func (l Log) Recent(ctx context.Context, n int64) ([]Record, error) {
	return Recent(ctx, l.Client, l.Stream, n)
}
