package events_test

import (
	"context"
	"testing"

	"github.com/mohammad-safakhou/deepresearch/internal/events"
	"github.com/mohammad-safakhou/deepresearch/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRecentAgainstRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	uri, err := redisC.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	opts, err := redis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := redis.NewClient(opts)
	defer func() { _ = client.Close() }()

	pub := events.NewPublisher(client)
	for _, kind := range []session.EventKind{session.EventRunStarted, session.EventProgress} {
		if _, err := pub.Publish(ctx, "it:session", events.Record{Kind: kind, RunID: "r1", Generation: 2}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	got, err := events.Recent(ctx, client, "it:session", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Kind != session.EventProgress || got[0].Generation != 2 || got[0].ID == "" {
		t.Fatalf("recent = %+v", got)
	}
}
