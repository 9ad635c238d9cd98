//go:build redis_integration

package feed

import (
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func TestRedisPublishSubscribe(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping integration test")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	b := NewRedis(rdb, nil)
	defer b.Close()
	ch := b.Subscribe("org_it")
	b.Publish("org_it", Event{Type: TypeDeliveryAttempted, Data: map[string]any{"id": 7}})
	select {
	case got := <-ch:
		if got.Type != TypeDeliveryAttempted {
			t.Fatalf("type: %s", got.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	b.Unsubscribe("org_it", ch)
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader goroutine did not exit")
	}
}
