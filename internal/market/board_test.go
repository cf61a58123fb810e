package market

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	return redis.NewClient(&redis.Options{Addr: s.Addr()})
}

func TestBoard_PublishAndLoad(t *testing.T) {
	rdb := newMiniRedis(t)
	defer rdb.Close()

	board := NewBoard(rdb, 2*time.Minute)
	rows := []PriceRow{
		{ID: 1, Name: "Margarita", Price: 10.10, Direction: "up"},
		{ID: 2, Name: "Mojito", Price: 9.31, Direction: "down"},
	}
	if err := board.Publish(context.Background(), rows); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, ok := board.Load(context.Background())
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].Name != "Margarita" || got[0].Direction != "up" {
		t.Fatalf("unexpected row: %+v", got[0])
	}
}

func TestBoard_LoadMissReturnsFalse(t *testing.T) {
	rdb := newMiniRedis(t)
	defer rdb.Close()

	board := NewBoard(rdb, time.Minute)
	if _, ok := board.Load(context.Background()); ok {
		t.Fatal("expected cache miss on empty redis")
	}
}
