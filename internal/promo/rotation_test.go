package promo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock 让测试完全掌控轮换状态机的时间轴。
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRotation(candidates []Candidate, prices map[uint]float64) (*Rotation, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)}
	price := func(ctx context.Context, drinkID uint) (float64, error) {
		p, ok := prices[drinkID]
		if !ok {
			return 0, errors.New("unknown drink")
		}
		return p, nil
	}
	r := NewRotation(candidates, price, 300*time.Second, 120*time.Second, discardLogger())
	r.now = clock.now
	r.serverStart = clock.t
	return r, clock
}

func TestRotation_EmptyListNeverPlays(t *testing.T) {
	r, clock := newTestRotation(nil, nil)
	clock.advance(time.Hour)
	if d := r.Poll(context.Background()); d.Play {
		t.Fatalf("expected no-play with empty candidate list, got %+v", d)
	}
	if r.Advance() {
		t.Fatal("advance on empty list should be a no-op")
	}
}

func TestRotation_ColdStartDelay(t *testing.T) {
	candidates := []Candidate{{DrinkID: 1, Name: "Margarita", ClipURL: "/clips/m.mp4", TriggerPrice: 5.50}}
	r, clock := newTestRotation(candidates, map[uint]float64{1: 5.60})

	clock.advance(100 * time.Second)
	if d := r.Poll(context.Background()); d.Play {
		t.Fatalf("expected no-play during cold start, got %+v", d)
	}

	clock.advance(201 * time.Second)
	d := r.Poll(context.Background())
	if !d.Play {
		t.Fatal("expected trigger after cold start")
	}
	if d.Clip != "/clips/m.mp4" || d.Price != 5.60 {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestRotation_TriggerIsIdempotent(t *testing.T) {
	candidates := []Candidate{{DrinkID: 1, Name: "Margarita", ClipURL: "/clips/m.mp4", TriggerPrice: 5.50}}
	prices := map[uint]float64{1: 5.60}
	r, clock := newTestRotation(candidates, prices)
	clock.advance(301 * time.Second)

	first := r.Poll(context.Background())
	if !first.Play {
		t.Fatal("expected trigger")
	}

	// 触发后价格再怎么变，重复轮询都返回锁定的决定
	prices[1] = 4.00
	second := r.Poll(context.Background())
	if second != first {
		t.Fatalf("expected locked decision, got %+v vs %+v", second, first)
	}
}

func TestRotation_AdvanceStartsCooldownAndRotates(t *testing.T) {
	candidates := []Candidate{
		{DrinkID: 1, Name: "Margarita", ClipURL: "/clips/m.mp4", TriggerPrice: 5.50},
		{DrinkID: 2, Name: "Mojito", ClipURL: "/clips/j.mp4", TriggerPrice: 6.00},
	}
	r, clock := newTestRotation(candidates, map[uint]float64{1: 5.60, 2: 6.50})
	clock.advance(301 * time.Second)

	if d := r.Poll(context.Background()); !d.Play {
		t.Fatal("expected first candidate to trigger")
	}
	if !r.Advance() {
		t.Fatal("advance after trigger should succeed")
	}

	// 冷却期内即使下一个候选已达触发线也不播
	clock.advance(60 * time.Second)
	if d := r.Poll(context.Background()); d.Play {
		t.Fatalf("expected cooldown, got %+v", d)
	}

	clock.advance(61 * time.Second)
	d := r.Poll(context.Background())
	if !d.Play || d.Name != "Mojito" {
		t.Fatalf("expected second candidate after cooldown, got %+v", d)
	}
}

func TestRotation_WrapsAroundCyclically(t *testing.T) {
	candidates := []Candidate{
		{DrinkID: 1, Name: "Margarita", ClipURL: "/clips/m.mp4", TriggerPrice: 5.50},
		{DrinkID: 2, Name: "Mojito", ClipURL: "/clips/j.mp4", TriggerPrice: 6.00},
	}
	r, clock := newTestRotation(candidates, map[uint]float64{1: 9.00, 2: 9.00})
	clock.advance(301 * time.Second)

	for _, want := range []string{"Margarita", "Mojito", "Margarita"} {
		d := r.Poll(context.Background())
		if !d.Play || d.Name != want {
			t.Fatalf("expected %s, got %+v", want, d)
		}
		if !r.Advance() {
			t.Fatal("advance failed")
		}
		clock.advance(121 * time.Second)
	}
}

func TestRotation_BelowTriggerStaysQuiet(t *testing.T) {
	candidates := []Candidate{{DrinkID: 1, Name: "Margarita", ClipURL: "/clips/m.mp4", TriggerPrice: 5.50}}
	r, clock := newTestRotation(candidates, map[uint]float64{1: 5.49})
	clock.advance(301 * time.Second)

	if d := r.Poll(context.Background()); d.Play {
		t.Fatalf("expected no-play below trigger, got %+v", d)
	}
}

func TestRotation_PriceLookupErrorIsNoPlay(t *testing.T) {
	candidates := []Candidate{{DrinkID: 99, Name: "Ghost", ClipURL: "/clips/g.mp4", TriggerPrice: 1.00}}
	r, clock := newTestRotation(candidates, map[uint]float64{})
	clock.advance(301 * time.Second)

	if d := r.Poll(context.Background()); d.Play {
		t.Fatalf("expected no-play on lookup error, got %+v", d)
	}
}

func TestRotation_AdvanceWithoutTriggerIsNoop(t *testing.T) {
	candidates := []Candidate{{DrinkID: 1, Name: "Margarita", ClipURL: "/clips/m.mp4", TriggerPrice: 5.50}}
	r, _ := newTestRotation(candidates, map[uint]float64{1: 1.00})

	if r.Advance() {
		t.Fatal("advance without trigger should return false")
	}
	// 指针没有前移
	r.mu.Lock()
	idx := r.idx
	r.mu.Unlock()
	if idx != 0 {
		t.Fatalf("expected index unchanged, got %d", idx)
	}
}
