package market

import (
	"context"
	"testing"
	"time"
)

type gatedRunner struct {
	started chan struct{}
	release chan struct{}
	runs    chan struct{}
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
		runs:    make(chan struct{}, 8),
	}
}

func (g *gatedRunner) RunTick(ctx context.Context, now time.Time) (map[uint]PriceChange, error) {
	g.started <- struct{}{}
	<-g.release
	g.runs <- struct{}{}
	return nil, nil
}

func TestDriver_DropsOverlappingFirings(t *testing.T) {
	runner := newGatedRunner()
	d := NewDriver(time.Hour, runner, discardLogger())

	if !d.TryTick(context.Background()) {
		t.Fatal("first firing should be accepted")
	}
	<-runner.started

	// 上一个 Tick 还没结束，后续触发全部丢弃
	for i := 0; i < 3; i++ {
		if d.TryTick(context.Background()) {
			t.Fatalf("firing %d should be dropped while tick in flight", i)
		}
	}

	close(runner.release)
	<-runner.runs

	// 等守卫复位
	deadline := time.After(2 * time.Second)
	for {
		if d.TryTick(context.Background()) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("driver never accepted a new firing after completion")
		case <-time.After(5 * time.Millisecond):
		}
	}
	<-runner.started
}

type panicRunner struct{ done chan struct{} }

func (p *panicRunner) RunTick(ctx context.Context, now time.Time) (map[uint]PriceChange, error) {
	defer close(p.done)
	panic("boom")
}

func TestDriver_RecoversFromPanicAndResetsGuard(t *testing.T) {
	runner := &panicRunner{done: make(chan struct{})}
	d := NewDriver(time.Hour, runner, discardLogger())

	if !d.TryTick(context.Background()) {
		t.Fatal("firing should be accepted")
	}
	<-runner.done

	deadline := time.After(2 * time.Second)
	for {
		if d.inFlight.CompareAndSwap(false, true) {
			d.inFlight.Store(false)
			return
		}
		select {
		case <-deadline:
			t.Fatal("guard never reset after panic")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
