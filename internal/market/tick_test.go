package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"berza/internal/model"
)

type mockTickStore struct {
	drinks []model.Drink
	sales  map[uint]int64

	salesErr error
	applyErr error

	appliedUpdates []PriceUpdate
	appliedHistory []model.PriceHistory
	applyCalls     int
}

func (m *mockTickStore) ListDrinks(ctx context.Context) ([]model.Drink, error) {
	out := make([]model.Drink, len(m.drinks))
	copy(out, m.drinks)
	return out, nil
}

func (m *mockTickStore) SumSales(ctx context.Context, from, to time.Time) (map[uint]int64, error) {
	if m.salesErr != nil {
		return nil, m.salesErr
	}
	return m.sales, nil
}

func (m *mockTickStore) ApplyTick(ctx context.Context, updates []PriceUpdate, history []model.PriceHistory) error {
	m.applyCalls++
	if m.applyErr != nil {
		return m.applyErr
	}
	m.appliedUpdates = updates
	m.appliedHistory = history
	for _, u := range updates {
		for i := range m.drinks {
			if m.drinks[i].ID == u.DrinkID {
				m.drinks[i].PreviousPrice = u.Previous
				m.drinks[i].CurrentPrice = u.Current
			}
		}
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDrink(id uint, current float64) model.Drink {
	d := model.Drink{
		Name:          "Margarita",
		BasePrice:     10.00,
		CurrentPrice:  current,
		PreviousPrice: current,
		MinPrice:      7.00,
		MaxPrice:      13.00,
	}
	d.ID = id
	return d
}

func TestRunTick_DecayWritesHistory(t *testing.T) {
	store := &mockTickStore{
		drinks: []model.Drink{testDrink(1, 10.00)},
		sales:  map[uint]int64{},
	}
	ctrl := NewTickController(store, discardLogger(), 30*time.Minute, 0.01)

	changes, err := ctrl.RunTick(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("run tick: %v", err)
	}

	ch, ok := changes[1]
	if !ok {
		t.Fatal("expected audit entry for drink 1")
	}
	if !SameAtStep(ch.New, 9.80, 0.01) {
		t.Fatalf("expected decay to 9.80, got %v", ch.New)
	}
	if len(store.appliedHistory) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(store.appliedHistory))
	}
	h := store.appliedHistory[0]
	if h.Reason != "0 sold (change: -2.00%)" {
		t.Fatalf("unexpected reason: %q", h.Reason)
	}
	if h.OldPrice != 10.00 || !SameAtStep(h.NewPrice, 9.80, 0.01) {
		t.Fatalf("unexpected history prices: %+v", h)
	}
}

func TestRunTick_GrowthFromSales(t *testing.T) {
	store := &mockTickStore{
		drinks: []model.Drink{testDrink(1, 10.00)},
		sales:  map[uint]int64{1: 5},
	}
	ctrl := NewTickController(store, discardLogger(), 30*time.Minute, 0.01)

	changes, err := ctrl.RunTick(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("run tick: %v", err)
	}
	if got := changes[1].New; !SameAtStep(got, 10.50, 0.01) {
		t.Fatalf("expected 10.50, got %v", got)
	}
	if len(store.appliedHistory) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(store.appliedHistory))
	}
	if store.appliedHistory[0].Reason != "5 sold (change: +5.00%)" {
		t.Fatalf("unexpected reason: %q", store.appliedHistory[0].Reason)
	}
}

func TestRunTick_PinnedAtFloorNoHistory(t *testing.T) {
	store := &mockTickStore{
		drinks: []model.Drink{testDrink(1, 7.00)},
		sales:  map[uint]int64{},
	}
	ctrl := NewTickController(store, discardLogger(), 30*time.Minute, 0.01)

	if _, err := ctrl.RunTick(context.Background(), time.Now()); err != nil {
		t.Fatalf("run tick: %v", err)
	}
	if len(store.appliedHistory) != 0 {
		t.Fatalf("expected no history when price is pinned, got %d rows", len(store.appliedHistory))
	}
	// previous/current 仍然滚动提交
	if len(store.appliedUpdates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(store.appliedUpdates))
	}
	if store.appliedUpdates[0].Current != 7.00 {
		t.Fatalf("expected current to stay 7.00, got %v", store.appliedUpdates[0].Current)
	}
}

func TestRunTick_StoreErrorAbortsCleanly(t *testing.T) {
	store := &mockTickStore{
		drinks:   []model.Drink{testDrink(1, 10.00)},
		sales:    map[uint]int64{},
		applyErr: errors.New("mysql gone away"),
	}
	ctrl := NewTickController(store, discardLogger(), 30*time.Minute, 0.01)

	if _, err := ctrl.RunTick(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error from failed commit")
	}
	if store.drinks[0].CurrentPrice != 10.00 {
		t.Fatalf("expected price untouched after failed commit, got %v", store.drinks[0].CurrentPrice)
	}
}

func TestRunTick_SalesErrorSkipsCommit(t *testing.T) {
	store := &mockTickStore{
		drinks:   []model.Drink{testDrink(1, 10.00)},
		salesErr: errors.New("timeout"),
	}
	ctrl := NewTickController(store, discardLogger(), 30*time.Minute, 0.01)

	if _, err := ctrl.RunTick(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error from sales aggregation")
	}
	if store.applyCalls != 0 {
		t.Fatalf("expected no commit attempt, got %d", store.applyCalls)
	}
}

func TestRunTick_ConsecutiveDecays(t *testing.T) {
	store := &mockTickStore{
		drinks: []model.Drink{testDrink(1, 10.00)},
		sales:  map[uint]int64{},
	}
	ctrl := NewTickController(store, discardLogger(), 30*time.Minute, 0.01)

	for i := 0; i < 2; i++ {
		if _, err := ctrl.RunTick(context.Background(), time.Now()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	// 10.00 → 9.80 → 9.60 (9.80×0.98=9.604→9.60)
	if got := store.drinks[0].CurrentPrice; !SameAtStep(got, 9.60, 0.01) {
		t.Fatalf("expected 9.60 after two decays, got %v", got)
	}
	if got := store.drinks[0].PreviousPrice; !SameAtStep(got, 9.80, 0.01) {
		t.Fatalf("expected previous 9.80, got %v", got)
	}
}
