package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"futures-trader/internal/order"
	"futures-trader/internal/strategy"
)

type recordingJournal struct {
	mu         sync.Mutex
	orders     []order.Order
	strategies []StrategyRecord
	failNext   bool
}

func (j *recordingJournal) RecordOrder(o order.Order) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failNext {
		j.failNext = false
		return errors.New("journal unavailable")
	}
	j.orders = append(j.orders, o)
	return nil
}

func (j *recordingJournal) RecordStrategy(rec StrategyRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.strategies = append(j.strategies, rec)
	return nil
}

// gateJournal 可以让下一次订单落盘停在途中，直到测试放行。
type gateJournal struct {
	recordingJournal
	gateMu  sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (j *gateJournal) RecordOrder(o order.Order) error {
	j.gateMu.Lock()
	armed := j.armed
	j.armed = false
	j.gateMu.Unlock()
	if armed {
		j.entered <- struct{}{}
		<-j.release
	}
	return j.recordingJournal.RecordOrder(o)
}

func makeOrder(id string) order.Order {
	now := time.Now().UTC()
	return order.Order{
		ID:        id,
		Symbol:    "BTCUSDT",
		Side:      order.SideBuy,
		Kind:      order.KindLimit,
		Quantity:  0.01,
		Price:     42000,
		Status:    order.StatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestLedgerInsertOrder_RejectsDuplicate(t *testing.T) {
	led := New(nil, nil)

	if err := led.InsertOrder(makeOrder("1")); err != nil {
		t.Fatalf("InsertOrder returned error: %v", err)
	}
	if err := led.InsertOrder(makeOrder("1")); err == nil {
		t.Fatal("expected duplicate insert to fail")
	}
}

func TestLedgerApplyAck_UpdatesFillFields(t *testing.T) {
	led := New(nil, nil)
	if err := led.InsertOrder(makeOrder("1")); err != nil {
		t.Fatalf("InsertOrder returned error: %v", err)
	}

	updated, err := led.ApplyAck("1", order.StatusFilled, 0.01, 42500.50)
	if err != nil {
		t.Fatalf("ApplyAck returned error: %v", err)
	}
	if updated.Status != order.StatusFilled {
		t.Errorf("expected FILLED, got %s", updated.Status)
	}
	if updated.FilledQty != 0.01 || updated.AvgPrice != 42500.50 {
		t.Errorf("unexpected fill fields: %v @ %v", updated.FilledQty, updated.AvgPrice)
	}

	if _, err := led.ApplyAck("missing", order.StatusFilled, 0, 0); err == nil {
		t.Fatal("expected error for unknown order")
	}
}

func TestLedgerOrders_PreservesInsertionOrder(t *testing.T) {
	led := New(nil, nil)
	for _, id := range []string{"3", "1", "2"} {
		if err := led.InsertOrder(makeOrder(id)); err != nil {
			t.Fatalf("InsertOrder returned error: %v", err)
		}
	}

	got := led.Orders()
	want := []string{"3", "1", "2"}
	if len(got) != len(want) {
		t.Fatalf("expected %d orders, got %d", len(want), len(got))
	}
	for i, o := range got {
		if o.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], o.ID)
		}
	}
}

func TestLedgerStrategy_TerminalTransitionRejected(t *testing.T) {
	led := New(nil, nil)
	now := time.Now().UTC()
	rec := StrategyRecord{
		ID:        "s1",
		Kind:      strategy.KindOCO,
		Symbol:    "BTCUSDT",
		Status:    strategy.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := led.RegisterStrategy(rec); err != nil {
		t.Fatalf("RegisterStrategy returned error: %v", err)
	}

	if _, err := led.UpdateStrategyStatus("s1", strategy.StatusCompleted); err != nil {
		t.Fatalf("transition to COMPLETED failed: %v", err)
	}

	_, err := led.UpdateStrategyStatus("s1", strategy.StatusCancelled)
	var serr *strategy.StateError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *strategy.StateError after terminal state, got %v", err)
	}
	if serr.Status != strategy.StatusCompleted {
		t.Errorf("expected reported status COMPLETED, got %s", serr.Status)
	}
}

func TestLedgerAppendChild_GrowsMonotonically(t *testing.T) {
	led := New(nil, nil)
	now := time.Now().UTC()
	if err := led.RegisterStrategy(StrategyRecord{
		ID: "s1", Kind: strategy.KindTWAP, Symbol: "BTCUSDT",
		Status: strategy.StatusRunning, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("RegisterStrategy returned error: %v", err)
	}

	for _, child := range []string{"a", "b", "c"} {
		if err := led.AppendChild("s1", child); err != nil {
			t.Fatalf("AppendChild returned error: %v", err)
		}
	}

	rec, ok := led.Strategy("s1")
	if !ok {
		t.Fatal("strategy not found")
	}
	if len(rec.Children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(rec.Children))
	}

	// 返回的副本不应影响台账内部状态。
	rec.Children[0] = "mutated"
	again, _ := led.Strategy("s1")
	if again.Children[0] != "a" {
		t.Error("ledger children leaked internal slice")
	}
}

func TestLedgerJournal_NotificationsFollowCommitOrder(t *testing.T) {
	journal := &gateJournal{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	led := New(journal, nil)

	if err := led.InsertOrder(makeOrder("1")); err != nil {
		t.Fatalf("InsertOrder returned error: %v", err)
	}

	// 第一次更新停在落盘途中，第二次更新必须排队等它完成，
	// 而不是抢先写入更旧的状态。
	journal.gateMu.Lock()
	journal.armed = true
	journal.gateMu.Unlock()

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		if _, err := led.ApplyAck("1", order.StatusPartiallyFilled, 0.005, 42000); err != nil {
			t.Errorf("ApplyAck returned error: %v", err)
		}
	}()
	<-journal.entered

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		if _, err := led.ApplyAck("1", order.StatusFilled, 0.01, 42000); err != nil {
			t.Errorf("ApplyAck returned error: %v", err)
		}
	}()

	select {
	case <-secondDone:
		t.Fatal("second update journaled before the first finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(journal.release)
	<-firstDone
	<-secondDone

	journal.mu.Lock()
	defer journal.mu.Unlock()
	want := []order.Status{order.StatusNew, order.StatusPartiallyFilled, order.StatusFilled}
	if len(journal.orders) != len(want) {
		t.Fatalf("expected %d journaled records, got %d", len(want), len(journal.orders))
	}
	for i, w := range want {
		if journal.orders[i].Status != w {
			t.Errorf("record %d: expected %s, got %s", i, w, journal.orders[i].Status)
		}
	}
}

func TestLedgerJournal_FailureDoesNotRollBack(t *testing.T) {
	journal := &recordingJournal{failNext: true}
	led := New(journal, nil)

	if err := led.InsertOrder(makeOrder("1")); err != nil {
		t.Fatalf("InsertOrder returned error despite journal failure: %v", err)
	}
	if _, ok := led.Order("1"); !ok {
		t.Fatal("order missing from ledger after journal failure")
	}

	if _, err := led.ApplyAck("1", order.StatusFilled, 0.01, 42500.50); err != nil {
		t.Fatalf("ApplyAck returned error: %v", err)
	}
	journal.mu.Lock()
	defer journal.mu.Unlock()
	if len(journal.orders) != 1 {
		t.Fatalf("expected 1 journaled order, got %d", len(journal.orders))
	}
	if journal.orders[0].Status != order.StatusFilled {
		t.Errorf("expected journaled status FILLED, got %s", journal.orders[0].Status)
	}
}
