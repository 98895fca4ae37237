package grid

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"futures-trader/internal/execution"
	"futures-trader/internal/gateway"
	"futures-trader/internal/ledger"
	"futures-trader/internal/order"
	"futures-trader/internal/strategy"
)

func newTestEngine(sim *gateway.Simulator) (*Engine, *ledger.Ledger) {
	led := ledger.New(nil, nil)
	exec := execution.NewExecutor(sim, led, order.NewValidator(order.DefaultLimits()), nil)
	return NewEngine(exec, sim, led, 10*time.Millisecond, nil), led
}

func TestLevels_EvenlySpacedWithExactBounds(t *testing.T) {
	levels := Levels(40000, 45000, 5)

	if len(levels) != 6 {
		t.Fatalf("expected 6 levels for 5 grids, got %d", len(levels))
	}
	if levels[0] != 40000 {
		t.Errorf("expected first level 40000, got %v", levels[0])
	}
	if levels[5] != 45000 {
		t.Errorf("expected last level 45000, got %v", levels[5])
	}
	for i := 1; i < len(levels); i++ {
		step := levels[i] - levels[i-1]
		if diff := step - 1000; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("uneven spacing between level %d and %d: %v", i-1, i, step)
		}
	}
}

func TestLevels_FractionalStep(t *testing.T) {
	levels := Levels(0.30, 0.40, 4)

	if len(levels) != 5 {
		t.Fatalf("expected 5 levels, got %d", len(levels))
	}
	want := []float64{0.30, 0.325, 0.35, 0.375, 0.40}
	for i, w := range want {
		if diff := levels[i] - w; diff > 1e-12 || diff < -1e-12 {
			t.Errorf("level %d: got %v want %v", i, levels[i], w)
		}
	}
}

func TestEngineStart_PlacesOrdersOnBothSidesOfReference(t *testing.T) {
	sim := gateway.NewSimulator(nil)
	engine, led := newTestEngine(sim)
	ctx := context.Background()

	// 模拟器参考价 42500.50 落在 40000-45000 区间内。
	id, err := engine.Start(ctx, "BTCUSDT", 40000, 45000, 5, 0.05, "")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer func() { _ = engine.Stop(ctx, id) }()

	snap, err := engine.Status(id)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if snap.Status != strategy.StatusActive {
		t.Errorf("expected ACTIVE, got %s", snap.Status)
	}
	if len(snap.Levels) != 6 {
		t.Fatalf("expected 6 levels, got %d", len(snap.Levels))
	}
	if snap.QuantityPerLevel != 0.01 {
		t.Errorf("expected 0.01 per level, got %v", snap.QuantityPerLevel)
	}

	for _, lvl := range snap.Levels {
		if lvl.OpenOrder == "" {
			t.Errorf("level %d has no resting order", lvl.Index)
			continue
		}
		resting, ok := led.Order(lvl.OpenOrder)
		if !ok {
			t.Errorf("level %d order %s missing from ledger", lvl.Index, lvl.OpenOrder)
			continue
		}
		wantSide := order.SideSell
		if lvl.Price < 42500.50 {
			wantSide = order.SideBuy
		}
		if resting.Side != wantSide {
			t.Errorf("level %d at %v: expected %s, got %s", lvl.Index, lvl.Price, wantSide, resting.Side)
		}
		if resting.Price != lvl.Price {
			t.Errorf("level %d: order price %v does not match level %v", lvl.Index, resting.Price, lvl.Price)
		}
	}

	rec, ok := led.Strategy(id)
	if !ok {
		t.Fatal("grid not registered in ledger")
	}
	if len(rec.Children) != 6 {
		t.Errorf("expected 6 children, got %d", len(rec.Children))
	}
}

func TestEngineRebalance_FillFlipsSideAtSameLevel(t *testing.T) {
	sim := gateway.NewSimulator(nil)
	engine, led := newTestEngine(sim)
	ctx := context.Background()

	id, err := engine.Start(ctx, "BTCUSDT", 40000, 45000, 5, 0.05, "")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer func() { _ = engine.Stop(ctx, id) }()

	snap, _ := engine.Status(id)
	buyLevel := snap.Levels[0]
	if buyLevel.NextSide != order.SideBuy {
		t.Fatalf("expected level 0 to rest a BUY, got %s", buyLevel.NextSide)
	}

	// 以低于价位的价格成交，贡献为正。
	if err := sim.FillOrder(buyLevel.OpenOrder, 39990); err != nil {
		t.Fatalf("FillOrder returned error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var rebalanced Level
	for {
		snap, err := engine.Status(id)
		if err != nil {
			t.Fatalf("Status returned error: %v", err)
		}
		rebalanced = snap.Levels[0]
		if rebalanced.Cycles == 1 && rebalanced.OpenOrder != "" && rebalanced.OpenOrder != buyLevel.OpenOrder {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("level never rebalanced: %+v", rebalanced)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if rebalanced.NextSide != order.SideSell {
		t.Errorf("expected replacement SELL order, got %s", rebalanced.NextSide)
	}
	replacement, ok := led.Order(rebalanced.OpenOrder)
	if !ok {
		t.Fatal("replacement order missing from ledger")
	}
	if replacement.Side != order.SideSell || replacement.Price != rebalanced.Price {
		t.Errorf("unexpected replacement: %s @ %v", replacement.Side, replacement.Price)
	}

	wantPnL := (40000 - 39990) * 0.01
	if diff := rebalanced.RealizedPnL - wantPnL; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected pnl contribution %v, got %v", wantPnL, rebalanced.RealizedPnL)
	}

	full, _ := engine.Status(id)
	if diff := full.TotalPnL - wantPnL; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected total pnl %v, got %v", wantPnL, full.TotalPnL)
	}
}

func TestEngineStop_CancelsRestingOrders(t *testing.T) {
	sim := gateway.NewSimulator(nil)
	engine, led := newTestEngine(sim)
	ctx := context.Background()

	id, err := engine.Start(ctx, "BTCUSDT", 40000, 45000, 5, 0.05, "")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if err := engine.Stop(ctx, id); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	if open := sim.OpenOrders("BTCUSDT"); len(open) != 0 {
		t.Errorf("expected no resting orders after stop, got %v", open)
	}

	snap, err := engine.Status(id)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if snap.Status != strategy.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", snap.Status)
	}
	rec, _ := led.Strategy(id)
	if rec.Status != strategy.StatusCancelled {
		t.Errorf("expected ledger strategy CANCELLED, got %s", rec.Status)
	}

	// 已停止的策略不允许再次停止。
	err = engine.Stop(ctx, id)
	var serr *strategy.StateError
	if !errors.As(err, &serr) {
		t.Errorf("expected *strategy.StateError on second stop, got %v", err)
	}
}

// holdSubmitGateway 可以让下一次提交停在途中，直到测试放行。
type holdSubmitGateway struct {
	*gateway.Simulator
	mu      sync.Mutex
	hold    bool
	entered chan struct{}
	release chan struct{}
}

func (g *holdSubmitGateway) SubmitOrder(ctx context.Context, req gateway.Request) (gateway.Ack, error) {
	g.mu.Lock()
	hold := g.hold
	g.hold = false
	g.mu.Unlock()
	if hold {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.Simulator.SubmitOrder(ctx, req)
}

func (g *holdSubmitGateway) holdNext() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hold = true
}

func TestEngineStop_SweepsOrderPlacedByInFlightRebalance(t *testing.T) {
	gw := &holdSubmitGateway{
		Simulator: gateway.NewSimulator(nil),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	led := ledger.New(nil, nil)
	exec := execution.NewExecutor(gw, led, order.NewValidator(order.DefaultLimits()), nil)
	engine := NewEngine(exec, gw, led, 10*time.Millisecond, nil)
	ctx := context.Background()

	id, err := engine.Start(ctx, "BTCUSDT", 40000, 45000, 5, 0.05, "")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	snap, _ := engine.Status(id)
	filledOrder := snap.Levels[0].OpenOrder

	// 成交触发再平衡，其反向挂单停在网关途中。
	gw.holdNext()
	if err := gw.FillOrder(filledOrder, 40000); err != nil {
		t.Fatalf("FillOrder returned error: %v", err)
	}
	<-gw.entered

	stopErr := make(chan error, 1)
	go func() { stopErr <- engine.Stop(ctx, id) }()

	// Stop 必须等待监控协程退出后再收集挂单，
	// 在途的再平衡挂单放行后也要被撤销。
	time.Sleep(20 * time.Millisecond)
	close(gw.release)

	if err := <-stopErr; err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	if open := gw.OpenOrders("BTCUSDT"); len(open) != 0 {
		t.Errorf("expected no resting orders after stop, got %v", open)
	}
	final, err := engine.Status(id)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if final.Status != strategy.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", final.Status)
	}
}

func TestEngineStart_ValidationFailure(t *testing.T) {
	sim := gateway.NewSimulator(nil)
	engine, _ := newTestEngine(sim)

	_, err := engine.Start(context.Background(), "BTCUSDT", 45000, 40000, 5, 0.05, "")
	var verr *order.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for inverted bounds, got %v", err)
	}
}
