// Package ledger 维护会话内全部订单与策略的进程级台账。
// 台账是唯一被多个并发任务共同修改的结构，所有变更都在
// 单一互斥锁内完成。
package ledger

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"futures-trader/internal/order"
	"futures-trader/internal/strategy"
)

// StrategyRecord 为台账中的策略登记项。
type StrategyRecord struct {
	ID        string
	Kind      strategy.Kind
	Symbol    string
	Status    strategy.Status
	Children  []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Journal 在台账提交变更后接收通知，用于落盘会话历史。
// 回调在台账锁外执行，但按提交顺序串行送达；失败只记录日志，
// 不回滚台账。
type Journal interface {
	RecordOrder(o order.Order) error
	RecordStrategy(rec StrategyRecord) error
}

// Ledger 为进程内订单/策略存储。创建即追加，状态更新即修改。
type Ledger struct {
	mu         sync.Mutex
	orders     map[string]*order.Order
	orderIDs   []string
	strategies map[string]*StrategyRecord
	stratIDs   []string

	// journalMu 在释放 mu 之前获取，保证通知顺序与提交顺序一致。
	journalMu sync.Mutex
	journal   Journal
	logger    *zap.Logger
}

// New 创建空台账。journal 可以为 nil。
func New(journal Journal, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		orders:     make(map[string]*order.Order),
		strategies: make(map[string]*StrategyRecord),
		journal:    journal,
		logger:     logger,
	}
}

// InsertOrder 登记一笔新订单。
func (l *Ledger) InsertOrder(o order.Order) error {
	l.mu.Lock()
	if _, exists := l.orders[o.ID]; exists {
		l.mu.Unlock()
		return fmt.Errorf("ledger: 订单 %s 已存在", o.ID)
	}
	stored := o
	l.orders[o.ID] = &stored
	l.orderIDs = append(l.orderIDs, o.ID)
	snapshot := stored

	l.commitOrder(snapshot)
	return nil
}

// UpdateOrder 在锁内对订单应用变更函数并刷新更新时间。
func (l *Ledger) UpdateOrder(id string, mutate func(*order.Order)) (order.Order, error) {
	l.mu.Lock()
	stored, ok := l.orders[id]
	if !ok {
		l.mu.Unlock()
		return order.Order{}, fmt.Errorf("ledger: 订单 %s 不存在", id)
	}
	mutate(stored)
	stored.UpdatedAt = time.Now().UTC()
	snapshot := *stored

	l.commitOrder(snapshot)
	return snapshot, nil
}

// ApplyAck 将网关回执写入订单记录。
func (l *Ledger) ApplyAck(id string, status order.Status, filledQty, avgPrice float64) (order.Order, error) {
	return l.UpdateOrder(id, func(o *order.Order) {
		o.Status = status
		if filledQty > 0 {
			o.FilledQty = filledQty
		}
		if avgPrice > 0 {
			o.AvgPrice = avgPrice
		}
	})
}

// Order 返回订单副本。
func (l *Ledger) Order(id string) (order.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stored, ok := l.orders[id]
	if !ok {
		return order.Order{}, false
	}
	return *stored, true
}

// Orders 按创建顺序返回全部订单副本。
func (l *Ledger) Orders() []order.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]order.Order, 0, len(l.orderIDs))
	for _, id := range l.orderIDs {
		out = append(out, *l.orders[id])
	}
	return out
}

// RegisterStrategy 登记一个新策略。
func (l *Ledger) RegisterStrategy(rec StrategyRecord) error {
	l.mu.Lock()
	if _, exists := l.strategies[rec.ID]; exists {
		l.mu.Unlock()
		return fmt.Errorf("ledger: 策略 %s 已存在", rec.ID)
	}
	stored := rec
	stored.Children = append([]string(nil), rec.Children...)
	l.strategies[rec.ID] = &stored
	l.stratIDs = append(l.stratIDs, rec.ID)
	snapshot := cloneStrategy(&stored)

	l.commitStrategy(snapshot)
	return nil
}

// UpdateStrategyStatus 推进策略状态，终态后的迁移被拒绝。
func (l *Ledger) UpdateStrategyStatus(id string, next strategy.Status) (StrategyRecord, error) {
	l.mu.Lock()
	stored, ok := l.strategies[id]
	if !ok {
		l.mu.Unlock()
		return StrategyRecord{}, fmt.Errorf("ledger: 策略 %s 不存在", id)
	}
	if !stored.Status.CanTransition(next) {
		status := stored.Status
		l.mu.Unlock()
		return StrategyRecord{}, &strategy.StateError{ID: id, Status: status, Op: "transition to " + string(next)}
	}
	stored.Status = next
	stored.UpdatedAt = time.Now().UTC()
	snapshot := cloneStrategy(stored)

	l.commitStrategy(snapshot)
	return snapshot, nil
}

// AppendChild 向策略追加子订单号。子订单列表只增不减。
func (l *Ledger) AppendChild(id string, childOrderID string) error {
	l.mu.Lock()
	stored, ok := l.strategies[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("ledger: 策略 %s 不存在", id)
	}
	stored.Children = append(stored.Children, childOrderID)
	stored.UpdatedAt = time.Now().UTC()
	snapshot := cloneStrategy(stored)

	l.commitStrategy(snapshot)
	return nil
}

// Strategy 返回策略登记项副本。
func (l *Ledger) Strategy(id string) (StrategyRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stored, ok := l.strategies[id]
	if !ok {
		return StrategyRecord{}, false
	}
	return cloneStrategy(stored), true
}

// Strategies 按创建顺序返回全部策略副本。
func (l *Ledger) Strategies() []StrategyRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StrategyRecord, 0, len(l.stratIDs))
	for _, id := range l.stratIDs {
		out = append(out, cloneStrategy(l.strategies[id]))
	}
	return out
}

// commitOrder 由持有 mu 的调用方调用：先取 journal 锁再释放 mu，
// 后来的提交在 journal 锁上排队，通知顺序因此与提交顺序一致。
func (l *Ledger) commitOrder(o order.Order) {
	l.journalMu.Lock()
	l.mu.Unlock()
	defer l.journalMu.Unlock()

	if l.journal == nil {
		return
	}
	if err := l.journal.RecordOrder(o); err != nil {
		l.logger.Warn("订单历史落盘失败", zap.String("orderId", o.ID), zap.Error(err))
	}
}

// commitStrategy 与 commitOrder 遵循相同的移交协议。
func (l *Ledger) commitStrategy(rec StrategyRecord) {
	l.journalMu.Lock()
	l.mu.Unlock()
	defer l.journalMu.Unlock()

	if l.journal == nil {
		return
	}
	if err := l.journal.RecordStrategy(rec); err != nil {
		l.logger.Warn("策略历史落盘失败", zap.String("strategyId", rec.ID), zap.Error(err))
	}
}

func cloneStrategy(rec *StrategyRecord) StrategyRecord {
	out := *rec
	out.Children = append([]string(nil), rec.Children...)
	return out
}
