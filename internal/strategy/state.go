// Package strategy 定义多步策略共享的状态机与错误类型。
package strategy

import "fmt"

// Kind 表示策略种类。
type Kind string

const (
	KindOCO  Kind = "OCO"
	KindTWAP Kind = "TWAP"
	KindGrid Kind = "GRID"
)

// Status 表示策略生命周期状态，终态后不可再变更。
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusActive    Status = "ACTIVE"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// IsTerminal 判断状态是否为终态。
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// CanTransition 保证策略状态单调前进：终态之后拒绝一切迁移。
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	return s != next
}

// StateError 表示在当前状态下不允许执行请求的操作。
type StateError struct {
	ID     string
	Status Status
	Op     string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("strategy: %s 状态为 %s, 不允许执行 %s", e.ID, e.Status, e.Op)
}
