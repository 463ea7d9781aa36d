// Package repository 设定服务的数据访问接口，实现位于 infrastructure/persistence
package repository

import "context"

// TxKey 事务句柄在 context 中的键
type TxKey struct{}

// Transactor 在同一事务内执行 fn，fn 内的仓储调用经 ctx 复用该事务
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
