package model

import (
	"context"
	"fmt"
	"sync"

	"ormkit/data/orm"
	"ormkit/errors"
	"ormkit/logging"
	"ormkit/messaging"
)

// Transaction provider 上的事务句柄。
//
// 放入选项 $transaction 即可让任意查询参与事务；事务内写入产生的生命周期事件
// 与 AfterCommit 回调都在提交成功后才执行，回滚时丢弃。
type Transaction struct {
	ctx      *Context
	provider string
	tx       orm.ITx

	mu          sync.Mutex
	done        bool
	afterCommit []func(ctx context.Context)
	pending     []messaging.IMessage
	touched     map[*Engine]struct{}
}

// ID 事务 id
func (t *Transaction) ID() string { return t.tx.ID() }

// Provider 所属 provider
func (t *Transaction) Provider() string { return t.provider }

// NativeTx 底层事务，实现 query.TxCarrier
func (t *Transaction) NativeTx() orm.ITx { return t.tx }

// AfterCommit 注册提交成功后执行的回调，按注册顺序执行
func (t *Transaction) AfterCommit(fn func(ctx context.Context)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.afterCommit = append(t.afterCommit, fn)
}

// deferWrite 记录事务内的写入：受影响的 Engine 在提交后再清一次缓存，事件延后发布
func (t *Transaction) deferWrite(e *Engine, msgs []messaging.IMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.touched == nil {
		t.touched = make(map[*Engine]struct{})
	}
	t.touched[e] = struct{}{}
	t.pending = append(t.pending, msgs...)
}

func (t *Transaction) finish() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errors.NewValidationError(fmt.Sprintf("事务 %s 已结束", t.tx.ID())).
			WithContext("tx", t.tx.ID())
	}
	t.done = true
	return nil
}

// Commit 提交事务
func (t *Transaction) Commit(ctx context.Context) error {
	if err := t.finish(); err != nil {
		return err
	}
	defer t.ctx.forgetTx(t.tx.ID())
	if err := t.tx.Commit(); err != nil {
		return errors.WrapPersistence(ctx, err, t.provider, "commit")
	}

	t.mu.Lock()
	touched, pending, callbacks := t.touched, t.pending, t.afterCommit
	t.touched, t.pending, t.afterCommit = nil, nil, nil
	t.mu.Unlock()

	for e := range touched {
		e.cache.Clear()
	}
	t.ctx.logger.Debug(ctx, "transaction committed",
		logging.String("provider", t.provider),
		logging.String("tx", t.tx.ID()),
		logging.Int("events", len(pending)))
	t.ctx.publish(ctx, pending)
	for _, fn := range callbacks {
		fn(ctx)
	}
	return nil
}

// Rollback 回滚事务，丢弃延后的事件与回调
func (t *Transaction) Rollback(ctx context.Context) error {
	if err := t.finish(); err != nil {
		return err
	}
	defer t.ctx.forgetTx(t.tx.ID())

	t.mu.Lock()
	touched := t.touched
	t.touched, t.pending, t.afterCommit = nil, nil, nil
	t.mu.Unlock()

	// 写入时清过的缓存可能已被事务外的读取重新填入
	for e := range touched {
		e.cache.Clear()
	}
	if err := t.tx.Rollback(); err != nil {
		return errors.WrapPersistence(ctx, err, t.provider, "rollback")
	}
	t.ctx.logger.Debug(ctx, "transaction rolled back",
		logging.String("provider", t.provider), logging.String("tx", t.tx.ID()))
	return nil
}
