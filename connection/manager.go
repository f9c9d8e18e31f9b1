// Package connection 维护每个 provider 的连接状态机：
//
//	disconnected → connecting → connected
//	connected    → disconnected（close/drop）
//	connecting   → disconnected（连接失败）
//
// 等待者以广播方式释放：一次 MarkConnected 关闭当前代的 ready 通道，
// 所有阻塞在该通道上的等待者同时返回，等待者之间不保证先后顺序。
package connection

import (
	"context"
	"sync"
	"time"

	"ormkit/errors"
	"ormkit/logging"
)

// DefaultWaitTimeout WaitUntilConnected 的默认超时
const DefaultWaitTimeout = 5 * time.Second

// ProviderName provider 的类型化名称
type ProviderName string

// State 连接状态
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConnectFunc 实际建立连接的函数
type ConnectFunc func(ctx context.Context) error

type providerState struct {
	state State
	// ready 在 MarkConnected 时被关闭并置空；nil 表示当前没有等待者
	ready chan struct{}
}

// Manager 连接状态管理器，所有状态变更都在互斥锁内一步完成
type Manager struct {
	mu        sync.Mutex
	providers map[ProviderName]*providerState
	logger    logging.Logger
}

// NewManager 创建连接管理器
func NewManager() *Manager {
	return &Manager{
		providers: make(map[ProviderName]*providerState),
		logger:    logging.Component("connection"),
	}
}

// getLocked 取得或创建 provider 状态（需持锁）
func (m *Manager) getLocked(name ProviderName) *providerState {
	ps, ok := m.providers[name]
	if !ok {
		ps = &providerState{state: StateDisconnected}
		m.providers[name] = ps
	}
	return ps
}

// waiterLocked 返回当前代的 ready 通道（需持锁）
func (ps *providerState) waiterLocked() chan struct{} {
	if ps.ready == nil {
		ps.ready = make(chan struct{})
	}
	return ps.ready
}

// MarkConnecting 标记为连接中，已处于 connecting 时为空操作
func (m *Manager) MarkConnecting(name ProviderName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps := m.getLocked(name)
	if ps.state == StateConnecting {
		return
	}
	ps.state = StateConnecting
	m.logger.Debug(context.Background(), "provider connecting", logging.String("provider", string(name)))
}

// MarkConnected 标记为已连接，并一次性释放所有等待者
func (m *Manager) MarkConnected(name ProviderName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps := m.getLocked(name)
	ps.state = StateConnected
	if ps.ready != nil {
		close(ps.ready)
		ps.ready = nil
	}
	m.logger.Debug(context.Background(), "provider connected", logging.String("provider", string(name)))
}

// MarkDisconnected 标记为未连接。
// 不清理等待者：断开期间仍在等待的调用应由各自的超时结束。
func (m *Manager) MarkDisconnected(name ProviderName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps := m.getLocked(name)
	ps.state = StateDisconnected
	m.logger.Debug(context.Background(), "provider disconnected", logging.String("provider", string(name)))
}

// Forget 删除 provider 的全部状态（drop 之后调用）
func (m *Manager) Forget(name ProviderName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.providers, name)
}

// State 返回当前状态
func (m *Manager) State(name ProviderName) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps, ok := m.providers[name]; ok {
		return ps.state
	}
	return StateDisconnected
}

func (m *Manager) IsConnected(name ProviderName) bool  { return m.State(name) == StateConnected }
func (m *Manager) IsConnecting(name ProviderName) bool { return m.State(name) == StateConnecting }

// WaitUntilConnected 等待 provider 进入 connected，timeout <= 0 时使用默认 5s。
// 超时只结束本次等待，不影响正在进行的连接尝试。
func (m *Manager) WaitUntilConnected(ctx context.Context, name ProviderName, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	m.mu.Lock()
	ps := m.getLocked(name)
	if ps.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	ready := ps.waiterLocked()
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case <-timer.C:
		m.logger.Warn(ctx, "wait for provider timed out",
			logging.String("provider", string(name)),
			logging.Duration("timeout", timeout))
		return errors.NewConnectionTimeout(string(name), timeout.Milliseconds())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectIfNotConnected 确保 provider 已连接。
//
//   - 已连接：立即返回；
//   - 连接中：与 WaitUntilConnected 共用同一等待机制；
//   - 否则：由本次调用发起连接，失败时标记为未连接并返回 ConnectionError。
//
// 并发调用时 connect 只会被执行一次。
func (m *Manager) ConnectIfNotConnected(ctx context.Context, name ProviderName, connect ConnectFunc) error {
	m.mu.Lock()
	ps := m.getLocked(name)
	switch ps.state {
	case StateConnected:
		m.mu.Unlock()
		return nil
	case StateConnecting:
		m.mu.Unlock()
		return m.WaitUntilConnected(ctx, name, DefaultWaitTimeout)
	}
	ps.state = StateConnecting
	m.mu.Unlock()

	m.logger.Debug(ctx, "provider connecting", logging.String("provider", string(name)))
	if err := connect(ctx); err != nil {
		m.MarkDisconnected(name)
		return errors.WrapConnection(ctx, err, string(name))
	}
	m.MarkConnected(name)
	return nil
}

// Snapshot 返回所有 provider 的状态快照
func (m *Manager) Snapshot() map[ProviderName]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[ProviderName]State, len(m.providers))
	for name, ps := range m.providers {
		out[name] = ps.state
	}
	return out
}
