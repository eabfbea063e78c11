package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/lvdashuaibi/planningpoker/internal/lock"
	"github.com/lvdashuaibi/planningpoker/internal/repository"
)

const sessionLockPrefix = "session:"

// Manager 状态机管理器。
// 以会话ID为粒度加锁，同一会话的变更串行执行，不同会话互不影响；
// 状态机按需从存储水合，会话删除后逐出。
type Manager struct {
	mu       sync.Mutex
	machines map[string]*Machine

	store           repository.Store
	locker          lock.Lock
	lockTimeout     time.Duration
	maxParticipants int
	maxAliasLength  int
}

// NewManager 创建状态机管理器
func NewManager(store repository.Store, locker lock.Lock, lockTimeout time.Duration, maxParticipants, maxAliasLength int) *Manager {
	return &Manager{
		machines:        make(map[string]*Machine),
		store:           store,
		locker:          locker,
		lockTimeout:     lockTimeout,
		maxParticipants: maxParticipants,
		maxAliasLength:  maxAliasLength,
	}
}

// WithSession 在会话锁内执行fn。
// 检查-再执行式的转移逻辑依赖这里的串行化保证。
func (m *Manager) WithSession(sessionID string, fn func(*Machine) error) error {
	lockName := sessionLockPrefix + sessionID
	acquired, err := m.locker.AcquireLock(lockName, m.lockTimeout)
	if err != nil {
		return fmt.Errorf("获取会话锁失败: %w", err)
	}
	if !acquired {
		return fmt.Errorf("获取会话 %s 的锁超时", sessionID)
	}
	defer m.locker.ReleaseLock(lockName)

	machine, err := m.machine(sessionID)
	if err != nil {
		return err
	}

	return fn(machine)
}

// Evict 移除会话的状态机并回收其锁槽位，会话删除后调用
func (m *Manager) Evict(sessionID string) {
	m.mu.Lock()
	delete(m.machines, sessionID)
	m.mu.Unlock()
	m.locker.ForgetLock(sessionLockPrefix + sessionID)
}

// machine 获取或水合状态机，调用方必须已持有会话锁
func (m *Manager) machine(sessionID string) (*Machine, error) {
	m.mu.Lock()
	machine, ok := m.machines[sessionID]
	m.mu.Unlock()
	if ok {
		return machine, nil
	}

	// 水合期间只持有会话锁，不阻塞其它会话
	machine, err := hydrate(sessionID, m.store, m.maxParticipants, m.maxAliasLength)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.machines[sessionID] = machine
	m.mu.Unlock()
	return machine, nil
}
