package lock

import (
	"fmt"
	"sync"
	"time"
)

// LocalLock 进程内按名字互斥的锁管理器。
// 每个锁名对应一个容量为1的通道，发送成功即持有锁；
// 不同锁名之间互不影响，因此各会话的操作可以并行。
type LocalLock struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalLock 创建进程内锁管理器
func NewLocalLock() *LocalLock {
	return &LocalLock{
		slots: make(map[string]chan struct{}),
	}
}

func (l *LocalLock) slot(lockName string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[lockName]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[lockName] = slot
	}
	return slot
}

// AcquireLock 获取锁，超时未获取到时返回false
func (l *LocalLock) AcquireLock(lockName string, timeout time.Duration) (bool, error) {
	slot := l.slot(lockName)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case slot <- struct{}{}:
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

// ReleaseLock 释放锁
func (l *LocalLock) ReleaseLock(lockName string) error {
	l.mu.Lock()
	slot, ok := l.slots[lockName]
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("锁 %s 不存在", lockName)
	}

	select {
	case <-slot:
		return nil
	default:
		return fmt.Errorf("锁 %s 未被持有", lockName)
	}
}

// ForgetLock 回收锁名对应的槽位，避免槽位表随锁名只增不减。
// 锁仍被持有时保留槽位，持有者的释放语义不受影响。
func (l *LocalLock) ForgetLock(lockName string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[lockName]
	if !ok {
		return
	}
	select {
	case slot <- struct{}{}:
		// 能立刻占到说明无人持有，安全删除
		delete(l.slots, lockName)
	default:
	}
}

// ReleaseAllLocks 释放所有当前被持有的锁
func (l *LocalLock) ReleaseAllLocks() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, slot := range l.slots {
		select {
		case <-slot:
		default:
		}
	}
}

// Close 关闭锁管理器
func (l *LocalLock) Close() error {
	l.ReleaseAllLocks()
	return nil
}
