package lock

import (
	"time"
)

// Lock 互斥锁接口，用于串行化同一会话上的所有变更操作
type Lock interface {
	// AcquireLock 获取锁
	// 返回值：bool表示是否在超时前成功获取锁，error表示获取过程中的错误
	AcquireLock(lockName string, timeout time.Duration) (bool, error)

	// ReleaseLock 释放锁
	// 返回值：error表示释放过程中的错误
	ReleaseLock(lockName string) error

	// ReleaseAllLocks 释放所有持有的锁
	ReleaseAllLocks()

	// ForgetLock 回收锁名对应的资源，锁仍被持有时不回收
	ForgetLock(lockName string)

	// Close 关闭锁管理器
	// 返回值：error表示关闭过程中的错误
	Close() error
}
