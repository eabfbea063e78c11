package registry

import (
	"sync"
)

// Role 连接的角色
type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// Identity 连接绑定的身份记录
type Identity struct {
	SessionID     string
	Role          Role
	ParticipantID string // 角色为participant时有效
}

// Conn 可写连接句柄，由传输层实现
type Conn interface {
	WriteEvent(eventType string, payload interface{}) error
}

// Registry 连接注册表：连接句柄 -> 身份，会话 -> 连接集合。
// 注册表只管理映射关系，参与者在线标志的落盘由网关负责；
// 不同会话的连接操作互不干扰。
type Registry struct {
	mu       sync.RWMutex
	conns    map[Conn]Identity
	sessions map[string]map[Conn]struct{}
}

// New 创建连接注册表
func New() *Registry {
	return &Registry{
		conns:    make(map[Conn]Identity),
		sessions: make(map[string]map[Conn]struct{}),
	}
}

// Register 注册连接身份，同一连接重复注册时覆盖旧身份
func (r *Registry) Register(conn Conn, identity Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := r.conns[conn]; ok {
		r.removeFromSession(previous.SessionID, conn)
	}

	r.conns[conn] = identity
	sessionConns, ok := r.sessions[identity.SessionID]
	if !ok {
		sessionConns = make(map[Conn]struct{})
		r.sessions[identity.SessionID] = sessionConns
	}
	sessionConns[conn] = struct{}{}
}

// Deregister 注销连接，返回其身份记录
func (r *Registry) Deregister(conn Conn) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.conns[conn]
	if !ok {
		return Identity{}, false
	}

	delete(r.conns, conn)
	r.removeFromSession(identity.SessionID, conn)
	return identity, true
}

// Lookup 查询连接的身份
func (r *Registry) Lookup(conn Conn) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.conns[conn]
	return identity, ok
}

// SessionConns 返回会话全部连接的快照，广播前获取
func (r *Registry) SessionConns(sessionID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessionConns := r.sessions[sessionID]
	conns := make([]Conn, 0, len(sessionConns))
	for conn := range sessionConns {
		conns = append(conns, conn)
	}
	return conns
}

// ParticipantConnected 判断参与者当前是否有在线连接
func (r *Registry) ParticipantConnected(sessionID, participantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for conn := range r.sessions[sessionID] {
		identity := r.conns[conn]
		if identity.Role == RoleParticipant && identity.ParticipantID == participantID {
			return true
		}
	}
	return false
}

// DropSession 移除会话的全部连接登记，会话删除后调用，返回被移除的连接
func (r *Registry) DropSession(sessionID string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionConns := r.sessions[sessionID]
	conns := make([]Conn, 0, len(sessionConns))
	for conn := range sessionConns {
		conns = append(conns, conn)
		delete(r.conns, conn)
	}
	delete(r.sessions, sessionID)
	return conns
}

// removeFromSession 调用方必须持有写锁
func (r *Registry) removeFromSession(sessionID string, conn Conn) {
	sessionConns, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(sessionConns, conn)
	if len(sessionConns) == 0 {
		delete(r.sessions, sessionID)
	}
}
