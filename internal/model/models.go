package model

import (
	"time"
)

// StoryStatus 故事生命周期状态
type StoryStatus string

const (
	StoryStatusPending   StoryStatus = "pending"
	StoryStatusActive    StoryStatus = "active"
	StoryStatusCompleted StoryStatus = "completed"
	StoryStatusSkipped   StoryStatus = "skipped"
)

// User 主持人账号模型
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Session 估点会话模型
type Session struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	HostID           string    `json:"hostId"`
	Scale            []int     `json:"scale"`
	NotifyOnAllVoted bool      `json:"notifyOnAllVoted"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Story 待估点的故事模型
type Story struct {
	ID            string      `json:"id"`
	SessionID     string      `json:"sessionId"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	FinalEstimate *int        `json:"finalEstimate"`
	OrderIndex    int         `json:"orderIndex"`
	Status        StoryStatus `json:"status"`
}

// IsPending 故事是否尚未开始
func (s *Story) IsPending() bool {
	return s.Status == StoryStatusPending
}

// IsActive 故事是否为当前投票中的故事
func (s *Story) IsActive() bool {
	return s.Status == StoryStatusActive
}

// IsCompleted 故事是否已确认估点
func (s *Story) IsCompleted() bool {
	return s.Status == StoryStatusCompleted
}

// CanAcceptVotes 故事当前是否接受投票
func (s *Story) CanAcceptVotes() bool {
	return s.Status == StoryStatusActive
}

// Participant 会话参与者模型
type Participant struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Alias     string    `json:"alias"`
	Connected bool      `json:"connected"`
	CreatedAt time.Time `json:"createdAt"`
}

// Vote (参与者, 故事) 对应的一票
type Vote struct {
	ParticipantID string    `json:"participantId"`
	StoryID       string    `json:"storyId"`
	Value         int       `json:"value"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// SessionDetail 会话及其从属实体的聚合视图，用于缓存和查询接口
type SessionDetail struct {
	Session      *Session       `json:"session"`
	Stories      []*Story       `json:"stories"`
	Participants []*Participant `json:"participants"`
}

// Kafka会话事件类型
const (
	EventAllVoted         = "all_voted"
	EventStoryCompleted   = "story_completed"
	EventStorySkipped     = "story_skipped"
	EventSessionCompleted = "session_completed"
	EventSessionDeleted   = "session_deleted"
)

// SessionEvent Kafka会话通知事件
type SessionEvent struct {
	Type          string    `json:"type"`
	SessionID     string    `json:"sessionId"`
	StoryID       string    `json:"storyId,omitempty"`
	FinalEstimate *int      `json:"finalEstimate,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}
