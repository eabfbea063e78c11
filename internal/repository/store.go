package repository

import (
	"github.com/lvdashuaibi/planningpoker/internal/model"
)

// Store 实体存储接口，约束核心所依赖的持久化能力。
// MySQLRepository为生产实现，测试中以内存伪实现替代。
type Store interface {
	// GetUser 查询主持人账号
	GetUser(userID string) (*model.User, error)

	// CreateSession 在一个事务内创建会话及其全部故事
	CreateSession(session *model.Session, secretHash string, stories []*model.Story) error

	// GetSession 查询单个会话
	GetSession(sessionID string) (*model.Session, error)

	// GetSessionSecretHash 查询会话主持凭据哈希
	GetSessionSecretHash(sessionID string) (string, error)

	// ListSessionsByHost 查询主持人名下的所有会话
	ListSessionsByHost(hostID string) ([]*model.Session, error)

	// DeleteSession 删除会话并级联删除其故事、参与者与投票
	DeleteSession(sessionID string) error

	// GetStories 按顺序索引升序返回会话的全部故事
	GetStories(sessionID string) ([]*model.Story, error)

	// GetParticipants 返回会话的全部参与者
	GetParticipants(sessionID string) ([]*model.Participant, error)

	// CreateParticipant 创建参与者
	CreateParticipant(participant *model.Participant) error

	// SetParticipantConnected 更新参与者在线标志
	SetParticipantConnected(participantID string, connected bool) error

	// GetSessionVotes 返回会话内全部故事的投票
	GetSessionVotes(sessionID string) ([]*model.Vote, error)

	// UpsertVote 写入一票，同一(参与者,故事)重复提交覆盖旧值
	UpsertVote(vote *model.Vote) error

	// DeleteStoryVotes 删除某故事的全部投票
	DeleteStoryVotes(storyID string) error

	// AdvanceStory 在一个事务内落盘当前故事的终态并激活下一个故事。
	// current携带已更新的状态与最终估点；nextStoryID为空表示没有后续故事；
	// deleteVotes为true时同时删除当前故事的投票（跳过场景）。
	AdvanceStory(current *model.Story, nextStoryID string, deleteVotes bool) error

	// SaveSessionEvent 记录会话通知事件日志
	SaveSessionEvent(event *model.SessionEvent) error
}
