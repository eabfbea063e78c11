package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lvdashuaibi/planningpoker/internal/model"
	"github.com/lvdashuaibi/planningpoker/internal/repository"
	"github.com/lvdashuaibi/planningpoker/internal/scale"
	"github.com/lvdashuaibi/planningpoker/internal/session"
	"golang.org/x/crypto/bcrypt"
)

// SessionCache 会话聚合视图缓存
type SessionCache interface {
	GetSessionDetail(sessionID string) (*model.SessionDetail, bool, error)
	SetSessionDetail(detail *model.SessionDetail) error
	DeleteSessionDetail(sessionID string) error
}

// Notifier 会话删除后的在线连接通知
type Notifier interface {
	NotifySessionDeleted(sessionID string)
}

// EventPublisher 会话通知事件发布接口
type EventPublisher interface {
	SendSessionEvent(event *model.SessionEvent) error
}

type SessionService struct {
	store      repository.Store
	cache      SessionCache
	machines   *session.Manager
	producer   EventPublisher
	notifier   Notifier
	maxStories int
}

func NewSessionService(
	store repository.Store,
	cache SessionCache,
	machines *session.Manager,
	producer EventPublisher,
	notifier Notifier,
	maxStories int,
) *SessionService {
	return &SessionService{
		store:      store,
		cache:      cache,
		machines:   machines,
		producer:   producer,
		notifier:   notifier,
		maxStories: maxStories,
	}
}

// StoryInput 创建会话时的故事条目
type StoryInput struct {
	Title       string
	Description string
}

// CreateSessionInput 创建会话入参
type CreateSessionInput struct {
	Name             string
	HostID           string
	ScaleSpec        string
	NotifyOnAllVoted bool
	Stories          []StoryInput
}

// CreateSessionResult 创建会话结果。
// HostSecret 仅在创建时返回一次，服务端只保存其哈希。
type CreateSessionResult struct {
	Session    *model.Session
	Stories    []*model.Story
	HostSecret string
}

// CreateSession 创建估点会话：首个故事直接进入投票中
func (s *SessionService) CreateSession(input *CreateSessionInput) (*CreateSessionResult, error) {
	if _, err := s.store.GetUser(input.HostID); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, model.ValidationError("会话名称不能为空")
	}
	if len(input.Stories) == 0 {
		return nil, model.ValidationError("会话至少需要一个故事")
	}
	if len(input.Stories) > s.maxStories {
		return nil, model.ValidationError("故事数量超过上限 %d", s.maxStories)
	}

	secret, err := newHostSecret()
	if err != nil {
		return nil, fmt.Errorf("生成主持凭据失败: %w", err)
	}
	secretHash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("生成主持凭据哈希失败: %w", err)
	}

	sess := &model.Session{
		ID:               uuid.NewString(),
		Name:             name,
		HostID:           input.HostID,
		Scale:            scale.Resolve(input.ScaleSpec),
		NotifyOnAllVoted: input.NotifyOnAllVoted,
		CreatedAt:        time.Now(),
	}

	stories := make([]*model.Story, 0, len(input.Stories))
	for i, item := range input.Stories {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			return nil, model.ValidationError("故事标题不能为空")
		}
		status := model.StoryStatusPending
		if i == 0 {
			status = model.StoryStatusActive
		}
		stories = append(stories, &model.Story{
			ID:          uuid.NewString(),
			SessionID:   sess.ID,
			Title:       title,
			Description: item.Description,
			OrderIndex:  i + 1,
			Status:      status,
		})
	}

	if err := s.store.CreateSession(sess, string(secretHash), stories); err != nil {
		return nil, fmt.Errorf("创建会话失败: %w", err)
	}

	return &CreateSessionResult{
		Session:    sess,
		Stories:    stories,
		HostSecret: secret,
	}, nil
}

// MySessions 主持人名下的全部会话
func (s *SessionService) MySessions(hostID string) ([]*model.Session, error) {
	if _, err := s.store.GetUser(hostID); err != nil {
		return nil, err
	}
	sessions, err := s.store.ListSessionsByHost(hostID)
	if err != nil {
		return nil, fmt.Errorf("查询主持人会话失败: %w", err)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// GetSession 查询会话聚合视图，先查缓存，未命中再回源数据库
func (s *SessionService) GetSession(sessionID string) (*model.SessionDetail, error) {
	detail, found, err := s.cache.GetSessionDetail(sessionID)
	if err != nil {
		log.Printf("读取会话 %s 缓存失败: %v", sessionID, err)
	}
	if found && detail != nil {
		return detail, nil
	}

	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	stories, err := s.store.GetStories(sessionID)
	if err != nil {
		return nil, fmt.Errorf("查询会话故事失败: %w", err)
	}
	sort.Slice(stories, func(i, j int) bool {
		return stories[i].OrderIndex < stories[j].OrderIndex
	})
	participants, err := s.store.GetParticipants(sessionID)
	if err != nil {
		return nil, fmt.Errorf("查询会话参与者失败: %w", err)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].CreatedAt.Before(participants[j].CreatedAt)
	})

	detail = &model.SessionDetail{
		Session:      sess,
		Stories:      stories,
		Participants: participants,
	}
	if err := s.cache.SetSessionDetail(detail); err != nil {
		log.Printf("写入会话 %s 缓存失败: %v", sessionID, err)
	}
	return detail, nil
}

// CheckSession 检查会话是否存在
func (s *SessionService) CheckSession(sessionID string) (bool, error) {
	_, err := s.store.GetSession(sessionID)
	if err != nil {
		if model.IsKind(err, model.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// JoinSession 以别名加入会话，返回参与者ID，之后凭该ID建立实时连接
func (s *SessionService) JoinSession(sessionID, alias string) (string, error) {
	var participantID string
	err := s.machines.WithSession(sessionID, func(m *session.Machine) error {
		result, err := m.Join(alias)
		if err != nil {
			return err
		}
		participantID = result.Participant.ID
		return nil
	})
	if err != nil {
		return "", err
	}

	// 参与者变了，聚合视图缓存失效
	if err := s.cache.DeleteSessionDetail(sessionID); err != nil {
		log.Printf("删除会话 %s 缓存失败: %v", sessionID, err)
	}
	return participantID, nil
}

// DeleteSession 主持人删除会话：先凭据校验，再落库删除、清缓存、通知在线连接
func (s *SessionService) DeleteSession(sessionID, hostID, credential string) error {
	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if sess.HostID != hostID {
		return model.ForbiddenError("用户 %s 不是会话 %s 的主持人", hostID, sessionID)
	}
	secretHash, err := s.store.GetSessionSecretHash(sessionID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(credential)) != nil {
		return model.ForbiddenError("主持凭据无效")
	}

	if err := s.store.DeleteSession(sessionID); err != nil {
		return fmt.Errorf("删除会话失败: %w", err)
	}
	if err := s.cache.DeleteSessionDetail(sessionID); err != nil {
		log.Printf("删除会话 %s 缓存失败: %v", sessionID, err)
	}
	s.machines.Evict(sessionID)
	if s.notifier != nil {
		s.notifier.NotifySessionDeleted(sessionID)
	}
	if s.producer != nil {
		event := &model.SessionEvent{
			Type:       model.EventSessionDeleted,
			SessionID:  sessionID,
			OccurredAt: time.Now(),
		}
		if err := s.producer.SendSessionEvent(event); err != nil {
			log.Printf("发布会话删除事件失败: %v", err)
		}
	}
	return nil
}

// ProcessSessionEvent Kafka消费端处理器：把会话事件落到事件日志表
func (s *SessionService) ProcessSessionEvent(event *model.SessionEvent) error {
	if err := s.store.SaveSessionEvent(event); err != nil {
		return fmt.Errorf("写入会话事件日志失败: %w", err)
	}
	return nil
}

// newHostSecret 随机主持凭据，十六进制32字符
func newHostSecret() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
