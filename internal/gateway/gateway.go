package gateway

import (
	"encoding/json"
	"log"
	"time"

	"github.com/lvdashuaibi/planningpoker/internal/model"
	"github.com/lvdashuaibi/planningpoker/internal/registry"
	"github.com/lvdashuaibi/planningpoker/internal/repository"
	"github.com/lvdashuaibi/planningpoker/internal/session"
	"golang.org/x/crypto/bcrypt"
)

// EventPublisher 会话通知事件发布接口，生产实现为Kafka生产者
type EventPublisher interface {
	SendSessionEvent(event *model.SessionEvent) error
}

// SnapshotCache 会话聚合视图缓存的失效入口，生产实现为Redis仓库
type SnapshotCache interface {
	DeleteSessionDetail(sessionID string) error
}

// Gateway 消息驱动的协议处理器。
// 每个命令都遵循同一形状：校验身份与角色 → 状态机转移 → 广播结果事件；
// 校验失败只回复发送方错误，不产生任何广播。
type Gateway struct {
	machines *session.Manager
	registry *registry.Registry
	store    repository.Store
	cache    SnapshotCache  // 可为nil，聚合视图变更后失效
	events   EventPublisher // 可为nil，事件发布失败不影响命令本身
}

// NewGateway 创建会话网关
func NewGateway(machines *session.Manager, connRegistry *registry.Registry, store repository.Store, cache SnapshotCache, events EventPublisher) *Gateway {
	return &Gateway{
		machines: machines,
		registry: connRegistry,
		store:    store,
		cache:    cache,
		events:   events,
	}
}

// dispatch 客户端命令的唯一分发入口
func (g *Gateway) dispatch(peer *Peer, frame Frame) {
	switch frame.Type {
	case TypeJoinSession:
		var payload JoinSessionPayload
		if !decodePayload(peer, frame, &payload) {
			return
		}
		g.handleJoin(peer, payload)
	case TypeHostJoinSession:
		var payload HostJoinSessionPayload
		if !decodePayload(peer, frame, &payload) {
			return
		}
		g.handleHostJoin(peer, payload)
	case TypeVote:
		var payload VotePayload
		if !decodePayload(peer, frame, &payload) {
			return
		}
		g.handleVote(peer, payload)
	case TypeRevealVotes:
		var payload StoryActionPayload
		if !decodePayload(peer, frame, &payload) {
			return
		}
		g.handleReveal(peer, payload)
	case TypeRestartVote:
		var payload StoryActionPayload
		if !decodePayload(peer, frame, &payload) {
			return
		}
		g.handleRestart(peer, payload)
	case TypeSkipStory:
		var payload StoryActionPayload
		if !decodePayload(peer, frame, &payload) {
			return
		}
		g.handleSkip(peer, payload)
	case TypeNextStory:
		var payload NextStoryPayload
		if !decodePayload(peer, frame, &payload) {
			return
		}
		g.handleNext(peer, payload)
	default:
		g.writeError(peer, model.ValidationError("不支持的消息类型: %s", frame.Type))
	}
}

// handleJoin 参与者连接接入：将连接绑定到已存在的参与者身份。
// 参与者记录由加入接口预先创建，这里只负责上线与广播。
func (g *Gateway) handleJoin(peer *Peer, payload JoinSessionPayload) {
	if payload.SessionID == "" || payload.ParticipantID == "" {
		g.writeError(peer, model.ValidationError("sessionId和participantId不能为空"))
		return
	}

	err := g.machines.WithSession(payload.SessionID, func(m *session.Machine) error {
		// 在线检查与注册必须同在会话锁内，并发的同身份接入才只放行一个
		if g.registry.ParticipantConnected(payload.SessionID, payload.ParticipantID) {
			return model.ValidationError("参与者 %s 已有在线连接", payload.ParticipantID)
		}

		participant, err := m.Attach(payload.ParticipantID)
		if err != nil {
			return err
		}
		g.invalidate(payload.SessionID)

		g.registry.Register(peer, registry.Identity{
			SessionID:     payload.SessionID,
			Role:          registry.RoleParticipant,
			ParticipantID: participant.ID,
		})

		joined := SessionJoinedPayload{
			Session:      sessionView(m.Session()),
			Stories:      storyViews(m.Stories()),
			Participants: participantViews(m.Participants()),
			ActiveStory:  storyView(m.ActiveStory()),
			Scale:        m.Session().Scale,
		}
		// 投票只在没有进行中的回合时随加入快照下发
		if m.ActiveStory() == nil {
			if last := lastClosedCompleted(m); last != nil {
				joined.Votes = voteViews(m.VotesFor(last.ID))
			}
		}
		if err := peer.WriteEvent(TypeSessionJoined, joined); err != nil {
			log.Printf("下发会话快照失败: %v", err)
		}

		g.broadcastExcept(payload.SessionID, peer, TypeParticipantJoined, ParticipantJoinedPayload{
			Participant: participantView(participant),
		})
		return nil
	})
	if err != nil {
		g.writeError(peer, err)
	}
}

// handleHostJoin 主持人连接接入：校验主持凭据后绑定主持人身份
func (g *Gateway) handleHostJoin(peer *Peer, payload HostJoinSessionPayload) {
	if payload.SessionID == "" || payload.HostID == "" {
		g.writeError(peer, model.ValidationError("sessionId和hostId不能为空"))
		return
	}

	secretHash, err := g.store.GetSessionSecretHash(payload.SessionID)
	if err != nil {
		g.writeError(peer, err)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(payload.Credential)) != nil {
		g.writeError(peer, model.ForbiddenError("主持凭据无效"))
		return
	}

	err = g.machines.WithSession(payload.SessionID, func(m *session.Machine) error {
		if m.Session().HostID != payload.HostID {
			return model.ForbiddenError("用户 %s 不是会话 %s 的主持人", payload.HostID, payload.SessionID)
		}

		g.registry.Register(peer, registry.Identity{
			SessionID: payload.SessionID,
			Role:      registry.RoleHost,
		})

		joined := HostSessionJoinedPayload{
			SessionJoinedPayload: SessionJoinedPayload{
				Session:      sessionView(m.Session()),
				Stories:      storyViews(m.Stories()),
				Participants: participantViews(m.Participants()),
				ActiveStory:  storyView(m.ActiveStory()),
				Scale:        m.Session().Scale,
			},
			CompletedStoryVotes: completedVoteViews(m.CompletedStoryVotes()),
		}
		if err := peer.WriteEvent(TypeHostSessionJoined, joined); err != nil {
			log.Printf("下发主持人会话快照失败: %v", err)
		}
		return nil
	})
	if err != nil {
		g.writeError(peer, err)
	}
}

// handleVote 参与者投票：发送方必须是注册到该会话的参与者连接
func (g *Gateway) handleVote(peer *Peer, payload VotePayload) {
	identity, ok := g.registry.Lookup(peer)
	if !ok || identity.SessionID != payload.SessionID {
		g.writeError(peer, model.ForbiddenError("连接未注册到会话 %s", payload.SessionID))
		return
	}
	if identity.Role != registry.RoleParticipant {
		g.writeError(peer, model.ForbiddenError("主持人不参与投票"))
		return
	}

	err := g.machines.WithSession(payload.SessionID, func(m *session.Machine) error {
		result, err := m.SubmitVote(identity.ParticipantID, payload.StoryID, payload.Value)
		if err != nil {
			return err
		}

		// 投票事实广播给全会话，取值保密
		g.broadcast(payload.SessionID, TypeParticipantVoted, ParticipantVotedPayload{
			ParticipantID: identity.ParticipantID,
			StoryID:       payload.StoryID,
		})

		if result.AllVoted {
			g.broadcast(payload.SessionID, TypeAllVoted, AllVotedPayload{
				StoryID:              payload.StoryID,
				NotificationsEnabled: result.NotifyUpdate,
			})
			if result.NotifyUpdate {
				g.publishEvent(&model.SessionEvent{
					Type:       model.EventAllVoted,
					SessionID:  payload.SessionID,
					StoryID:    payload.StoryID,
					OccurredAt: time.Now(),
				})
			}
		}
		return nil
	})
	if err != nil {
		g.writeError(peer, err)
	}
}

// handleReveal 主持人亮牌
func (g *Gateway) handleReveal(peer *Peer, payload StoryActionPayload) {
	if err := g.requireHost(peer, payload.SessionID); err != nil {
		g.writeError(peer, err)
		return
	}

	err := g.machines.WithSession(payload.SessionID, func(m *session.Machine) error {
		result, err := m.Reveal(payload.StoryID)
		if err != nil {
			return err
		}

		g.broadcast(payload.SessionID, TypeVotesRevealed, VotesRevealedPayload{
			StoryID:       result.StoryID,
			Votes:         voteViews(result.Votes),
			Participants:  participantViews(m.Participants()),
			FinalEstimate: result.SuggestedEstimate,
		})
		return nil
	})
	if err != nil {
		g.writeError(peer, err)
	}
}

// handleRestart 主持人重新开始当前故事的投票
func (g *Gateway) handleRestart(peer *Peer, payload StoryActionPayload) {
	if err := g.requireHost(peer, payload.SessionID); err != nil {
		g.writeError(peer, err)
		return
	}

	err := g.machines.WithSession(payload.SessionID, func(m *session.Machine) error {
		if err := m.Restart(payload.StoryID); err != nil {
			return err
		}

		g.broadcast(payload.SessionID, TypeVotingRestarted, VotingRestartedPayload{
			StoryID: payload.StoryID,
		})
		return nil
	})
	if err != nil {
		g.writeError(peer, err)
	}
}

// handleSkip 主持人跳过当前故事
func (g *Gateway) handleSkip(peer *Peer, payload StoryActionPayload) {
	if err := g.requireHost(peer, payload.SessionID); err != nil {
		g.writeError(peer, err)
		return
	}

	err := g.machines.WithSession(payload.SessionID, func(m *session.Machine) error {
		result, err := m.Skip(payload.StoryID)
		if err != nil {
			return err
		}
		g.invalidate(payload.SessionID)

		g.publishEvent(&model.SessionEvent{
			Type:       model.EventStorySkipped,
			SessionID:  payload.SessionID,
			StoryID:    result.ClosedStory.ID,
			OccurredAt: time.Now(),
		})

		if result.NextStory != nil {
			g.broadcast(payload.SessionID, TypeStorySkipped, StorySkippedPayload{
				PreviousStoryID: result.ClosedStory.ID,
				NextStoryID:     result.NextStory.ID,
				NextStory:       storyView(result.NextStory),
			})
			return nil
		}

		g.broadcast(payload.SessionID, TypeAllStoriesCompleted, AllStoriesCompletedPayload{
			LastSkippedID: result.ClosedStory.ID,
		})
		g.publishEvent(&model.SessionEvent{
			Type:       model.EventSessionCompleted,
			SessionID:  payload.SessionID,
			OccurredAt: time.Now(),
		})
		return nil
	})
	if err != nil {
		g.writeError(peer, err)
	}
}

// handleNext 主持人确认估点并推进到下一个故事
func (g *Gateway) handleNext(peer *Peer, payload NextStoryPayload) {
	if err := g.requireHost(peer, payload.SessionID); err != nil {
		g.writeError(peer, err)
		return
	}

	err := g.machines.WithSession(payload.SessionID, func(m *session.Machine) error {
		result, err := m.Next(payload.CurrentStoryID, payload.FinalEstimate)
		if err != nil {
			return err
		}
		g.invalidate(payload.SessionID)

		estimate := payload.FinalEstimate
		g.publishEvent(&model.SessionEvent{
			Type:          model.EventStoryCompleted,
			SessionID:     payload.SessionID,
			StoryID:       result.ClosedStory.ID,
			FinalEstimate: &estimate,
			OccurredAt:    time.Now(),
		})

		if result.NextStory != nil {
			g.broadcast(payload.SessionID, TypeNextStoryActivated, NextStoryActivatedPayload{
				CompletedStoryID: result.ClosedStory.ID,
				NextStoryID:      result.NextStory.ID,
				NextStory:        storyView(result.NextStory),
				FinalEstimate:    payload.FinalEstimate,
			})
			return nil
		}

		g.broadcast(payload.SessionID, TypeAllStoriesCompleted, AllStoriesCompletedPayload{
			LastCompletedID: result.ClosedStory.ID,
			FinalEstimate:   &estimate,
		})
		g.publishEvent(&model.SessionEvent{
			Type:       model.EventSessionCompleted,
			SessionID:  payload.SessionID,
			OccurredAt: time.Now(),
		})
		return nil
	})
	if err != nil {
		g.writeError(peer, err)
	}
}

// handleDisconnect 连接断开：翻转在线标志并广播，保留参与者记录及其投票
func (g *Gateway) handleDisconnect(peer *Peer) {
	identity, ok := g.registry.Deregister(peer)
	if !ok {
		return
	}
	if identity.Role != registry.RoleParticipant {
		return
	}

	err := g.machines.WithSession(identity.SessionID, func(m *session.Machine) error {
		if _, err := m.Disconnect(identity.ParticipantID); err != nil {
			return err
		}
		g.invalidate(identity.SessionID)
		g.broadcast(identity.SessionID, TypeParticipantDisconnected, ParticipantDisconnectedPayload{
			ParticipantID: identity.ParticipantID,
		})
		return nil
	})
	if err != nil {
		log.Printf("处理连接断开失败: 会话=%s, 参与者=%s, 错误=%v", identity.SessionID, identity.ParticipantID, err)
	}
}

// NotifySessionDeleted 会话删除后通知全部在线连接并注销它们
func (g *Gateway) NotifySessionDeleted(sessionID string) {
	conns := g.registry.DropSession(sessionID)
	for _, conn := range conns {
		if err := conn.WriteEvent(TypeSessionDeleted, struct{}{}); err != nil {
			log.Printf("下发会话删除通知失败: %v", err)
		}
	}
	g.machines.Evict(sessionID)
}

// requireHost 校验发送方是注册到指定会话的主持人连接
func (g *Gateway) requireHost(peer *Peer, sessionID string) error {
	identity, ok := g.registry.Lookup(peer)
	if !ok || identity.SessionID != sessionID {
		return model.ForbiddenError("连接未注册到会话 %s", sessionID)
	}
	if identity.Role != registry.RoleHost {
		return model.ForbiddenError("只有主持人可以执行该操作")
	}
	return nil
}

// broadcast 向会话的全部连接发送事件。
// 发送基于连接快照逐个进行，单个连接的失败不影响其他连接。
func (g *Gateway) broadcast(sessionID, eventType string, payload interface{}) {
	for _, conn := range g.registry.SessionConns(sessionID) {
		if err := conn.WriteEvent(eventType, payload); err != nil {
			log.Printf("广播事件 %s 到会话 %s 的连接失败: %v", eventType, sessionID, err)
		}
	}
}

// broadcastExcept 广播给除指定连接外的全部连接
func (g *Gateway) broadcastExcept(sessionID string, except registry.Conn, eventType string, payload interface{}) {
	for _, conn := range g.registry.SessionConns(sessionID) {
		if conn == except {
			continue
		}
		if err := conn.WriteEvent(eventType, payload); err != nil {
			log.Printf("广播事件 %s 到会话 %s 的连接失败: %v", eventType, sessionID, err)
		}
	}
}

// invalidate 会话聚合视图变更后删除缓存快照。
// 投票不在聚合视图内，投票命令不触发失效。
func (g *Gateway) invalidate(sessionID string) {
	if g.cache == nil {
		return
	}
	if err := g.cache.DeleteSessionDetail(sessionID); err != nil {
		log.Printf("删除会话 %s 缓存失败: %v", sessionID, err)
	}
}

// publishEvent 发布会话通知事件，失败只记录日志，不影响命令结果
func (g *Gateway) publishEvent(event *model.SessionEvent) {
	if g.events == nil {
		return
	}
	if err := g.events.SendSessionEvent(event); err != nil {
		log.Printf("发布会话事件失败: 类型=%s, 会话=%s, 错误=%v", event.Type, event.SessionID, err)
	}
}

// writeError 错误只回复发送方
func (g *Gateway) writeError(peer *Peer, err error) {
	if writeErr := peer.WriteEvent(TypeError, ErrorPayload{Message: err.Error()}); writeErr != nil {
		log.Printf("下发错误回复失败: %v", writeErr)
	}
}

func decodePayload(peer *Peer, frame Frame, target interface{}) bool {
	if err := json.Unmarshal(frame.Payload, target); err != nil {
		writeDecodeError(peer)
		return false
	}
	return true
}

func writeDecodeError(peer *Peer) {
	if err := peer.WriteEvent(TypeError, ErrorPayload{Message: "消息载荷格式不合法"}); err != nil {
		log.Printf("下发错误回复失败: %v", err)
	}
}

// lastClosedCompleted 顺序最大的已完成故事，会话收尾后的快照使用
func lastClosedCompleted(m *session.Machine) *model.Story {
	stories := m.Stories()
	for i := len(stories) - 1; i >= 0; i-- {
		if stories[i].IsCompleted() {
			return stories[i]
		}
	}
	return nil
}
