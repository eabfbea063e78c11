package session

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lvdashuaibi/planningpoker/internal/model"
	"github.com/lvdashuaibi/planningpoker/internal/repository"
	"github.com/lvdashuaibi/planningpoker/internal/scale"
)

// Machine 单个会话的权威状态机。
// 所有方法都必须在Manager的会话锁内调用；持久化成功后才更新内存，
// 保证存储失败时状态保持操作前的样子。
type Machine struct {
	session      *model.Session
	stories      []*model.Story // 按OrderIndex升序
	participants map[string]*model.Participant
	votes        map[string]map[string]int // storyID -> participantID -> value
	revealed     map[string]bool

	// activeStoryID 唯一权威指针，空表示没有活跃故事；
	// 只在hydrate时从持久化状态推导一次，之后仅由状态机转移维护
	activeStoryID string

	store           repository.Store
	maxParticipants int
	maxAliasLength  int
}

// JoinResult 参与者加入结果
type JoinResult struct {
	Participant *model.Participant
	Rejoined    bool
}

// VoteResult 投票结果
type VoteResult struct {
	Participant  *model.Participant
	StoryID      string
	AllVoted     bool
	NotifyUpdate bool // 会话开启全员投票通知时为true
}

// RevealResult 亮牌结果，估点为建议值，未落盘，等待主持人确认
type RevealResult struct {
	StoryID           string
	Votes             []*model.Vote
	SuggestedEstimate int
}

// AdvanceResult 确认或跳过后的推进结果
type AdvanceResult struct {
	ClosedStory *model.Story
	NextStory   *model.Story // nil表示没有后续故事，会话全部完成
}

func hydrate(sessionID string, store repository.Store, maxParticipants, maxAliasLength int) (*Machine, error) {
	session, err := store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	stories, err := store.GetStories(sessionID)
	if err != nil {
		return nil, err
	}
	sort.Slice(stories, func(i, j int) bool {
		return stories[i].OrderIndex < stories[j].OrderIndex
	})

	participants, err := store.GetParticipants(sessionID)
	if err != nil {
		return nil, err
	}

	votes, err := store.GetSessionVotes(sessionID)
	if err != nil {
		return nil, err
	}

	m := &Machine{
		session:         session,
		stories:         stories,
		participants:    make(map[string]*model.Participant, len(participants)),
		votes:           make(map[string]map[string]int),
		revealed:        make(map[string]bool),
		store:           store,
		maxParticipants: maxParticipants,
		maxAliasLength:  maxAliasLength,
	}

	for _, participant := range participants {
		m.participants[participant.ID] = participant
	}
	for _, vote := range votes {
		byParticipant, ok := m.votes[vote.StoryID]
		if !ok {
			byParticipant = make(map[string]int)
			m.votes[vote.StoryID] = byParticipant
		}
		byParticipant[vote.ParticipantID] = vote.Value
	}

	// 初始推导活跃指针，此后不再扫描
	for _, story := range stories {
		if story.IsActive() {
			m.activeStoryID = story.ID
			break
		}
	}

	return m, nil
}

// Session 会话元信息
func (m *Machine) Session() *model.Session {
	return m.session
}

// Stories 按顺序返回全部故事
func (m *Machine) Stories() []*model.Story {
	return m.stories
}

// Participants 返回全部参与者，按创建时间排序
func (m *Machine) Participants() []*model.Participant {
	participants := make([]*model.Participant, 0, len(m.participants))
	for _, participant := range m.participants {
		participants = append(participants, participant)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].CreatedAt.Before(participants[j].CreatedAt)
	})
	return participants
}

// ActiveStory 当前活跃故事，没有时返回nil
func (m *Machine) ActiveStory() *model.Story {
	if m.activeStoryID == "" {
		return nil
	}
	return m.storyByID(m.activeStoryID)
}

// VotesFor 某故事的全部投票
func (m *Machine) VotesFor(storyID string) []*model.Vote {
	byParticipant := m.votes[storyID]
	votes := make([]*model.Vote, 0, len(byParticipant))
	for participantID, value := range byParticipant {
		votes = append(votes, &model.Vote{
			ParticipantID: participantID,
			StoryID:       storyID,
			Value:         value,
		})
	}
	sort.Slice(votes, func(i, j int) bool {
		return votes[i].ParticipantID < votes[j].ParticipantID
	})
	return votes
}

// CompletedStoryVotes 已完成故事的历史投票，键为故事ID，主持人视图使用
func (m *Machine) CompletedStoryVotes() map[string][]*model.Vote {
	result := make(map[string][]*model.Vote)
	for _, story := range m.stories {
		if story.IsCompleted() {
			result[story.ID] = m.VotesFor(story.ID)
		}
	}
	return result
}

// Join 按别名加入会话。
// 别名在线冲突返回Validation错误；别名存在但离线时复用原参与者记录；
// 否则创建新参与者。新参与者先落盘为离线，连接注册时再置为在线。
func (m *Machine) Join(alias string) (*JoinResult, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return nil, model.ValidationError("参与者别名不能为空")
	}
	if len([]rune(alias)) > m.maxAliasLength {
		return nil, model.ValidationError("参与者别名不能超过%d个字符", m.maxAliasLength)
	}

	for _, existing := range m.participants {
		if !strings.EqualFold(existing.Alias, alias) {
			continue
		}
		if existing.Connected {
			return nil, model.ValidationError("别名 %s 已被在线参与者使用", alias)
		}
		// 离线同名参与者：复用记录而不是新建
		return &JoinResult{Participant: existing, Rejoined: true}, nil
	}

	if len(m.participants) >= m.maxParticipants {
		return nil, model.ValidationError("会话参与者数量已达上限%d", m.maxParticipants)
	}

	participant := &model.Participant{
		ID:        uuid.NewString(),
		SessionID: m.session.ID,
		Alias:     alias,
		Connected: false,
		CreatedAt: time.Now(),
	}
	if err := m.store.CreateParticipant(participant); err != nil {
		return nil, err
	}

	m.participants[participant.ID] = participant
	return &JoinResult{Participant: participant}, nil
}

// Attach 将参与者标记为在线，连接注册成功后调用
func (m *Machine) Attach(participantID string) (*model.Participant, error) {
	participant, ok := m.participants[participantID]
	if !ok {
		return nil, model.NotFoundError("参与者 %s 不存在", participantID)
	}

	if err := m.store.SetParticipantConnected(participantID, true); err != nil {
		return nil, err
	}

	participant.Connected = true
	return participant, nil
}

// Disconnect 将参与者标记为离线。
// 连接断开只翻转在线标志，参与者记录及其投票全部保留，支持重连。
func (m *Machine) Disconnect(participantID string) (*model.Participant, error) {
	participant, ok := m.participants[participantID]
	if !ok {
		return nil, model.NotFoundError("参与者 %s 不存在", participantID)
	}

	if err := m.store.SetParticipantConnected(participantID, false); err != nil {
		return nil, err
	}

	participant.Connected = false
	return participant, nil
}

// SubmitVote 提交或覆盖一票。
// 只接受当前活跃故事的投票；取值必须属于会话刻度。
func (m *Machine) SubmitVote(participantID, storyID string, value int) (*VoteResult, error) {
	participant, ok := m.participants[participantID]
	if !ok {
		return nil, model.NotFoundError("参与者 %s 不存在", participantID)
	}

	story := m.storyByID(storyID)
	if story == nil {
		return nil, model.NotFoundError("故事 %s 不存在", storyID)
	}
	if storyID != m.activeStoryID || !story.CanAcceptVotes() {
		return nil, model.InvalidStateError("故事 %s 不在投票中，无法接受投票", storyID)
	}
	if !scale.Contains(m.session.Scale, value) {
		return nil, model.ValidationError("取值 %d 不属于会话刻度", value)
	}

	vote := &model.Vote{
		ParticipantID: participantID,
		StoryID:       storyID,
		Value:         value,
		UpdatedAt:     time.Now(),
	}
	if err := m.store.UpsertVote(vote); err != nil {
		return nil, err
	}

	byParticipant, ok := m.votes[storyID]
	if !ok {
		byParticipant = make(map[string]int)
		m.votes[storyID] = byParticipant
	}
	byParticipant[participantID] = value

	return &VoteResult{
		Participant:  participant,
		StoryID:      storyID,
		AllVoted:     m.allConnectedVoted(storyID),
		NotifyUpdate: m.session.NotifyOnAllVoted,
	}, nil
}

// Reveal 亮牌：快照当前投票并计算建议估点。
// 估点在主持人确认前不落盘。
func (m *Machine) Reveal(storyID string) (*RevealResult, error) {
	if err := m.requireActive(storyID, "亮牌"); err != nil {
		return nil, err
	}

	votes := m.VotesFor(storyID)
	values := make([]int, len(votes))
	for i, vote := range votes {
		values[i] = vote.Value
	}

	m.revealed[storyID] = true
	return &RevealResult{
		StoryID:           storyID,
		Votes:             votes,
		SuggestedEstimate: scale.Estimate(values, m.session.Scale),
	}, nil
}

// Restart 重新开始当前故事的投票：清空全部投票，故事保持活跃
func (m *Machine) Restart(storyID string) error {
	if err := m.requireActive(storyID, "重新投票"); err != nil {
		return err
	}

	if err := m.store.DeleteStoryVotes(storyID); err != nil {
		return err
	}

	delete(m.votes, storyID)
	delete(m.revealed, storyID)
	return nil
}

// Skip 跳过当前故事：不记录估点，投票作废，激活下一个待处理故事
func (m *Machine) Skip(storyID string) (*AdvanceResult, error) {
	if err := m.requireActive(storyID, "跳过"); err != nil {
		return nil, err
	}

	story := m.storyByID(storyID)
	next := m.nextPendingAfter(story.OrderIndex)

	closed := *story
	closed.Status = model.StoryStatusSkipped
	closed.FinalEstimate = nil

	nextID := ""
	if next != nil {
		nextID = next.ID
	}
	if err := m.store.AdvanceStory(&closed, nextID, true); err != nil {
		return nil, err
	}

	story.Status = model.StoryStatusSkipped
	story.FinalEstimate = nil
	delete(m.votes, storyID)
	delete(m.revealed, storyID)
	m.activateNext(next)

	return &AdvanceResult{ClosedStory: story, NextStory: next}, nil
}

// Next 确认估点并推进：当前故事标记完成，投票保留作历史，激活下一个故事。
// 只允许在亮牌之后确认。
func (m *Machine) Next(storyID string, finalEstimate int) (*AdvanceResult, error) {
	if err := m.requireActive(storyID, "确认估点"); err != nil {
		return nil, err
	}
	if !m.revealed[storyID] {
		return nil, model.InvalidStateError("故事 %s 尚未亮牌，无法确认估点", storyID)
	}
	if finalEstimate <= 0 {
		return nil, model.ValidationError("最终估点必须为正整数")
	}

	story := m.storyByID(storyID)
	next := m.nextPendingAfter(story.OrderIndex)

	estimate := finalEstimate
	closed := *story
	closed.Status = model.StoryStatusCompleted
	closed.FinalEstimate = &estimate

	nextID := ""
	if next != nil {
		nextID = next.ID
	}
	if err := m.store.AdvanceStory(&closed, nextID, false); err != nil {
		return nil, err
	}

	story.Status = model.StoryStatusCompleted
	story.FinalEstimate = &estimate
	delete(m.revealed, storyID)
	m.activateNext(next)

	return &AdvanceResult{ClosedStory: story, NextStory: next}, nil
}

// CheckInvariant 校验至多一个活跃故事，属性测试使用
func (m *Machine) CheckInvariant() bool {
	active := 0
	for _, story := range m.stories {
		if story.IsActive() {
			active++
			if story.ID != m.activeStoryID {
				return false
			}
		}
	}
	if active == 0 && m.activeStoryID != "" {
		return false
	}
	return active <= 1
}

func (m *Machine) requireActive(storyID, operation string) error {
	story := m.storyByID(storyID)
	if story == nil {
		return model.NotFoundError("故事 %s 不存在", storyID)
	}
	if storyID != m.activeStoryID || !story.IsActive() {
		return model.InvalidStateError("故事 %s 不是当前活跃故事，无法%s", storyID, operation)
	}
	return nil
}

func (m *Machine) storyByID(storyID string) *model.Story {
	for _, story := range m.stories {
		if story.ID == storyID {
			return story
		}
	}
	return nil
}

// nextPendingAfter 顺序索引大于orderIndex的首个待处理故事，不回头
func (m *Machine) nextPendingAfter(orderIndex int) *model.Story {
	for _, story := range m.stories {
		if story.OrderIndex > orderIndex && story.IsPending() {
			return story
		}
	}
	return nil
}

func (m *Machine) activateNext(next *model.Story) {
	if next == nil {
		m.activeStoryID = ""
		return
	}
	next.Status = model.StoryStatusActive
	// 激活后投票集必须为空
	delete(m.votes, next.ID)
	delete(m.revealed, next.ID)
	m.activeStoryID = next.ID
}

// allConnectedVoted 所有在线参与者都已对指定故事投票
func (m *Machine) allConnectedVoted(storyID string) bool {
	byParticipant := m.votes[storyID]
	connected := 0
	for _, participant := range m.participants {
		if !participant.Connected {
			continue
		}
		connected++
		if _, ok := byParticipant[participant.ID]; !ok {
			return false
		}
	}
	return connected > 0
}
