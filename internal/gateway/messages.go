package gateway

import (
	"encoding/json"

	"github.com/lvdashuaibi/planningpoker/internal/model"
)

// Frame 持久通道上的消息信封
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// 客户端命令类型，构成封闭的命令集合，新增命令必须同时扩展网关的分发逻辑
const (
	TypeJoinSession     = "join_session"
	TypeHostJoinSession = "host_join_session"
	TypeVote            = "vote"
	TypeRevealVotes     = "reveal_votes"
	TypeRestartVote     = "restart_vote"
	TypeSkipStory       = "skip_story"
	TypeNextStory       = "next_story"
)

// 服务端事件类型
const (
	TypeSessionJoined           = "session_joined"
	TypeHostSessionJoined       = "host_session_joined"
	TypeParticipantJoined       = "participant_joined"
	TypeParticipantDisconnected = "participant_disconnected"
	TypeParticipantVoted        = "participant_voted"
	TypeVotesRevealed           = "votes_revealed"
	TypeVotingRestarted         = "voting_restarted"
	TypeNextStoryActivated      = "next_story_activated"
	TypeStorySkipped            = "story_skipped"
	TypeAllStoriesCompleted     = "all_stories_completed"
	TypeAllVoted                = "all_voted"
	TypeSessionDeleted          = "session_deleted"
	TypeError                   = "error"
)

// 客户端命令载荷

type JoinSessionPayload struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
}

type HostJoinSessionPayload struct {
	SessionID  string `json:"sessionId"`
	HostID     string `json:"hostId"`
	Credential string `json:"credential"`
}

type VotePayload struct {
	SessionID string `json:"sessionId"`
	StoryID   string `json:"storyId"`
	Value     int    `json:"value"`
}

type StoryActionPayload struct {
	SessionID string `json:"sessionId"`
	StoryID   string `json:"storyId"`
}

type NextStoryPayload struct {
	SessionID      string `json:"sessionId"`
	CurrentStoryID string `json:"currentStoryId"`
	FinalEstimate  int    `json:"finalEstimate"`
}

// 服务端事件载荷

type SessionView struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	NotifyOnAllVoted bool   `json:"notifyOnAllVoted"`
}

type StoryView struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	FinalEstimate *int   `json:"finalEstimate,omitempty"`
	OrderIndex    int    `json:"orderIndex"`
	Status        string `json:"status"`
}

type ParticipantView struct {
	ID        string `json:"id"`
	Alias     string `json:"alias"`
	Connected bool   `json:"connected"`
}

type VoteView struct {
	ParticipantID string `json:"participantId"`
	Value         int    `json:"value"`
}

type SessionJoinedPayload struct {
	Session      SessionView       `json:"session"`
	Stories      []StoryView       `json:"stories"`
	Participants []ParticipantView `json:"participants"`
	ActiveStory  *StoryView        `json:"activeStory,omitempty"`
	Votes        []VoteView        `json:"votes,omitempty"`
	Scale        []int             `json:"scale"`
}

type HostSessionJoinedPayload struct {
	SessionJoinedPayload
	CompletedStoryVotes map[string][]VoteView `json:"completedStoryVotes"`
}

type ParticipantJoinedPayload struct {
	Participant ParticipantView `json:"participant"`
}

type ParticipantDisconnectedPayload struct {
	ParticipantID string `json:"participantId"`
}

// ParticipantVotedPayload 投票通知，取值在亮牌前不公开
type ParticipantVotedPayload struct {
	ParticipantID string `json:"participantId"`
	StoryID       string `json:"storyId"`
}

type VotesRevealedPayload struct {
	StoryID       string            `json:"storyId"`
	Votes         []VoteView        `json:"votes"`
	Participants  []ParticipantView `json:"participants"`
	FinalEstimate int               `json:"finalEstimate"`
}

type VotingRestartedPayload struct {
	StoryID string `json:"storyId"`
}

type NextStoryActivatedPayload struct {
	CompletedStoryID string     `json:"completedStoryId"`
	NextStoryID      string     `json:"nextStoryId"`
	NextStory        *StoryView `json:"nextStory"`
	FinalEstimate    int        `json:"finalEstimate"`
}

type StorySkippedPayload struct {
	PreviousStoryID string     `json:"previousStoryId"`
	NextStoryID     string     `json:"nextStoryId"`
	NextStory       *StoryView `json:"nextStory"`
}

type AllStoriesCompletedPayload struct {
	LastCompletedID string `json:"lastCompletedId,omitempty"`
	LastSkippedID   string `json:"lastSkippedId,omitempty"`
	FinalEstimate   *int   `json:"finalEstimate,omitempty"`
}

type AllVotedPayload struct {
	StoryID              string `json:"storyId"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// 视图转换

func sessionView(session *model.Session) SessionView {
	return SessionView{
		ID:               session.ID,
		Name:             session.Name,
		NotifyOnAllVoted: session.NotifyOnAllVoted,
	}
}

func storyView(story *model.Story) *StoryView {
	if story == nil {
		return nil
	}
	return &StoryView{
		ID:            story.ID,
		Title:         story.Title,
		Description:   story.Description,
		FinalEstimate: story.FinalEstimate,
		OrderIndex:    story.OrderIndex,
		Status:        string(story.Status),
	}
}

func storyViews(stories []*model.Story) []StoryView {
	views := make([]StoryView, 0, len(stories))
	for _, story := range stories {
		views = append(views, *storyView(story))
	}
	return views
}

func participantView(participant *model.Participant) ParticipantView {
	return ParticipantView{
		ID:        participant.ID,
		Alias:     participant.Alias,
		Connected: participant.Connected,
	}
}

func participantViews(participants []*model.Participant) []ParticipantView {
	views := make([]ParticipantView, 0, len(participants))
	for _, participant := range participants {
		views = append(views, participantView(participant))
	}
	return views
}

func voteViews(votes []*model.Vote) []VoteView {
	views := make([]VoteView, 0, len(votes))
	for _, vote := range votes {
		views = append(views, VoteView{
			ParticipantID: vote.ParticipantID,
			Value:         vote.Value,
		})
	}
	return views
}

func completedVoteViews(history map[string][]*model.Vote) map[string][]VoteView {
	views := make(map[string][]VoteView, len(history))
	for storyID, votes := range history {
		views[storyID] = voteViews(votes)
	}
	return views
}
