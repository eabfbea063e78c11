package gateway

import (
	"fmt"
	"sync"

	"github.com/lvdashuaibi/planningpoker/internal/model"
)

// fakeStore 内存实体存储，测试用
type fakeStore struct {
	mu           sync.Mutex
	users        map[string]*model.User
	sessions     map[string]*model.Session
	secrets      map[string]string
	stories      map[string][]*model.Story // sessionID -> stories
	participants map[string]*model.Participant
	votes        map[string]map[string]int // storyID -> participantID -> value
	events       []*model.SessionEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        make(map[string]*model.User),
		sessions:     make(map[string]*model.Session),
		secrets:      make(map[string]string),
		stories:      make(map[string][]*model.Story),
		participants: make(map[string]*model.Participant),
		votes:        make(map[string]map[string]int),
	}
}

func (f *fakeStore) GetUser(userID string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return nil, model.NotFoundError("用户 %s 不存在", userID)
	}
	return user, nil
}

func (f *fakeStore) CreateSession(session *model.Session, secretHash string, stories []*model.Story) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *session
	f.sessions[session.ID] = &copied
	f.secrets[session.ID] = secretHash
	for _, story := range stories {
		storyCopy := *story
		f.stories[session.ID] = append(f.stories[session.ID], &storyCopy)
	}
	return nil
}

func (f *fakeStore) GetSession(sessionID string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, model.NotFoundError("会话 %s 不存在", sessionID)
	}
	copied := *session
	return &copied, nil
}

func (f *fakeStore) GetSessionSecretHash(sessionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash, ok := f.secrets[sessionID]
	if !ok {
		return "", model.NotFoundError("会话 %s 不存在", sessionID)
	}
	return hash, nil
}

func (f *fakeStore) ListSessionsByHost(hostID string) ([]*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sessions []*model.Session
	for _, session := range f.sessions {
		if session.HostID == hostID {
			copied := *session
			sessions = append(sessions, &copied)
		}
	}
	return sessions, nil
}

func (f *fakeStore) DeleteSession(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[sessionID]; !ok {
		return model.NotFoundError("会话 %s 不存在", sessionID)
	}
	for _, story := range f.stories[sessionID] {
		delete(f.votes, story.ID)
	}
	for id, participant := range f.participants {
		if participant.SessionID == sessionID {
			delete(f.participants, id)
		}
	}
	delete(f.stories, sessionID)
	delete(f.sessions, sessionID)
	delete(f.secrets, sessionID)
	return nil
}

func (f *fakeStore) GetStories(sessionID string) ([]*model.Story, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stories []*model.Story
	for _, story := range f.stories[sessionID] {
		copied := *story
		stories = append(stories, &copied)
	}
	return stories, nil
}

func (f *fakeStore) GetParticipants(sessionID string) ([]*model.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var participants []*model.Participant
	for _, participant := range f.participants {
		if participant.SessionID == sessionID {
			copied := *participant
			participants = append(participants, &copied)
		}
	}
	return participants, nil
}

func (f *fakeStore) CreateParticipant(participant *model.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *participant
	f.participants[participant.ID] = &copied
	return nil
}

func (f *fakeStore) SetParticipantConnected(participantID string, connected bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	participant, ok := f.participants[participantID]
	if !ok {
		return model.NotFoundError("参与者 %s 不存在", participantID)
	}
	participant.Connected = connected
	return nil
}

func (f *fakeStore) GetSessionVotes(sessionID string) ([]*model.Vote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var votes []*model.Vote
	for _, story := range f.stories[sessionID] {
		for participantID, value := range f.votes[story.ID] {
			votes = append(votes, &model.Vote{
				ParticipantID: participantID,
				StoryID:       story.ID,
				Value:         value,
			})
		}
	}
	return votes, nil
}

func (f *fakeStore) UpsertVote(vote *model.Vote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	byParticipant, ok := f.votes[vote.StoryID]
	if !ok {
		byParticipant = make(map[string]int)
		f.votes[vote.StoryID] = byParticipant
	}
	byParticipant[vote.ParticipantID] = vote.Value
	return nil
}

func (f *fakeStore) DeleteStoryVotes(storyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.votes, storyID)
	return nil
}

func (f *fakeStore) AdvanceStory(current *model.Story, nextStoryID string, deleteVotes bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, story := range f.stories[current.SessionID] {
		if story.ID == current.ID {
			story.Status = current.Status
			story.FinalEstimate = current.FinalEstimate
		}
		if nextStoryID != "" && story.ID == nextStoryID {
			story.Status = model.StoryStatusActive
		}
	}
	if deleteVotes {
		delete(f.votes, current.ID)
	}
	return nil
}

func (f *fakeStore) SaveSessionEvent(event *model.SessionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *event
	f.events = append(f.events, &copied)
	return nil
}

func (f *fakeStore) storyVotes(storyID string) map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make(map[string]int)
	for participantID, value := range f.votes[storyID] {
		result[participantID] = value
	}
	return result
}

func (f *fakeStore) storyStatus(sessionID, storyID string) (model.StoryStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, story := range f.stories[sessionID] {
		if story.ID == storyID {
			return story.Status, nil
		}
	}
	return "", fmt.Errorf("故事 %s 不存在", storyID)
}

// fakeCache 记录聚合视图缓存键，测试用
type fakeCache struct {
	mu      sync.Mutex
	details map[string]struct{}
}

func newFakeCache() *fakeCache {
	return &fakeCache{details: make(map[string]struct{})}
}

func (f *fakeCache) put(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details[sessionID] = struct{}{}
}

func (f *fakeCache) has(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.details[sessionID]
	return ok
}

func (f *fakeCache) DeleteSessionDetail(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.details, sessionID)
	return nil
}

// fakePublisher 捕获发布的会话事件，测试用
type fakePublisher struct {
	mu     sync.Mutex
	events []*model.SessionEvent
}

func (f *fakePublisher) SendSessionEvent(event *model.SessionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *event
	f.events = append(f.events, &copied)
	return nil
}

func (f *fakePublisher) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, event := range f.events {
		types = append(types, event.Type)
	}
	return types
}
