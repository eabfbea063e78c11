package graph

import (
	"context"
	"net/http"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/lvdashuaibi/planningpoker/internal/model"
	"github.com/lvdashuaibi/planningpoker/internal/service"
)

// GraphQLServer GraphQL服务器
type GraphQLServer struct {
	schema   *graphql.Schema
	handler  *relay.Handler
	resolver *Resolver
}

// GraphQL Schema定义
const schemaString = `
type Session {
  id: String!
  name: String!
  hostId: String!
  scale: [Int!]!
  notifyOnAllVoted: Boolean!
  createdAt: String!
}

type Story {
  id: String!
  title: String!
  description: String!
  finalEstimate: Int
  orderIndex: Int!
  status: String!
}

type Participant {
  id: String!
  alias: String!
  connected: Boolean!
  createdAt: String!
}

type SessionDetail {
  session: Session!
  stories: [Story!]!
  participants: [Participant!]!
}

type CreateSessionResult {
  session: Session!
  stories: [Story!]!
  hostSecret: String!
}

type JoinSessionResult {
  participantId: String!
}

input StoryInput {
  title: String!
  description: String
}

input CreateSessionInput {
  name: String!
  hostId: String!
  scale: String
  notifyOnAllVoted: Boolean!
  stories: [StoryInput!]!
}

type Query {
  # 主持人名下的全部会话
  mySessions(hostId: String!): [Session!]!

  # 查询会话聚合视图
  session(id: String!): SessionDetail!

  # 检查会话是否存在
  checkSession(id: String!): Boolean!
}

type Mutation {
  # 创建估点会话，主持凭据仅此一次返回
  createSession(input: CreateSessionInput!): CreateSessionResult!

  # 删除会话
  deleteSession(sessionId: String!, hostId: String!, credential: String!): Boolean!

  # 以别名加入会话
  joinSession(sessionId: String!, alias: String!): JoinSessionResult!
}

schema {
  query: Query
  mutation: Mutation
}
`

// NewGraphQLServer 创建新的GraphQL服务器
func NewGraphQLServer(sessionService *service.SessionService) *GraphQLServer {
	resolver := NewResolver(sessionService)

	schema := graphql.MustParseSchema(schemaString, resolver,
		graphql.UseFieldResolvers(),
	)

	handler := &relay.Handler{Schema: schema}

	return &GraphQLServer{
		schema:   schema,
		handler:  handler,
		resolver: resolver,
	}
}

// Handler GraphQL API处理器
func (s *GraphQLServer) Handler() http.Handler {
	return s.handler
}

// PlaygroundHandler GraphQL Playground页面
func (s *GraphQLServer) PlaygroundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(playgroundHTML))
	}
}

// Resolver GraphQL解析器
type Resolver struct {
	sessionService *service.SessionService
}

// NewResolver 创建新的解析器
func NewResolver(sessionService *service.SessionService) *Resolver {
	return &Resolver{sessionService: sessionService}
}

// MySessions 主持人名下的全部会话
func (r *Resolver) MySessions(ctx context.Context, args struct{ HostID string }) ([]*SessionResolver, error) {
	sessions, err := r.sessionService.MySessions(args.HostID)
	if err != nil {
		return nil, err
	}

	resolvers := make([]*SessionResolver, len(sessions))
	for i, session := range sessions {
		resolvers[i] = &SessionResolver{session: session}
	}
	return resolvers, nil
}

// Session 查询会话聚合视图
func (r *Resolver) Session(ctx context.Context, args struct{ ID string }) (*SessionDetailResolver, error) {
	detail, err := r.sessionService.GetSession(args.ID)
	if err != nil {
		return nil, err
	}
	return &SessionDetailResolver{detail: detail}, nil
}

// CheckSession 检查会话是否存在
func (r *Resolver) CheckSession(ctx context.Context, args struct{ ID string }) (bool, error) {
	return r.sessionService.CheckSession(args.ID)
}

// CreateSession 创建估点会话
func (r *Resolver) CreateSession(ctx context.Context, args struct{ Input CreateSessionInput }) (*CreateSessionResultResolver, error) {
	input := &service.CreateSessionInput{
		Name:             args.Input.Name,
		HostID:           args.Input.HostID,
		NotifyOnAllVoted: args.Input.NotifyOnAllVoted,
	}
	if args.Input.Scale != nil {
		input.ScaleSpec = *args.Input.Scale
	}
	for _, story := range args.Input.Stories {
		item := service.StoryInput{Title: story.Title}
		if story.Description != nil {
			item.Description = *story.Description
		}
		input.Stories = append(input.Stories, item)
	}

	result, err := r.sessionService.CreateSession(input)
	if err != nil {
		return nil, err
	}
	return &CreateSessionResultResolver{result: result}, nil
}

// DeleteSession 删除会话
func (r *Resolver) DeleteSession(ctx context.Context, args struct {
	SessionID  string
	HostID     string
	Credential string
}) (bool, error) {
	if err := r.sessionService.DeleteSession(args.SessionID, args.HostID, args.Credential); err != nil {
		return false, err
	}
	return true, nil
}

// JoinSession 以别名加入会话
func (r *Resolver) JoinSession(ctx context.Context, args struct {
	SessionID string
	Alias     string
}) (*JoinSessionResultResolver, error) {
	participantID, err := r.sessionService.JoinSession(args.SessionID, args.Alias)
	if err != nil {
		return nil, err
	}
	return &JoinSessionResultResolver{participantID: participantID}, nil
}

// SessionResolver 会话解析器
type SessionResolver struct {
	session *model.Session
}

func (r *SessionResolver) ID() string {
	return r.session.ID
}

func (r *SessionResolver) Name() string {
	return r.session.Name
}

func (r *SessionResolver) HostID() string {
	return r.session.HostID
}

func (r *SessionResolver) Scale() []int32 {
	values := make([]int32, len(r.session.Scale))
	for i, value := range r.session.Scale {
		values[i] = int32(value)
	}
	return values
}

func (r *SessionResolver) NotifyOnAllVoted() bool {
	return r.session.NotifyOnAllVoted
}

func (r *SessionResolver) CreatedAt() string {
	return r.session.CreatedAt.Format(time.RFC3339)
}

// StoryResolver 故事解析器
type StoryResolver struct {
	story *model.Story
}

func (r *StoryResolver) ID() string {
	return r.story.ID
}

func (r *StoryResolver) Title() string {
	return r.story.Title
}

func (r *StoryResolver) Description() string {
	return r.story.Description
}

func (r *StoryResolver) FinalEstimate() *int32 {
	if r.story.FinalEstimate == nil {
		return nil
	}
	value := int32(*r.story.FinalEstimate)
	return &value
}

func (r *StoryResolver) OrderIndex() int32 {
	return int32(r.story.OrderIndex)
}

func (r *StoryResolver) Status() string {
	return string(r.story.Status)
}

// ParticipantResolver 参与者解析器
type ParticipantResolver struct {
	participant *model.Participant
}

func (r *ParticipantResolver) ID() string {
	return r.participant.ID
}

func (r *ParticipantResolver) Alias() string {
	return r.participant.Alias
}

func (r *ParticipantResolver) Connected() bool {
	return r.participant.Connected
}

func (r *ParticipantResolver) CreatedAt() string {
	return r.participant.CreatedAt.Format(time.RFC3339)
}

// SessionDetailResolver 会话聚合视图解析器
type SessionDetailResolver struct {
	detail *model.SessionDetail
}

func (r *SessionDetailResolver) Session() *SessionResolver {
	return &SessionResolver{session: r.detail.Session}
}

func (r *SessionDetailResolver) Stories() []*StoryResolver {
	resolvers := make([]*StoryResolver, len(r.detail.Stories))
	for i, story := range r.detail.Stories {
		resolvers[i] = &StoryResolver{story: story}
	}
	return resolvers
}

func (r *SessionDetailResolver) Participants() []*ParticipantResolver {
	resolvers := make([]*ParticipantResolver, len(r.detail.Participants))
	for i, participant := range r.detail.Participants {
		resolvers[i] = &ParticipantResolver{participant: participant}
	}
	return resolvers
}

// CreateSessionResultResolver 创建会话结果解析器
type CreateSessionResultResolver struct {
	result *service.CreateSessionResult
}

func (r *CreateSessionResultResolver) Session() *SessionResolver {
	return &SessionResolver{session: r.result.Session}
}

func (r *CreateSessionResultResolver) Stories() []*StoryResolver {
	resolvers := make([]*StoryResolver, len(r.result.Stories))
	for i, story := range r.result.Stories {
		resolvers[i] = &StoryResolver{story: story}
	}
	return resolvers
}

func (r *CreateSessionResultResolver) HostSecret() string {
	return r.result.HostSecret
}

// JoinSessionResultResolver 加入会话结果解析器
type JoinSessionResultResolver struct {
	participantID string
}

func (r *JoinSessionResultResolver) ParticipantID() string {
	return r.participantID
}

// 创建会话输入类型
type CreateSessionInput struct {
	Name             string
	HostID           string
	Scale            *string
	NotifyOnAllVoted bool
	Stories          []StoryInput
}

// 故事输入类型
type StoryInput struct {
	Title       string
	Description *string
}

// playgroundHTML GraphQL Playground HTML
const playgroundHTML = `
<!DOCTYPE html>
<html>
<head>
  <meta charset=utf-8/>
  <meta name="viewport" content="user-scalable=no, initial-scale=1.0, minimum-scale=1.0, maximum-scale=1.0, minimal-ui">
  <title>Planning Poker GraphQL Playground</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/css/index.css" />
  <link rel="shortcut icon" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/favicon.png" />
  <script src="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/js/middleware.js"></script>
</head>
<body>
  <div id="root">
    <style>
      body {
        background-color: rgb(23, 42, 58);
        font-family: Open Sans, sans-serif;
        height: 90vh;
      }
      #root {
        height: 100%;
        width: 100%;
        display: flex;
        align-items: center;
        justify-content: center;
      }
      .loading {
        font-size: 32px;
        font-weight: 200;
        color: rgba(255, 255, 255, .6);
        margin-left: 20px;
      }
      img {
        width: 78px;
        height: 78px;
      }
      .title {
        font-weight: 400;
      }
    </style>
    <img src='https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/logo.png' alt=''>
    <div class="loading">
      <span class="title">Planning Poker GraphQL Playground</span>
    </div>
  </div>
  <script>window.addEventListener('load', function (event) {
      GraphQLPlayground.init(document.getElementById('root'), {
        endpoint: '/graphql'
      })
    })</script>
</body>
</html>
`
