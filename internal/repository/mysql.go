package repository

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/lvdashuaibi/planningpoker/config"
	"github.com/lvdashuaibi/planningpoker/internal/model"
	"github.com/lvdashuaibi/planningpoker/internal/scale"
)

type MySQLRepository struct {
	masterDB *sql.DB
	slaveDB  *sql.DB
}

func NewMySQLRepository() (*MySQLRepository, error) {
	masterDB, err := sql.Open("mysql", config.AppConfig.MySQL.Master)
	if err != nil {
		return nil, fmt.Errorf("连接主数据库失败: %w", err)
	}

	masterDB.SetMaxOpenConns(config.AppConfig.MySQL.MaxOpenConns)
	masterDB.SetMaxIdleConns(config.AppConfig.MySQL.MaxIdleConns)
	masterDB.SetConnMaxLifetime(time.Hour)

	if err = masterDB.Ping(); err != nil {
		return nil, fmt.Errorf("主数据库连接测试失败: %w", err)
	}

	slaveDB, err := sql.Open("mysql", config.AppConfig.MySQL.Slave)
	if err != nil {
		return nil, fmt.Errorf("连接从数据库失败: %w", err)
	}

	slaveDB.SetMaxOpenConns(config.AppConfig.MySQL.MaxOpenConns)
	slaveDB.SetMaxIdleConns(config.AppConfig.MySQL.MaxIdleConns)
	slaveDB.SetConnMaxLifetime(time.Hour)

	if err = slaveDB.Ping(); err != nil {
		log.Printf("从数据库连接测试失败: %v，将使用主数据库代替", err)
		slaveDB = masterDB
	}

	return &MySQLRepository{
		masterDB: masterDB,
		slaveDB:  slaveDB,
	}, nil
}

// GetUser 查询主持人账号
func (r *MySQLRepository) GetUser(userID string) (*model.User, error) {
	query := "SELECT id, username, password_hash, created_at FROM users WHERE id = ?"
	row := r.slaveDB.QueryRow(query, userID)

	var user model.User
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, model.NotFoundError("用户 %s 不存在", userID)
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	return &user, nil
}

// CreateSession 在一个事务内创建会话及其全部故事
func (r *MySQLRepository) CreateSession(session *model.Session, secretHash string, stories []*model.Story) error {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}

	sessionQuery := `INSERT INTO sessions (id, name, host_id, scale, notify_all_voted, secret_hash, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.Exec(sessionQuery,
		session.ID,
		session.Name,
		session.HostID,
		scale.Format(session.Scale),
		session.NotifyOnAllVoted,
		secretHash,
		session.CreatedAt,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("写入会话失败: %w", err)
	}

	storyStmt, err := tx.Prepare(`INSERT INTO stories (id, session_id, title, description, final_estimate, order_index, status)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("准备故事写入语句失败: %w", err)
	}
	defer storyStmt.Close()

	for _, story := range stories {
		_, err = storyStmt.Exec(
			story.ID,
			story.SessionID,
			story.Title,
			story.Description,
			story.FinalEstimate,
			story.OrderIndex,
			string(story.Status),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("写入故事 %s 失败: %w", story.Title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	return nil
}

// GetSession 查询单个会话
func (r *MySQLRepository) GetSession(sessionID string) (*model.Session, error) {
	query := "SELECT id, name, host_id, scale, notify_all_voted, created_at FROM sessions WHERE id = ?"
	row := r.slaveDB.QueryRow(query, sessionID)

	var session model.Session
	var scaleSpec string
	err := row.Scan(&session.ID, &session.Name, &session.HostID, &scaleSpec, &session.NotifyOnAllVoted, &session.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, model.NotFoundError("会话 %s 不存在", sessionID)
		}
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}

	session.Scale = scale.Resolve(scaleSpec)
	return &session, nil
}

// GetSessionSecretHash 查询会话主持凭据哈希
func (r *MySQLRepository) GetSessionSecretHash(sessionID string) (string, error) {
	query := "SELECT secret_hash FROM sessions WHERE id = ?"

	var secretHash string
	err := r.slaveDB.QueryRow(query, sessionID).Scan(&secretHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", model.NotFoundError("会话 %s 不存在", sessionID)
		}
		return "", fmt.Errorf("查询会话凭据失败: %w", err)
	}

	return secretHash, nil
}

// ListSessionsByHost 查询主持人名下的所有会话
func (r *MySQLRepository) ListSessionsByHost(hostID string) ([]*model.Session, error) {
	query := `SELECT id, name, host_id, scale, notify_all_voted, created_at
			 FROM sessions WHERE host_id = ? ORDER BY created_at DESC`
	rows, err := r.slaveDB.Query(query, hostID)
	if err != nil {
		return nil, fmt.Errorf("查询主持人会话列表失败: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		var session model.Session
		var scaleSpec string
		if err := rows.Scan(&session.ID, &session.Name, &session.HostID, &scaleSpec, &session.NotifyOnAllVoted, &session.CreatedAt); err != nil {
			return nil, fmt.Errorf("扫描会话失败: %w", err)
		}
		session.Scale = scale.Resolve(scaleSpec)
		sessions = append(sessions, &session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代会话列表失败: %w", err)
	}

	return sessions, nil
}

// DeleteSession 删除会话并级联删除其故事、参与者与投票
func (r *MySQLRepository) DeleteSession(sessionID string) error {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}

	_, err = tx.Exec(`DELETE v FROM votes v
			 JOIN stories s ON v.story_id = s.id
			 WHERE s.session_id = ?`, sessionID)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("删除会话投票失败: %w", err)
	}

	if _, err = tx.Exec("DELETE FROM participants WHERE session_id = ?", sessionID); err != nil {
		tx.Rollback()
		return fmt.Errorf("删除会话参与者失败: %w", err)
	}

	if _, err = tx.Exec("DELETE FROM stories WHERE session_id = ?", sessionID); err != nil {
		tx.Rollback()
		return fmt.Errorf("删除会话故事失败: %w", err)
	}

	result, err := tx.Exec("DELETE FROM sessions WHERE id = ?", sessionID)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("删除会话失败: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("获取删除结果失败: %w", err)
	}
	if rowsAffected == 0 {
		tx.Rollback()
		return model.NotFoundError("会话 %s 不存在", sessionID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	return nil
}

// GetStories 按顺序索引升序返回会话的全部故事
func (r *MySQLRepository) GetStories(sessionID string) ([]*model.Story, error) {
	query := `SELECT id, session_id, title, description, final_estimate, order_index, status
			 FROM stories WHERE session_id = ? ORDER BY order_index ASC`
	rows, err := r.slaveDB.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("查询故事列表失败: %w", err)
	}
	defer rows.Close()

	var stories []*model.Story
	for rows.Next() {
		var story model.Story
		var status string
		if err := rows.Scan(&story.ID, &story.SessionID, &story.Title, &story.Description, &story.FinalEstimate, &story.OrderIndex, &status); err != nil {
			return nil, fmt.Errorf("扫描故事失败: %w", err)
		}
		story.Status = model.StoryStatus(status)
		stories = append(stories, &story)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代故事列表失败: %w", err)
	}

	return stories, nil
}

// GetParticipants 返回会话的全部参与者
func (r *MySQLRepository) GetParticipants(sessionID string) ([]*model.Participant, error) {
	query := `SELECT id, session_id, alias, connected, created_at
			 FROM participants WHERE session_id = ? ORDER BY created_at ASC`
	rows, err := r.slaveDB.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("查询参与者列表失败: %w", err)
	}
	defer rows.Close()

	var participants []*model.Participant
	for rows.Next() {
		var participant model.Participant
		if err := rows.Scan(&participant.ID, &participant.SessionID, &participant.Alias, &participant.Connected, &participant.CreatedAt); err != nil {
			return nil, fmt.Errorf("扫描参与者失败: %w", err)
		}
		participants = append(participants, &participant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代参与者列表失败: %w", err)
	}

	return participants, nil
}

// CreateParticipant 创建参与者
func (r *MySQLRepository) CreateParticipant(participant *model.Participant) error {
	query := `INSERT INTO participants (id, session_id, alias, connected, created_at)
			 VALUES (?, ?, ?, ?, ?)`
	_, err := r.masterDB.Exec(query,
		participant.ID,
		participant.SessionID,
		participant.Alias,
		participant.Connected,
		participant.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("写入参与者失败: %w", err)
	}
	return nil
}

// SetParticipantConnected 更新参与者在线标志
func (r *MySQLRepository) SetParticipantConnected(participantID string, connected bool) error {
	query := "UPDATE participants SET connected = ? WHERE id = ?"
	result, err := r.masterDB.Exec(query, connected, participantID)
	if err != nil {
		return fmt.Errorf("更新参与者在线状态失败: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("获取更新结果失败: %w", err)
	}
	if rowsAffected == 0 {
		return model.NotFoundError("参与者 %s 不存在", participantID)
	}

	return nil
}

// GetSessionVotes 返回会话内全部故事的投票
func (r *MySQLRepository) GetSessionVotes(sessionID string) ([]*model.Vote, error) {
	query := `SELECT v.participant_id, v.story_id, v.value, v.updated_at
			 FROM votes v
			 JOIN stories s ON v.story_id = s.id
			 WHERE s.session_id = ?`
	rows, err := r.slaveDB.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("查询会话投票失败: %w", err)
	}
	defer rows.Close()

	var votes []*model.Vote
	for rows.Next() {
		var vote model.Vote
		if err := rows.Scan(&vote.ParticipantID, &vote.StoryID, &vote.Value, &vote.UpdatedAt); err != nil {
			return nil, fmt.Errorf("扫描投票失败: %w", err)
		}
		votes = append(votes, &vote)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代投票失败: %w", err)
	}

	return votes, nil
}

// UpsertVote 写入一票，同一(参与者,故事)重复提交覆盖旧值
func (r *MySQLRepository) UpsertVote(vote *model.Vote) error {
	query := `INSERT INTO votes (participant_id, story_id, value, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE
			 value = VALUES(value),
			 updated_at = VALUES(updated_at)`
	_, err := r.masterDB.Exec(query,
		vote.ParticipantID,
		vote.StoryID,
		vote.Value,
		vote.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("写入投票失败: %w", err)
	}
	return nil
}

// DeleteStoryVotes 删除某故事的全部投票
func (r *MySQLRepository) DeleteStoryVotes(storyID string) error {
	query := "DELETE FROM votes WHERE story_id = ?"
	if _, err := r.masterDB.Exec(query, storyID); err != nil {
		return fmt.Errorf("删除故事投票失败: %w", err)
	}
	return nil
}

// AdvanceStory 在一个事务内落盘当前故事的终态并激活下一个故事
func (r *MySQLRepository) AdvanceStory(current *model.Story, nextStoryID string, deleteVotes bool) error {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}

	updateQuery := "UPDATE stories SET status = ?, final_estimate = ? WHERE id = ?"
	_, err = tx.Exec(updateQuery, string(current.Status), current.FinalEstimate, current.ID)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("更新故事 %s 状态失败: %w", current.ID, err)
	}

	if deleteVotes {
		if _, err := tx.Exec("DELETE FROM votes WHERE story_id = ?", current.ID); err != nil {
			tx.Rollback()
			return fmt.Errorf("删除故事 %s 投票失败: %w", current.ID, err)
		}
	}

	if nextStoryID != "" {
		activateQuery := "UPDATE stories SET status = ? WHERE id = ?"
		if _, err := tx.Exec(activateQuery, string(model.StoryStatusActive), nextStoryID); err != nil {
			tx.Rollback()
			return fmt.Errorf("激活故事 %s 失败: %w", nextStoryID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	return nil
}

// SaveSessionEvent 记录会话通知事件日志
func (r *MySQLRepository) SaveSessionEvent(event *model.SessionEvent) error {
	query := `INSERT INTO session_event_logs (event_type, session_id, story_id, final_estimate, occurred_at)
			 VALUES (?, ?, ?, ?, ?)`
	var storyID interface{}
	if event.StoryID != "" {
		storyID = event.StoryID
	}
	_, err := r.masterDB.Exec(query,
		event.Type,
		event.SessionID,
		storyID,
		event.FinalEstimate,
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("记录会话事件失败: %w", err)
	}
	return nil
}

// Close 关闭数据库连接
func (r *MySQLRepository) Close() {
	if r.masterDB != nil {
		r.masterDB.Close()
	}
	if r.slaveDB != nil && r.slaveDB != r.masterDB {
		r.slaveDB.Close()
	}
}
