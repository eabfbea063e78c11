package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/lvdashuaibi/planningpoker/config"
	"github.com/lvdashuaibi/planningpoker/internal/model"
)

const (
	// Redis键前缀
	SessionDetailKey = "session:detail:"
)

// RedisRepository 会话快照的旁路缓存，减轻查询接口对MySQL的压力
type RedisRepository struct {
	client *redis.Client
	ctx    context.Context
}

func NewRedisRepository() (*RedisRepository, error) {
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{
		Addr:         config.AppConfig.Redis.DataAddress,
		Password:     config.AppConfig.Redis.Password,
		DB:           config.AppConfig.Redis.DB,
		PoolSize:     config.AppConfig.Redis.PoolSize,
		MaxRetries:   config.AppConfig.Redis.MaxRetries,
		DialTimeout:  config.AppConfig.Redis.Timeout,
		ReadTimeout:  config.AppConfig.Redis.Timeout,
		WriteTimeout: config.AppConfig.Redis.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis连接测试失败: %w", err)
	}

	return &RedisRepository{
		client: client,
		ctx:    ctx,
	}, nil
}

// GetSessionDetail 从缓存获取会话快照
func (r *RedisRepository) GetSessionDetail(sessionID string) (*model.SessionDetail, bool, error) {
	key := SessionDetailKey + sessionID
	data, err := r.client.Get(r.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil // 缓存未命中
		}
		return nil, false, fmt.Errorf("获取会话快照缓存失败: %w", err)
	}

	var detail model.SessionDetail
	if err := json.Unmarshal([]byte(data), &detail); err != nil {
		return nil, false, fmt.Errorf("解析会话快照缓存失败: %w", err)
	}

	return &detail, true, nil
}

// SetSessionDetail 设置会话快照缓存
func (r *RedisRepository) SetSessionDetail(detail *model.SessionDetail) error {
	if detail == nil || detail.Session == nil {
		return fmt.Errorf("会话快照为空")
	}

	key := SessionDetailKey + detail.Session.ID
	data, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("序列化会话快照失败: %w", err)
	}

	if err := r.client.Set(r.ctx, key, data, config.AppConfig.Session.CacheTTL).Err(); err != nil {
		return fmt.Errorf("设置会话快照缓存失败: %w", err)
	}

	return nil
}

// DeleteSessionDetail 删除会话快照缓存，任何会话变更后调用
func (r *RedisRepository) DeleteSessionDetail(sessionID string) error {
	key := SessionDetailKey + sessionID
	if err := r.client.Del(r.ctx, key).Err(); err != nil {
		return fmt.Errorf("删除会话快照缓存失败: %w", err)
	}
	return nil
}

// Close 关闭Redis连接
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
