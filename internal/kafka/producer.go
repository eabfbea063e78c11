package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/lvdashuaibi/planningpoker/config"
	"github.com/lvdashuaibi/planningpoker/internal/model"
	"github.com/segmentio/kafka-go"
)

type Producer struct {
	writer *kafka.Writer
	ctx    context.Context
}

func NewProducer() (*Producer, error) {
	ctx := context.Background()

	// 连接测试
	conn, err := kafka.DialLeader(ctx, "tcp", config.AppConfig.Kafka.Brokers[0], config.AppConfig.Kafka.Topic, 0)
	if err != nil {
		return nil, fmt.Errorf("连接Kafka失败: %w", err)
	}
	conn.Close()

	// 使用Hash分区器，同一会话的事件进入同一分区，保持会话内顺序
	writer := &kafka.Writer{
		Addr:     kafka.TCP(config.AppConfig.Kafka.Brokers...),
		Topic:    config.AppConfig.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}

	return &Producer{
		writer: writer,
		ctx:    ctx,
	}, nil
}

// SendSessionEvent 发送会话通知事件到Kafka
func (p *Producer) SendSessionEvent(event *model.SessionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化会话事件失败: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.SessionID),
		Value: data,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(p.ctx, msg); err != nil {
		return fmt.Errorf("发送会话事件失败: %w", err)
	}

	log.Printf("已发送会话事件: 类型=%s, 会话=%s", event.Type, event.SessionID)
	return nil
}

// Close 关闭Kafka生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}
