package kafka

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/lvdashuaibi/planningpoker/config"
	"github.com/lvdashuaibi/planningpoker/internal/model"
	"github.com/segmentio/kafka-go"
)

type Consumer struct {
	reader *kafka.Reader
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type MessageHandler func(event *model.SessionEvent) error

func NewConsumer() (*Consumer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  config.AppConfig.Kafka.Brokers,
		Topic:    config.AppConfig.Kafka.Topic,
		GroupID:  config.AppConfig.Kafka.GroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{
		reader: reader,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// StartConsuming 开始消费会话事件
func (c *Consumer) StartConsuming(handler MessageHandler) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeMessages(handler)
	}()

	log.Printf("Kafka会话事件消费者已启动，GroupID: %s", config.AppConfig.Kafka.GroupID)
}

func (c *Consumer) consumeMessages(handler MessageHandler) {
	for {
		select {
		case <-c.ctx.Done():
			log.Println("会话事件消费者收到停止信号")
			return
		default:
			m, err := c.reader.ReadMessage(c.ctx)
			if err != nil {
				if err == context.Canceled {
					return
				}
				log.Printf("读取会话事件失败: %v", err)
				time.Sleep(time.Second)
				continue
			}

			var event model.SessionEvent
			if err := json.Unmarshal(m.Value, &event); err != nil {
				log.Printf("解析会话事件失败: %v", err)
				continue
			}

			if err := handler(&event); err != nil {
				log.Printf("处理会话事件失败: 类型=%s, 会话=%s, 错误=%v", event.Type, event.SessionID, err)
			}
		}
	}
}

// Stop 停止消费
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()

	if err := c.reader.Close(); err != nil {
		log.Printf("关闭会话事件消费者失败: %v", err)
		return err
	}

	log.Println("会话事件消费者已停止")
	return nil
}
