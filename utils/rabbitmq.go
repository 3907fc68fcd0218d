package utils

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

const (
	EventExchange   = "nft_settlement_exchange"
	EventRoutingKey = "settlement."
)

// RabbitPublisher 结算事件发布（提交成功后广播）
type RabbitPublisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	mu   sync.Mutex // amqp.Channel 不支持并发发布
}

// InitRabbitMQ 初始化RabbitMQ并声明事件交换机
func InitRabbitMQ(url string) (*RabbitPublisher, error) {
	// 建立连接
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	// 建立通道
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	// 声明交换机（topic，按事件名路由）
	err = ch.ExchangeDeclare(
		EventExchange, // 交换机名
		"topic",       // 类型
		true,          // 持久化
		false,         // 自动删除
		false,         // 内部
		false,         // 等待
		nil,           // 参数
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &RabbitPublisher{conn: conn, ch: ch}, nil
}

// Publish 发布事件，路由键为 settlement.<事件名>
func (p *RabbitPublisher) Publish(ctx context.Context, event string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Publish(
		EventExchange,
		EventRoutingKey+event,
		false, // 强制
		false, // 立即
		amqp.Publishing{
			ContentType:  "application/json",
			Type:         event,
			Body:         body,
			DeliveryMode: amqp.Persistent, // 持久化
			Timestamp:    time.Now(),
		},
	)
}

// Close 关闭RabbitMQ连接
func (p *RabbitPublisher) Close() {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
