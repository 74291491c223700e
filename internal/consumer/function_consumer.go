package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rediscommon "investorkonnect-signing/common/redis"
	"investorkonnect-signing/internal/service"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Dispatcher 执行一条函数调用
type Dispatcher interface {
	Dispatch(ctx context.Context, call service.FunctionCall) error
}

// FunctionConsumer 消费 functions stream，将调用分发给本地注册表
type FunctionConsumer struct {
	redisClient  *redis.Client
	dispatcher   Dispatcher
	logger       *zap.Logger
	stream       string
	groupName    string
	consumerName string
	batchSize    int64
	block        time.Duration
}

func NewFunctionConsumer(
	redisClient *redis.Client,
	dispatcher Dispatcher,
	logger *zap.Logger,
	stream string,
	groupName string,
	consumerName string,
	batchSize int64,
) *FunctionConsumer {
	return &FunctionConsumer{
		redisClient:  redisClient,
		dispatcher:   dispatcher,
		logger:       logger,
		stream:       stream,
		groupName:    groupName,
		consumerName: consumerName,
		batchSize:    batchSize,
		block:        2 * time.Second,
	}
}

// Start 阻塞消费直到 ctx 结束
func (c *FunctionConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.stream, c.groupName); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Function consumer started",
		zap.String("stream", c.stream),
		zap.String("consumer_group", c.groupName),
		zap.String("consumer_name", c.consumerName),
	)

	// 消费（带指数退避）
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := c.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume function calls",
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > maxBackoff {
					backoffDuration = maxBackoff
				}
			}
			continue
		}
		backoffDuration = time.Second
	}
}

// consumeOnce 读取一批消息；处理成功才 ack，失败的留在 pending 列表
func (c *FunctionConsumer) consumeOnce(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(ctx, c.redisClient, c.stream, c.groupName, c.consumerName, c.batchSize, c.block)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		call, err := parseCall(msg)
		if err != nil {
			// 无法解析的消息重试也不会成功，直接确认丢弃
			c.logger.Warn("Dropping malformed function call",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			c.ack(ctx, msg.ID)
			continue
		}

		if err := c.dispatcher.Dispatch(ctx, call); err != nil {
			c.logger.Error("Function call failed",
				zap.String("message_id", msg.ID),
				zap.String("function", call.Function),
				zap.Error(err),
			)
			continue
		}
		c.ack(ctx, msg.ID)
	}
	return nil
}

func (c *FunctionConsumer) ack(ctx context.Context, id string) {
	if err := rediscommon.Ack(ctx, c.redisClient, c.stream, c.groupName, id); err != nil {
		c.logger.Warn("Failed to ack message",
			zap.String("message_id", id),
			zap.Error(err),
		)
	}
}

func parseCall(msg rediscommon.StreamMessage) (service.FunctionCall, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return service.FunctionCall{}, fmt.Errorf("message has no data field")
	}
	var call service.FunctionCall
	if err := json.Unmarshal([]byte(data), &call); err != nil {
		return service.FunctionCall{}, err
	}
	if call.Function == "" {
		return service.FunctionCall{}, fmt.Errorf("function name is empty")
	}
	return call, nil
}
