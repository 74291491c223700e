package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	rediscommon "investorkonnect-signing/common/redis"

	"github.com/go-redis/redis/v8"
)

// FunctionCreateInvitesAfterInvestorSign 投资人签署后创建房间与邀请
const FunctionCreateInvitesAfterInvestorSign = "createInvitesAfterInvestorSign"

// FunctionInvoker 按名称触发的 fire-and-forget 函数
type FunctionInvoker interface {
	Invoke(ctx context.Context, name string, payload any) error
}

// FunctionCall 函数调用消息（stream "data" 字段）
type FunctionCall struct {
	Function string          `json:"function"`
	Payload  json.RawMessage `json:"payload"`
}

// FunctionHandler 函数实现
type FunctionHandler func(ctx context.Context, payload json.RawMessage) error

// LocalFunctionInvoker 进程内注册表，同步执行
type LocalFunctionInvoker struct {
	mu       sync.RWMutex
	handlers map[string]FunctionHandler
}

func NewLocalFunctionInvoker() *LocalFunctionInvoker {
	return &LocalFunctionInvoker{handlers: map[string]FunctionHandler{}}
}

var _ FunctionInvoker = (*LocalFunctionInvoker)(nil)

func (l *LocalFunctionInvoker) Register(name string, h FunctionHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[name] = h
}

func (l *LocalFunctionInvoker) Invoke(ctx context.Context, name string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	return l.Dispatch(ctx, FunctionCall{Function: name, Payload: raw})
}

// Dispatch runs a decoded call against the registry.
func (l *LocalFunctionInvoker) Dispatch(ctx context.Context, call FunctionCall) error {
	l.mu.RLock()
	h, ok := l.handlers[call.Function]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown function %q", call.Function)
	}
	return h(ctx, call.Payload)
}

// StreamFunctionInvoker 写入 Redis Stream，由 worker 异步消费
type StreamFunctionInvoker struct {
	client *redis.Client
	stream string
}

func NewStreamFunctionInvoker(client *redis.Client, stream string) *StreamFunctionInvoker {
	return &StreamFunctionInvoker{client: client, stream: stream}
}

var _ FunctionInvoker = (*StreamFunctionInvoker)(nil)

func (s *StreamFunctionInvoker) Invoke(ctx context.Context, name string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	if _, err := rediscommon.PublishJSONToStream(ctx, s.client, s.stream, FunctionCall{Function: name, Payload: raw}); err != nil {
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}
	return nil
}
