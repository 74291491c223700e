package service

import (
	"errors"
	"fmt"
)

var (
	// ErrDraftNotFound: agreement 既没有可解析的草稿 id，也找不到投资人的最新草稿
	ErrDraftNotFound = errors.New("deal draft not found")
	// ErrNoAgentsSelected: 草稿未选择任何经纪人，无法创建 Deal
	ErrNoAgentsSelected = errors.New("no agents selected on deal draft")
	// ErrMaterializationBusy: 另一写入方正持有该协议的物化锁
	ErrMaterializationBusy = errors.New("deal materialization in progress")
)

// NotFoundError 实体不存在
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ConfigError 配置/凭据问题（如 OAuth refresh 失败），对本次调用是致命的
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// BadRequestError 调用方输入不合法
type BadRequestError struct {
	Msg string
}

func (e *BadRequestError) Error() string { return e.Msg }
