// Package embedding 是与外部 embedding 服务交互的唯一入口。
//
// 所有调用都遵循同一个失败约定：网络错误、超时、限流在网关内部被吸收，
// 对应输入的结果为 nil 并记录日志，不向上层传播。未配置 API Key 时网关处于禁用状态。
package embedding

import (
	"context"
	"errors"
)

// ErrDisabled 表示 embedding 服务未配置（缺少凭证），与临时失败区分开。
var ErrDisabled = errors.New("embedding provider is not configured")

// Client 是 pipeline 与检索服务依赖的 embedding 接口。
type Client interface {
	// Enabled 为 false 时 Embed/EmbedBatch 不会发起任何网络请求。
	Enabled() bool
	// Model 返回写入分块的模型版本。
	Model() string
	// Embed 返回 text 的向量，失败或输入为空时返回 nil。
	Embed(ctx context.Context, text string) []float32
	// EmbedBatch 返回与 texts 等长、同序的结果，失败的位置为 nil。
	EmbedBatch(ctx context.Context, texts []string) [][]float32
}

// Provider 是底层的批量 embedding 调用，返回值必须与 texts 等长。
type Provider interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}
