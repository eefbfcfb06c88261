// Package tasks 定义后台摄取任务及其本地执行队列。
package tasks

import "context"

// IngestTask 描述一次链接摄取：抓取、抽取、分块、嵌入并写入向量库。
type IngestTask struct {
	DocumentID string `json:"document_id"`
	URL        string `json:"url"`
	UserID     uint   `json:"user_id"`
	// UseSnapshot 为 true 时优先使用对象存储中的页面快照，而不重新抓取
	UseSnapshot bool `json:"use_snapshot"`
}

// Handler 处理单个摄取任务。返回错误表示可以重试。
type Handler interface {
	Process(ctx context.Context, task IngestTask) error
}

// HandlerFunc 让普通函数实现 Handler。
type HandlerFunc func(ctx context.Context, task IngestTask) error

func (f HandlerFunc) Process(ctx context.Context, task IngestTask) error { return f(ctx, task) }

// Queue 接收待执行的摄取任务，本地 worker 池和 Kafka 生产者都实现了它。
type Queue interface {
	Enqueue(ctx context.Context, task IngestTask) error
}
