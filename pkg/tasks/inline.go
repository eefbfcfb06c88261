package tasks

import (
	"context"

	"knowledgelink-go/pkg/log"
)

// Inline 在调用方 goroutine 中同步执行任务，供命令行工具使用。
// 处理错误只记录日志，文档状态由 Handler 自己维护。
type Inline struct {
	Handler Handler
}

func (q Inline) Enqueue(ctx context.Context, task IngestTask) error {
	if err := q.Handler.Process(ctx, task); err != nil {
		log.Warnf("[Inline] 任务失败: document=%s, err=%v", task.DocumentID, err)
	}
	return nil
}
