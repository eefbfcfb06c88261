package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"knowledgelink-go/pkg/log"
)

var (
	// ErrQueueFull 表示缓冲区已满，调用方应稍后重试或向客户端返回 503。
	ErrQueueFull = errors.New("ingest queue is full")
	ErrStopped   = errors.New("ingest queue is stopped")
)

// PoolConfig 配置本地 worker 池。
type PoolConfig struct {
	Workers     int
	Buffer      int
	MaxAttempts int
	TaskTimeout time.Duration
	// InitialBackoff 是第一次重试前的等待时间，0 时使用 1s
	InitialBackoff time.Duration
	// OnDropped 在 Stop 丢弃缓冲区中尚未开始的任务时逐个调用，可以为 nil
	OnDropped func(task IngestTask)
}

// Stats 是 worker 池的运行计数。
type Stats struct {
	Queued    int64 `json:"queued"`
	Running   int64 `json:"running"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
}

// Pool 是一个有界的进程内任务队列，固定数量的 worker 并发执行任务，失败时按指数退避重试。
type Pool struct {
	cfg     PoolConfig
	handler Handler
	ch      chan IngestTask

	mu      sync.RWMutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	queued, running, succeeded, failed, retried atomic.Int64
}

func NewPool(cfg PoolConfig, handler Handler) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	return &Pool{cfg: cfg, handler: handler, ch: make(chan IngestTask, cfg.Buffer)}
}

// Start 启动 worker，ctx 取消或调用 Stop 后 worker 退出。
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	log.Infof("[Pool] 启动 %d 个摄取 worker, 缓冲区: %d", p.cfg.Workers, p.cfg.Buffer)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}
}

// Enqueue 非阻塞地提交任务，缓冲区满时返回 ErrQueueFull。
func (p *Pool) Enqueue(_ context.Context, task IngestTask) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.ch <- task:
		p.queued.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop 停止接收新任务，等待已取出的任务结束。缓冲区中尚未开始的任务会被丢弃，
// 丢弃的任务逐个记录日志并交给 OnDropped。
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.ch)
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	log.Info("[Pool] 所有 worker 已退出")

	// worker 已全部退出，通道已关闭，range 会取完剩余任务后结束
	for task := range p.ch {
		p.drop(task)
	}
}

func (p *Pool) drop(task IngestTask) {
	p.queued.Add(-1)
	log.Warnf("[Pool] 停机丢弃未开始的任务: document=%s", task.DocumentID)
	if p.cfg.OnDropped != nil {
		p.cfg.OnDropped(task)
	}
}

func (p *Pool) Stats() Stats {
	return Stats{
		Queued:    p.queued.Load(),
		Running:   p.running.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		Retried:   p.retried.Load(),
	}
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.ch:
			if !ok {
				return
			}
			// select 在 ctx 取消后仍可能选中通道
			if ctx.Err() != nil {
				p.drop(task)
				return
			}
			p.queued.Add(-1)
			p.run(ctx, workerID, task)
		}
	}
}

func (p *Pool) run(ctx context.Context, workerID int, task IngestTask) {
	p.running.Add(1)
	defer p.running.Add(-1)

	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			p.retried.Add(1)
		}
		taskCtx := ctx
		if p.cfg.TaskTimeout > 0 {
			var cancel context.CancelFunc
			taskCtx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
			defer cancel()
		}
		err := p.handler.Process(taskCtx, task)
		if err != nil {
			log.Warnf("[Worker-%d] 任务失败 (第 %d/%d 次): document=%s, err=%v", workerID, attempt, p.cfg.MaxAttempts, task.DocumentID, err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.cfg.MaxAttempts-1)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		p.failed.Add(1)
		log.Errorf("[Worker-%d] 任务最终失败: document=%s, err=%v", workerID, task.DocumentID, err)
		return
	}
	p.succeeded.Add(1)
	log.Infof("[Worker-%d] 任务完成: document=%s", workerID, task.DocumentID)
}
