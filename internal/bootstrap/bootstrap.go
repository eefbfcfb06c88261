// Package bootstrap 在进程启动时创建所有依赖并完成注入。
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"knowledgelink-go/internal/chunker"
	"knowledgelink-go/internal/config"
	"knowledgelink-go/internal/extractor"
	"knowledgelink-go/internal/handler"
	"knowledgelink-go/internal/model"
	"knowledgelink-go/internal/pipeline"
	"knowledgelink-go/internal/repository"
	"knowledgelink-go/internal/service"
	"knowledgelink-go/internal/vectorstore"
	"knowledgelink-go/pkg/database"
	"knowledgelink-go/pkg/embedding"
	"knowledgelink-go/pkg/es"
	"knowledgelink-go/pkg/fetcher"
	"knowledgelink-go/pkg/kafka"
	"knowledgelink-go/pkg/llm"
	"knowledgelink-go/pkg/log"
	"knowledgelink-go/pkg/storage"
	"knowledgelink-go/pkg/tasks"
	"knowledgelink-go/pkg/tika"
	"knowledgelink-go/pkg/token"
)

// App 持有所有已初始化的组件。
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Redis     *redis.Client
	Docs      repository.DocumentRepository
	Store     *vectorstore.Store
	Processor *pipeline.Processor
	Documents service.DocumentService
	Search    service.SearchService
	JWT       *token.JWTManager
	Router    *gin.Engine

	pool     *tasks.Pool
	producer *kafka.Producer
	consumer *kafka.Consumer
	closers  []func()
}

// New 初始化所有依赖。返回的 cleanup 按创建的逆序释放资源。
// 未配置 MySQL 时使用内存仓库，未配置 Redis/MinIO/Tika 时对应功能关闭，
// ANN 索引初始化失败时只使用暴力检索。
func New(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	app := &App{Config: cfg}
	cleanup := func() {
		for i := len(app.closers) - 1; i >= 0; i-- {
			app.closers[i]()
		}
	}
	if err := app.init(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	return app, cleanup, nil
}

func (a *App) onClose(f func()) { a.closers = append(a.closers, f) }

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	// 1. 存储
	var chunks repository.ChunkRepository
	if cfg.Database.MySQL.DSN != "" {
		db, err := database.NewMySQL(cfg.Database.MySQL.DSN)
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
		a.DB = db
		if sqlDB, err := db.DB(); err == nil {
			a.onClose(func() { _ = sqlDB.Close() })
		}
		a.Docs = repository.NewDocumentRepository(db)
		chunks = repository.NewChunkRepository(db)
	} else {
		log.Warnf("[Bootstrap] 未配置 database.mysql.dsn，使用内存存储，重启后数据丢失")
		a.Docs = repository.NewMemoryDocumentRepository()
		chunks = repository.NewMemoryChunkRepository()
	}

	if cfg.Database.Redis.Addr != "" {
		rdb, err := database.NewRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
		if err != nil {
			return err
		}
		a.Redis = rdb
		a.onClose(func() { _ = rdb.Close() })
	}

	// 2. 外部服务
	embedder := embedding.NewCachedClient(embedding.NewFromConfig(cfg.Embedding), a.Redis, cfg.Embedding.CacheTTL)
	summarizer := llm.NewFromConfig(cfg.LLM)

	var extOpts []extractor.Option
	if tc := tika.NewClient(cfg.Tika.ServerURL); tc != nil {
		extOpts = append(extOpts, extractor.WithConverter(tc))
	}

	// 3. 向量库
	storeOpts := []vectorstore.Option{
		vectorstore.WithFallbackLimit(cfg.Vector.FallbackLimit),
		vectorstore.WithDimensions(cfg.Embedding.Dimensions),
		vectorstore.WithModelVersion(cfg.Embedding.Model),
	}
	if idx := a.newIndex(ctx); idx != nil {
		storeOpts = append(storeOpts, vectorstore.WithIndex(idx))
	}
	a.Store = vectorstore.NewStore(chunks, storeOpts...)

	snapshots, err := storage.NewSnapshotStore(ctx, storage.Config{
		Endpoint:        cfg.MinIO.Endpoint,
		AccessKeyID:     cfg.MinIO.AccessKeyID,
		SecretAccessKey: cfg.MinIO.SecretAccessKey,
		UseSSL:          cfg.MinIO.UseSSL,
		BucketName:      cfg.MinIO.BucketName,
	})
	if err != nil {
		return err
	}
	// 避免把 nil 指针装进接口
	var pipelineSnapshots pipeline.SnapshotStore
	var serviceSnapshots service.SnapshotRemover
	if snapshots != nil {
		pipelineSnapshots, serviceSnapshots = snapshots, snapshots
	}

	// 4. 摄取流程
	a.Processor = pipeline.NewProcessor(
		a.Docs,
		fetcher.New(fetcher.Config{
			Timeout:      cfg.Fetcher.Timeout,
			MaxBodyBytes: cfg.Fetcher.MaxBodyBytes,
			UserAgent:    cfg.Fetcher.UserAgent,
		}),
		extractor.New(extOpts...),
		chunker.New(chunker.WithSize(cfg.Chunker.Size), chunker.WithOverlap(cfg.Chunker.Overlap)),
		embedder,
		summarizer,
		a.Store,
		pipelineSnapshots,
	)

	// 5. 任务队列
	queue := a.newQueue(ctx)

	// 6. Service 与路由
	a.Documents = service.NewDocumentService(a.Docs, a.Store, queue, serviceSnapshots)
	a.Search = service.NewSearchService(embedder, a.Store, a.Docs, cfg.Search)
	a.JWT = token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	a.Router = NewRouter(cfg.Server.Mode, RouterDeps{
		Documents: handler.NewDocumentHandler(a.Documents),
		Search:    handler.NewSearchHandler(a.Search),
		Health:    handler.NewHealthHandler(a.healthChecks(), a.queueStats()),
		JWT:       a.JWT,
	})
	return nil
}

// newIndex 按 vector.index 创建 ANN 索引，失败时返回 nil。
func (a *App) newIndex(ctx context.Context) vectorstore.Index {
	cfg := a.Config
	switch cfg.Vector.Index {
	case "elasticsearch":
		client, err := es.NewClient(es.Config{
			Addresses: cfg.Elasticsearch.Addresses,
			Username:  cfg.Elasticsearch.Username,
			Password:  cfg.Elasticsearch.Password,

			InsecureSkipVerify: cfg.Elasticsearch.InsecureSkipVerify,
		})
		if err == nil {
			err = es.EnsureIndex(ctx, client, cfg.Elasticsearch.IndexName, cfg.Embedding.Dimensions)
		}
		if err != nil {
			log.Warnw("[Bootstrap] Elasticsearch 不可用，检索将使用暴力扫描", "error", err)
			return nil
		}
		return vectorstore.NewESIndex(client, cfg.Elasticsearch.IndexName)
	case "qdrant":
		idx, err := vectorstore.NewQdrantIndex(vectorstore.QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
			Collection: cfg.Qdrant.Collection,
		})
		if err == nil {
			if err = idx.EnsureCollection(ctx, cfg.Embedding.Dimensions); err != nil {
				_ = idx.Close()
			}
		}
		if err != nil {
			log.Warnw("[Bootstrap] Qdrant 不可用，检索将使用暴力扫描", "error", err)
			return nil
		}
		a.onClose(func() { _ = idx.Close() })
		return idx
	default:
		log.Info("[Bootstrap] 未启用 ANN 索引，检索使用暴力扫描")
		return nil
	}
}

// newQueue 启动本地 worker 池或 Kafka 生产者/消费者。
func (a *App) newQueue(ctx context.Context) tasks.Queue {
	cfg := a.Config
	switch cfg.Queue.Mode {
	case "inline":
		return tasks.Inline{Handler: a.processorWithTimeout()}
	case "kafka":
		kcfg := kafka.Config{
			Brokers:     cfg.Kafka.BrokerList(),
			Topic:       cfg.Kafka.Topic,
			GroupID:     cfg.Kafka.GroupID,
			Consumers:   cfg.Kafka.Consumers,
			MaxAttempts: cfg.Queue.MaxAttempts,
		}
		a.producer = kafka.NewProducer(kcfg)
		consumerCtx, cancel := context.WithCancel(ctx)
		a.consumer = kafka.NewConsumer(kcfg, a.processorWithTimeout(), a.Redis)
		a.consumer.Start(consumerCtx)
		a.onClose(func() { _ = a.producer.Close() })
		a.onClose(func() {
			cancel()
			a.consumer.Wait()
		})
		return a.producer
	}

	a.pool = tasks.NewPool(tasks.PoolConfig{
		Workers:     cfg.Queue.Workers,
		Buffer:      cfg.Queue.Buffer,
		MaxAttempts: cfg.Queue.MaxAttempts,
		TaskTimeout: cfg.Queue.TaskTimeout,
		OnDropped:   a.markInterrupted,
	}, a.Processor)
	a.pool.Start(ctx)
	a.onClose(a.pool.Stop)
	return a.pool
}

// processorWithTimeout 为 Kafka 消费者和同步队列的每个任务加上超时，本地池自行处理超时。
func (a *App) processorWithTimeout() tasks.Handler {
	timeout := a.Config.Queue.TaskTimeout
	return tasks.HandlerFunc(func(ctx context.Context, task tasks.IngestTask) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return a.Processor.Process(ctx, task)
	})
}

// InterruptedReason 是停机时未开始处理的文档的失败原因。
const InterruptedReason = "ingest interrupted by shutdown; reprocess the link to retry"

// markInterrupted 把停机时还在缓冲区中的任务对应的文档标记为 failed，避免永远停在 pending。
func (a *App) markInterrupted(task tasks.IngestTask) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.Docs.UpdateStatus(ctx, task.DocumentID, model.StatusFailed, InterruptedReason)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		log.Errorf("[Bootstrap] 标记中断任务失败, DocumentID: %s, Error: %v", task.DocumentID, err)
	}
}

func (a *App) healthChecks() map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{}
	if a.DB != nil {
		checks["mysql"] = func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}
	}
	return checks
}

func (a *App) queueStats() func() interface{} {
	if a.pool == nil {
		return nil
	}
	return func() interface{} { return a.pool.Stats() }
}
