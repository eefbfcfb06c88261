// Package pipeline 定义了链接摄取的核心流程：抓取、提取、分块、向量化、写入向量库。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"knowledgelink-go/internal/chunker"
	"knowledgelink-go/internal/extractor"
	"knowledgelink-go/internal/model"
	"knowledgelink-go/internal/repository"
	"knowledgelink-go/internal/vectorstore"
	"knowledgelink-go/pkg/embedding"
	"knowledgelink-go/pkg/fetcher"
	"knowledgelink-go/pkg/log"
	"knowledgelink-go/pkg/storage"
	"knowledgelink-go/pkg/tasks"
)

const maxLastError = 1000

// PageFetcher 抓取链接内容。
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Page, error)
}

// TextSummarizer 生成摘要和标题，失败时返回空串。
type TextSummarizer interface {
	Summarize(ctx context.Context, text string) string
	GenerateTitle(ctx context.Context, text string) string
}

// ChunkStore 是向量库中摄取用到的部分。
type ChunkStore interface {
	Replace(ctx context.Context, documentID string, chunks []string, vectors [][]float32, metadata map[string]string, userID uint) error
	DeleteByDocument(ctx context.Context, documentID string) error
}

// SnapshotStore 保存原始页面，用于不重新抓取的重新处理。
type SnapshotStore interface {
	Put(ctx context.Context, documentID string, snap storage.Snapshot) error
	Get(ctx context.Context, documentID string) (*storage.Snapshot, error)
	Remove(ctx context.Context, documentID string) error
}

// Processor 封装了链接摄取的所有依赖和逻辑。
type Processor struct {
	docs       repository.DocumentRepository
	fetcher    PageFetcher
	extractor  *extractor.Extractor
	chunker    *chunker.Chunker
	embedder   embedding.Client
	summarizer TextSummarizer
	store      ChunkStore
	snapshots  SnapshotStore
}

// NewProcessor 创建一个新的 Processor 实例。snapshots 可以为 nil。
func NewProcessor(
	docs repository.DocumentRepository,
	pageFetcher PageFetcher,
	ext *extractor.Extractor,
	chk *chunker.Chunker,
	embedder embedding.Client,
	summarizer TextSummarizer,
	store ChunkStore,
	snapshots SnapshotStore,
) *Processor {
	return &Processor{
		docs:       docs,
		fetcher:    pageFetcher,
		extractor:  ext,
		chunker:    chk,
		embedder:   embedder,
		summarizer: summarizer,
		store:      store,
		snapshots:  snapshots,
	}
}

var _ tasks.Handler = (*Processor)(nil)

// Process 执行一次摄取。抓取或提取失败只会让文档进入 failed 状态，不返回错误；
// 返回错误表示值得重试（分块全部向量化失败、写库失败）。
// 摄取过程中文档被删除时，放弃本次结果并清掉已写入的分块，文档不会被重新创建。
func (p *Processor) Process(ctx context.Context, task tasks.IngestTask) error {
	log.Infof("[Processor] 开始处理链接, DocumentID: %s, URL: %s, UserID: %d", task.DocumentID, task.URL, task.UserID)

	doc, err := p.docs.FindByID(ctx, task.DocumentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// 上一次尝试可能在删除之后写入过分块
			return p.abandon(ctx, task.DocumentID)
		}
		return fmt.Errorf("load document: %w", err)
	}
	if err := p.docs.UpdateStatus(ctx, doc.ID, model.StatusProcessing, ""); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return p.abandon(ctx, doc.ID)
		}
		return fmt.Errorf("mark processing: %w", err)
	}
	doc.Status, doc.LastError = model.StatusProcessing, ""

	// 1. 获取原始内容
	log.Infof("[Processor] 步骤1: 获取页面内容, snapshot: %v", task.UseSnapshot)
	raw, contentType, fetchErr := p.load(ctx, doc, task.UseSnapshot)

	// 2. 提取正文和元数据
	var res extractor.Result
	if fetchErr != nil {
		log.Warnf("[Processor] 抓取失败, URL: %s, Error: %v", doc.URL, fetchErr)
		res = extractor.FailedResult(doc.URL, fetchErr)
	} else {
		res = p.extractor.Extract(ctx, raw, contentType, doc.URL)
	}
	log.Infof("[Processor] 步骤2: 提取完成, kind: %s, 字数: %d, 正文长度: %d", res.Kind, res.WordCount, utf8.RuneCountInString(res.Text))

	p.applyExtraction(ctx, doc, res)

	if !res.HasText() {
		// 没有正文：清掉旧分块，保证失败的文档不会出现在检索结果中
		if err := p.store.DeleteByDocument(ctx, doc.ID); err != nil {
			log.Errorf("[Processor] 清理旧分块失败, DocumentID: %s, Error: %v", doc.ID, err)
		}
		reason := res.Metadata["error"]
		if reason == "" {
			reason = "no extractable content"
		}
		return p.fail(ctx, doc, reason, nil)
	}

	// 3. 摘要
	if summary := p.summarizer.Summarize(ctx, res.Text); summary != "" {
		doc.Summary = &summary
	}
	if err := p.docs.Update(ctx, doc); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return p.abandon(ctx, doc.ID)
		}
		return fmt.Errorf("save extracted content: %w", err)
	}
	log.Info("[Processor] 步骤3: 正文与摘要已保存")

	// 4. 分块
	chunks := p.chunker.Chunk(res.Text)
	log.Infof("[Processor] 步骤4: 文本分块完成, 共生成 %d 个分块 (size: %d, overlap: %d)", len(chunks), p.chunker.Size(), p.chunker.Overlap())
	if len(chunks) == 0 {
		return p.fail(ctx, doc, "no chunks produced", nil)
	}

	// 5. 向量化并写入向量库
	if !p.embedder.Enabled() {
		return p.fail(ctx, doc, embedding.ErrDisabled.Error(), nil)
	}
	vectors := p.embedder.EmbedBatch(ctx, chunks)
	meta := map[string]string{
		"url":          doc.URL,
		"title":        model.Deref(doc.Title),
		"content_type": string(res.Kind),
	}
	if err := p.store.Replace(ctx, doc.ID, chunks, vectors, meta, doc.UserID); err != nil {
		if errors.Is(err, vectorstore.ErrNoVectors) {
			return p.fail(ctx, doc, "embedding failed for every chunk", err)
		}
		return p.fail(ctx, doc, err.Error(), err)
	}
	log.Infof("[Processor] 步骤5: 分块向量化并写入向量库完成, DocumentID: %s", doc.ID)

	// 删除可能发生在写入分块之前，此时删除方的清理已经结束，由本次摄取负责清理
	if _, err := p.docs.FindByID(ctx, doc.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return p.abandon(ctx, doc.ID)
		}
		return fmt.Errorf("recheck document: %w", err)
	}
	if err := p.docs.UpdateStatus(ctx, doc.ID, model.StatusReady, ""); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return p.abandon(ctx, doc.ID)
		}
		return fmt.Errorf("mark ready: %w", err)
	}
	log.Infof("[Processor] 链接处理成功完成, DocumentID: %s", doc.ID)
	return nil
}

// load 返回原始字节和 Content-Type。useSnapshot 时优先读取快照，读取失败再抓取；
// 抓取成功后覆盖保存快照。
func (p *Processor) load(ctx context.Context, doc *model.Document, useSnapshot bool) ([]byte, string, error) {
	if useSnapshot && p.snapshots != nil {
		snap, err := p.snapshots.Get(ctx, doc.ID)
		if err == nil {
			return snap.Body, snap.ContentType, nil
		}
		log.Warnf("[Processor] 读取快照失败，改为重新抓取, DocumentID: %s, Error: %v", doc.ID, err)
	}

	page, err := p.fetcher.Fetch(ctx, doc.URL)
	if err != nil {
		return nil, "", err
	}
	if p.snapshots != nil {
		if err := p.snapshots.Put(ctx, doc.ID, storage.Snapshot{Body: page.Body, ContentType: page.ContentType}); err != nil {
			log.Warnf("[Processor] 保存快照失败, DocumentID: %s, Error: %v", doc.ID, err)
		}
	}
	return page.Body, page.ContentType, nil
}

// applyExtraction 写入提取结果。标题和描述只在为空时填充，用户保存时提供的值优先。
func (p *Processor) applyExtraction(ctx context.Context, doc *model.Document, res extractor.Result) {
	doc.Content = model.StringPtr(res.Text)
	doc.ContentKind = res.Kind
	doc.WordCount = res.WordCount
	doc.Metadata = res.Metadata

	if doc.Title == nil {
		title := res.Title
		if title == "" && res.HasText() {
			title = p.summarizer.GenerateTitle(ctx, res.Text)
		}
		doc.Title = model.StringPtr(title)
	}
	if doc.Description == nil {
		doc.Description = model.StringPtr(res.Description)
	}
}

// fail 保存文档并标记为 failed。cause 非 nil 时作为返回值，交给队列决定是否重试。
func (p *Processor) fail(ctx context.Context, doc *model.Document, reason string, cause error) error {
	if len(reason) > maxLastError {
		cut := maxLastError
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = reason[:cut]
	}
	doc.Status = model.StatusFailed
	doc.LastError = reason
	if err := p.docs.Update(ctx, doc); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return p.abandon(ctx, doc.ID)
		}
		log.Errorf("[Processor] 保存失败状态出错, DocumentID: %s, Error: %v", doc.ID, err)
		return fmt.Errorf("save failed document: %w", err)
	}
	log.Warnf("[Processor] 链接处理失败, DocumentID: %s, 原因: %s", doc.ID, reason)
	return cause
}

// abandon 在文档已被删除时调用：清掉该文档的分块和快照，不再写文档记录。
// 分块清理失败返回错误，重试时会从 FindByID 的分支再次进入这里。
func (p *Processor) abandon(ctx context.Context, documentID string) error {
	log.Warnf("[Processor] 文档 %s 已不存在，放弃本次摄取并清理分块", documentID)
	if p.snapshots != nil {
		if err := p.snapshots.Remove(ctx, documentID); err != nil {
			log.Warnf("[Processor] 删除快照失败, DocumentID: %s, Error: %v", documentID, err)
		}
	}
	err := p.store.DeleteByDocument(ctx, documentID)
	if err == nil || errors.Is(err, vectorstore.ErrInvalidID) {
		return nil
	}
	return fmt.Errorf("clean up deleted document: %w", err)
}
