package model

// SearchHit 是向量库返回的分块级命中，Score 位于 [0, 1]。
type SearchHit struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// SearchResult 是按文档聚合后的检索结果。
type SearchResult struct {
	Link            DocumentResponse `json:"link"`
	SimilarityScore float64          `json:"similarity_score"`
	RelevantChunks  []string         `json:"relevant_chunks"`
}

// DocumentResponse 是返回给前端的文档结构。
type DocumentResponse struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	Title       *string           `json:"title"`
	Description *string           `json:"description"`
	Summary     *string           `json:"summary"`
	Tags        []string          `json:"tags"`
	Content     *string           `json:"content,omitempty"`
	ContentType ContentKind       `json:"content_type"`
	WordCount   int               `json:"word_count"`
	Status      DocumentStatus    `json:"status"`
	LastError   string            `json:"last_error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	UserID      uint              `json:"user_id"`
	CreatedAt   LocalTime         `json:"created_at"`
	UpdatedAt   LocalTime         `json:"updated_at"`
}

// ToResponse 转换为响应结构，withContent 为 false 时省略正文。
func (d *Document) ToResponse(withContent bool) DocumentResponse {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	resp := DocumentResponse{
		ID:          d.ID,
		URL:         d.URL,
		Title:       d.Title,
		Description: d.Description,
		Summary:     d.Summary,
		Tags:        tags,
		ContentType: d.ContentKind,
		WordCount:   d.WordCount,
		Status:      d.Status,
		LastError:   d.LastError,
		Metadata:    d.Metadata,
		UserID:      d.UserID,
		CreatedAt:   LocalTime(d.CreatedAt),
		UpdatedAt:   LocalTime(d.UpdatedAt),
	}
	if withContent {
		resp.Content = d.Content
	}
	return resp
}
