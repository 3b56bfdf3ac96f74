package models

import "time"

// SimilarityEntry 是相似度存储中的一个条目。
// Embedding 的长度在同一分区内保持一致，等于 Dimensions。
type SimilarityEntry struct {
	ID         string                 `json:"id"`
	Partition  string                 `json:"partition"`
	Type       string                 `json:"type"`
	Embedding  []float32              `json:"embedding"`
	Dimensions int                    `json:"dimensions"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"timestamp"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

// SimilarityResult 是一次相似度搜索的单个命中。
type SimilarityResult struct {
	Entry      *SimilarityEntry `json:"entry"`
	Similarity float64          `json:"similarity"`
}

// PartitionStats 是分区的统计信息。
type PartitionStats struct {
	Partition  string     `json:"partition"`
	Count      int64      `json:"count"`
	LastUpdate *time.Time `json:"lastUpdate"`
	Dimensions int        `json:"dimensions"`
}

// DuplicateGroup 是 FindDuplicates 找到的一组近似重复条目。
type DuplicateGroup struct {
	Original   *SimilarityEntry   `json:"original"`
	Duplicates []*SimilarityEntry `json:"duplicates"`
}
