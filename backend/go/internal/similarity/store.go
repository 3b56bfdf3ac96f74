// Package similarity 实现了按分区组织的 (内容, 向量, 元数据) 存储，
// 以线性扫描的余弦相似度支持去重检索。
package similarity

import (
	"SignalFlow/backend/go/internal/kv"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"
)

var (
	// ErrDimensionMismatch 表示向量维度与分区声明的维度不一致。
	ErrDimensionMismatch = errors.New("similarity: embedding dimension mismatch")
	// ErrInvalidPartition 表示分区名不合法。
	ErrInvalidPartition = errors.New("similarity: invalid partition name")
	// ErrNotFound 表示条目不存在。
	ErrNotFound = errors.New("similarity: entry not found")
)

var partitionPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// DuplicateThreshold 是 FindDuplicates 的默认相似度下限。
const DuplicateThreshold = 0.95

// SearchOptions 控制一次相似度搜索。
type SearchOptions struct {
	Limit     int     // 返回条数上限，0 表示不限
	Threshold float64 // 相似度下限（含）
	Type      string  // 非空时只匹配该类型的条目
}

// Store 是基于 kv.Store 的相似度存储。
//
// Key 布局:
//
//	<prefix>:<partition>:<id>       条目 JSON
//	<prefix>:<partition>:ids        条目ID集合
//	<prefix>:<partition>:metadata   分区元数据 {lastUpdate, type, dimensions}
type Store struct {
	kv         kv.Store
	prefix     string
	dimensions int
	log        *logger.Logger
	now        func() time.Time
}

// NewStore 创建相似度存储。dimensions 为 0 时由分区内的第一个条目决定维度。
func NewStore(store kv.Store, prefix string, dimensions int, log *logger.Logger) *Store {
	if prefix == "" {
		prefix = "vector"
	}
	return &Store{kv: store, prefix: prefix, dimensions: dimensions, log: log, now: time.Now}
}

func (s *Store) entryKey(partition, id string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, partition, id)
}

func (s *Store) idsKey(partition string) string {
	return fmt.Sprintf("%s:%s:ids", s.prefix, partition)
}

func (s *Store) metaKey(partition string) string {
	return fmt.Sprintf("%s:%s:metadata", s.prefix, partition)
}

// ValidatePartition 检查分区名是否合法。
func ValidatePartition(partition string) error {
	if !partitionPattern.MatchString(partition) || partition == "ids" || partition == "metadata" {
		return fmt.Errorf("%w: %q", ErrInvalidPartition, partition)
	}
	return nil
}

// partitionDimensions 返回分区声明的维度，0 表示尚未声明。
func (s *Store) partitionDimensions(ctx context.Context, partition string) (int, error) {
	if s.dimensions > 0 {
		return s.dimensions, nil
	}
	meta, err := s.kv.HGetAll(ctx, s.metaKey(partition))
	if err != nil {
		return 0, err
	}
	d, _ := strconv.Atoi(meta["dimensions"])
	return d, nil
}

func (s *Store) checkDimensions(ctx context.Context, partition string, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty embedding", ErrDimensionMismatch)
	}
	want, err := s.partitionDimensions(ctx, partition)
	if err != nil {
		return fmt.Errorf("读取分区元数据失败: %w", err)
	}
	if want > 0 && len(vector) != want {
		return fmt.Errorf("%w: got %d, partition %s expects %d", ErrDimensionMismatch, len(vector), partition, want)
	}
	return nil
}

func (s *Store) write(ctx context.Context, entry *models.SimilarityEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化条目失败: %w", err)
	}
	if err := s.kv.Set(ctx, s.entryKey(entry.Partition, entry.ID), string(data), 0); err != nil {
		return fmt.Errorf("写入条目失败: %w", err)
	}
	if err := s.kv.SAdd(ctx, s.idsKey(entry.Partition), entry.ID); err != nil {
		return fmt.Errorf("更新条目索引失败: %w", err)
	}
	return s.kv.HSet(ctx, s.metaKey(entry.Partition), map[string]string{
		"lastUpdate": s.now().UTC().Format(time.RFC3339Nano),
		"type":       entry.Type,
		"dimensions": strconv.Itoa(entry.Dimensions),
	})
}

// Save 保存一个新条目，已存在的同ID条目会被覆盖。
func (s *Store) Save(ctx context.Context, partition string, entry *models.SimilarityEntry) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	if entry == nil || entry.ID == "" {
		return errors.New("similarity: entry id is required")
	}
	if err := s.checkDimensions(ctx, partition, entry.Embedding); err != nil {
		return err
	}
	now := s.now().UTC()
	entry.Partition = partition
	entry.Dimensions = len(entry.Embedding)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	return s.write(ctx, entry)
}

// SaveBatch 依次保存多个条目，遇到第一个错误即返回。
func (s *Store) SaveBatch(ctx context.Context, partition string, entries []*models.SimilarityEntry) error {
	for _, e := range entries {
		if err := s.Save(ctx, partition, e); err != nil {
			return fmt.Errorf("批量保存条目 %s 失败: %w", e.ID, err)
		}
	}
	return nil
}

// Update 原地更新已存在条目的内容与向量，保留其ID与创建时间。
func (s *Store) Update(ctx context.Context, partition, id, content string, embedding []float32, metadata map[string]interface{}) (*models.SimilarityEntry, error) {
	existing, err := s.Get(ctx, partition, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkDimensions(ctx, partition, embedding); err != nil {
		return nil, err
	}
	existing.Content = content
	existing.Embedding = embedding
	existing.Dimensions = len(embedding)
	if metadata != nil {
		existing.Metadata = metadata
	}
	existing.UpdatedAt = s.now().UTC()
	if err := s.write(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// Get 读取单个条目。
func (s *Store) Get(ctx context.Context, partition, id string) (*models.SimilarityEntry, error) {
	if err := ValidatePartition(partition); err != nil {
		return nil, err
	}
	raw, err := s.kv.Get(ctx, s.entryKey(partition, id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, partition, id)
	}
	if err != nil {
		return nil, err
	}
	var entry models.SimilarityEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("解析条目 %s 失败: %w", id, err)
	}
	return &entry, nil
}

// GetAll 读取分区内的全部条目，无法解析的条目会被跳过并记录日志。
func (s *Store) GetAll(ctx context.Context, partition string) ([]*models.SimilarityEntry, error) {
	if err := ValidatePartition(partition); err != nil {
		return nil, err
	}
	ids, err := s.kv.SMembers(ctx, s.idsKey(partition))
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.entryKey(partition, id)
	}
	raws, err := s.kv.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	entries := make([]*models.SimilarityEntry, 0, len(raws))
	for i, raw := range raws {
		if raw == "" {
			continue
		}
		var entry models.SimilarityEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.log.WithError(models.NewErrorInfo(err, "decode")).WithField("id", ids[i]).Warn("skipping unreadable similarity entry")
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// Search 在分区内做线性扫描，返回相似度不低于阈值的条目，按相似度降序排列。
func (s *Store) Search(ctx context.Context, partition string, vector []float32, opts SearchOptions) ([]models.SimilarityResult, error) {
	if err := ValidatePartition(partition); err != nil {
		return nil, err
	}
	if err := s.checkDimensions(ctx, partition, vector); err != nil {
		return nil, err
	}
	entries, err := s.GetAll(ctx, partition)
	if err != nil {
		return nil, err
	}
	var results []models.SimilarityResult
	for _, e := range entries {
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		if len(e.Embedding) != len(vector) {
			continue
		}
		score := Cosine(vector, e.Embedding)
		if score >= opts.Threshold {
			results = append(results, models.SimilarityResult{Entry: e, Similarity: score})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Delete 删除单个条目。
func (s *Store) Delete(ctx context.Context, partition, id string) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	if err := s.kv.Del(ctx, s.entryKey(partition, id)); err != nil {
		return err
	}
	return s.kv.SRem(ctx, s.idsKey(partition), id)
}

// ClearPartition 删除分区内的全部条目与元数据，返回删除的条目数。
func (s *Store) ClearPartition(ctx context.Context, partition string) (int, error) {
	if err := ValidatePartition(partition); err != nil {
		return 0, err
	}
	ids, err := s.kv.SMembers(ctx, s.idsKey(partition))
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(ids)+2)
	for _, id := range ids {
		keys = append(keys, s.entryKey(partition, id))
	}
	keys = append(keys, s.idsKey(partition), s.metaKey(partition))
	if err := s.kv.Del(ctx, keys...); err != nil {
		return 0, err
	}
	s.log.WithField("partition", partition).WithField("deleted", len(ids)).Info("similarity partition cleared")
	return len(ids), nil
}

// PartitionStats 返回分区的条目数、最后更新时间与维度。
func (s *Store) PartitionStats(ctx context.Context, partition string) (*models.PartitionStats, error) {
	if err := ValidatePartition(partition); err != nil {
		return nil, err
	}
	count, err := s.kv.SCard(ctx, s.idsKey(partition))
	if err != nil {
		return nil, err
	}
	meta, err := s.kv.HGetAll(ctx, s.metaKey(partition))
	if err != nil {
		return nil, err
	}
	stats := &models.PartitionStats{Partition: partition, Count: count}
	if t, err := time.Parse(time.RFC3339Nano, meta["lastUpdate"]); err == nil {
		stats.LastUpdate = &t
	}
	stats.Dimensions, _ = strconv.Atoi(meta["dimensions"])
	return stats, nil
}

// ListPartitions 返回存在条目的全部分区名。
func (s *Store) ListPartitions(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, s.prefix+":*:ids")
	if err != nil {
		return nil, err
	}
	partitions := make([]string, 0, len(keys))
	for _, k := range keys {
		name := k[len(s.prefix)+1 : len(k)-len(":ids")]
		if ValidatePartition(name) == nil {
			partitions = append(partitions, name)
		}
	}
	sort.Strings(partitions)
	return partitions, nil
}

// FindDuplicates 找出分区内相似度不低于 threshold 的条目组。
// 每个条目最多归入一个组，组的顺序与条目创建时间一致。
func (s *Store) FindDuplicates(ctx context.Context, partition string, threshold float64) ([]models.DuplicateGroup, error) {
	if threshold <= 0 {
		threshold = DuplicateThreshold
	}
	entries, err := s.GetAll(ctx, partition)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	grouped := make(map[string]bool, len(entries))
	var groups []models.DuplicateGroup
	for i, original := range entries {
		if grouped[original.ID] {
			continue
		}
		var dups []*models.SimilarityEntry
		for _, candidate := range entries[i+1:] {
			if grouped[candidate.ID] || len(candidate.Embedding) != len(original.Embedding) {
				continue
			}
			if Cosine(original.Embedding, candidate.Embedding) >= threshold {
				dups = append(dups, candidate)
				grouped[candidate.ID] = true
			}
		}
		if len(dups) > 0 {
			grouped[original.ID] = true
			groups = append(groups, models.DuplicateGroup{Original: original, Duplicates: dups})
		}
	}
	return groups, nil
}
