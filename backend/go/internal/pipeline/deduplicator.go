package pipeline

import (
	"SignalFlow/backend/go/internal/judgment"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/internal/similarity"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"fmt"
	"sync"
	"time"
)

// DeduplicatorName 是去重阶段在执行追踪中的名称。
const DeduplicatorName = "DataSourceDeduplicationReactor"

const (
	DefaultDedupPartition    = "relevant-content"
	DefaultDedupTopK         = 3
	DefaultDedupThreshold    = 0.6
	DefaultMaxProcessedChars = 8000

	// similarityEntryType 是去重条目在相似度存储中的类型标记。
	similarityEntryType = "info"
)

// DedupOptions 是去重引擎的参数。
type DedupOptions struct {
	Partition         string
	TopK              int
	Threshold         float64
	MaxProcessedChars int
}

func (o *DedupOptions) applyDefaults() {
	if o.Partition == "" {
		o.Partition = DefaultDedupPartition
	}
	if o.TopK <= 0 {
		o.TopK = DefaultDedupTopK
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultDedupThreshold
	}
	if o.MaxProcessedChars <= 0 {
		o.MaxProcessedChars = DefaultMaxProcessedChars
	}
}

type dedupState struct {
	RecordsProcessed  int64
	DuplicatesSkipped int64
	RecordsUpdated    int64
	NewRecordsCreated int64
	AIFailed          int64
}

// Deduplicator 对 relevant 记录做语义去重：向量化，检索相似内容，
// 由判定能力决定丢弃、覆盖已存在条目，或提取增量内容后入库。
type Deduplicator struct {
	judge judgment.Capability
	store *similarity.Store
	opts  DedupOptions
	log   *logger.Logger

	mu    sync.Mutex
	state dedupState
}

// NewDeduplicator 创建去重阶段。
func NewDeduplicator(judge judgment.Capability, store *similarity.Store, opts DedupOptions, log *logger.Logger) *Deduplicator {
	opts.applyDefaults()
	return &Deduplicator{judge: judge, store: store, opts: opts, log: log.Component(DeduplicatorName)}
}

func (d *Deduplicator) Name() string { return DeduplicatorName }

// Partition 返回去重使用的相似度分区。
func (d *Deduplicator) Partition() string { return d.opts.Partition }

func (d *Deduplicator) count(fn func(s *dedupState)) {
	d.mu.Lock()
	fn(&d.state)
	d.mu.Unlock()
}

// State 返回内部计数器。
func (d *Deduplicator) State() map[string]interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]interface{}{
		"recordsProcessed":  d.state.RecordsProcessed,
		"duplicatesSkipped": d.state.DuplicatesSkipped,
		"recordsUpdated":    d.state.RecordsUpdated,
		"newRecordsCreated": d.state.NewRecordsCreated,
		"aiFailed":          d.state.AIFailed,
	}
}

func (d *Deduplicator) Process(ctx context.Context, flowID string, events []Event) ([]Event, error) {
	report := ReportFrom(ctx)
	log := d.log.WithFlow(flowID)
	var out []Event

	for _, e := range events {
		rec, ok := e.Payload.(models.ClassifiedRecord)
		if !ok {
			report.Warnf("unexpected payload for event %s", e.ID)
			continue
		}
		if rec.Category != models.CategoryRelevant {
			log.WithField("category", string(rec.Category)).Debug("skipping non-relevant record")
			continue
		}
		recLog := log.WithField("record_id", rec.RecordID).WithField("entity", rec.EntityName)
		d.count(func(s *dedupState) { s.RecordsProcessed++ })

		result, err := d.deduplicate(ctx, rec, report)
		if err != nil {
			d.count(func(s *dedupState) { s.AIFailed++ })
			report.Warnf("deduplication failed for %s: %v", rec.RecordID, err)
			recLog.WithError(models.NewErrorInfo(err, "judgment_failed")).Warn("deduplication failed, dropping record")
			continue
		}
		if result == nil {
			d.count(func(s *dedupState) { s.DuplicatesSkipped++ })
			continue
		}

		switch result.DedupMetadata.Action {
		case models.DedupActionUpdate:
			d.count(func(s *dedupState) { s.RecordsUpdated++ })
		default:
			d.count(func(s *dedupState) { s.NewRecordsCreated++ })
		}
		recLog.WithField("action", string(result.DedupMetadata.Action)).Info("record deduplicated")
		out = append(out, Event{Kind: KindRecordDeduplicated, FlowID: e.FlowID, Payload: *result})
	}
	return out, nil
}

// deduplicate 返回 nil 表示记录被判定为重复。
func (d *Deduplicator) deduplicate(ctx context.Context, rec models.ClassifiedRecord, report *BatchReport) (*models.DeduplicatedRecord, error) {
	vector, err := d.judge.Embed(ctx, rec.Content)
	if err != nil {
		return nil, err
	}
	matches, err := d.store.Search(ctx, d.opts.Partition, vector, similarity.SearchOptions{
		Limit:     d.opts.TopK,
		Threshold: d.opts.Threshold,
		Type:      similarityEntryType,
	})
	if err != nil {
		return nil, fmt.Errorf("searching similar content: %w", err)
	}

	log := d.log.WithField("record_id", rec.RecordID)
	if len(matches) == 0 {
		if err := d.save(ctx, rec, rec.Content, vector); err != nil {
			return nil, err
		}
		log.Debug("no similar content, admitting as new")
		return d.result(rec, rec.Content, "", models.DedupMetadata{Action: models.DedupActionNew}), nil
	}

	candidates := make([]judgment.Match, len(matches))
	for i, m := range matches {
		candidates[i] = judgment.Match{ID: m.Entry.ID, Content: m.Entry.Content, Similarity: m.Similarity}
	}
	cmp, call, err := d.judge.CompareRelationship(ctx, rec.Content, candidates)
	report.AddCall(call)
	if err != nil {
		return nil, err
	}

	// 锚点与覆盖目标总是相似度最高的条目。
	top := matches[0]
	score := top.Similarity
	meta := models.DedupMetadata{
		Relationship:    cmp.Relationship,
		SimilarityScore: &score,
		MatchedRecordID: top.Entry.ID,
	}
	log = log.WithField("relationship", string(cmp.Relationship)).WithField("similarity", score)

	if isDuplicate(cmp) {
		log.Info("duplicate content skipped")
		return nil, nil
	}

	if cmp.ProcessedContent != "" {
		processed := judgment.Truncate(cmp.ProcessedContent, d.opts.MaxProcessedChars)
		timeEffective := cmp.IsTimeEffective
		meta.IsTimeEffective = &timeEffective

		processedVector, err := d.judge.Embed(ctx, processed)
		if err != nil {
			return nil, err
		}

		if cmp.ShouldUpdate && cmp.IsTimeEffective {
			if err := d.update(ctx, top.Entry, rec, processed, processedVector); err != nil {
				return nil, err
			}
			meta.Action = models.DedupActionUpdate
			return d.result(rec, processed, processed, meta), nil
		}

		if err := d.save(ctx, rec, processed, processedVector); err != nil {
			return nil, err
		}
		meta.Action = models.DedupActionProcessed
		return d.result(rec, processed, processed, meta), nil
	}

	if err := d.save(ctx, rec, rec.Content, vector); err != nil {
		return nil, err
	}
	meta.Action = models.DedupActionNew
	return d.result(rec, rec.Content, "", meta), nil
}

// isDuplicate 在 shouldSkip 之外也认定 identical 与 existing_contains_new，
// 判定结果中两者不一致时同一内容不会被存两次。
func isDuplicate(cmp judgment.Comparison) bool {
	return cmp.ShouldSkip ||
		cmp.Relationship == models.RelationshipIdentical ||
		cmp.Relationship == models.RelationshipExistingContainsNew
}

func (d *Deduplicator) result(rec models.ClassifiedRecord, final, processed string, meta models.DedupMetadata) *models.DeduplicatedRecord {
	return &models.DeduplicatedRecord{
		ClassifiedRecord: rec,
		FinalContent:     final,
		ProcessedContent: processed,
		DedupMetadata:    meta,
		DeduplicatedAt:   time.Now().UTC(),
	}
}

func entryMetadata(rec models.ClassifiedRecord) map[string]interface{} {
	return map[string]interface{}{
		"entityId":         rec.EntityID,
		"entityName":       rec.EntityName,
		"dataSourceType":   string(rec.Kind),
		"originalMetadata": rec.Metadata,
	}
}

func (d *Deduplicator) save(ctx context.Context, rec models.ClassifiedRecord, content string, vector []float32) error {
	meta := entryMetadata(rec)
	meta["updateCount"] = 0
	entry := &models.SimilarityEntry{
		ID:        rec.RecordID,
		Type:      similarityEntryType,
		Embedding: vector,
		Content:   content,
		Metadata:  meta,
		CreatedAt: rec.CreatedAt,
	}
	if err := d.store.Save(ctx, d.opts.Partition, entry); err != nil {
		return fmt.Errorf("saving similarity entry: %w", err)
	}
	return nil
}

func (d *Deduplicator) update(ctx context.Context, existing *models.SimilarityEntry, rec models.ClassifiedRecord, content string, vector []float32) error {
	meta := entryMetadata(rec)
	meta["lastUpdateFromRecord"] = rec.RecordID
	meta["lastUpdateAt"] = time.Now().UnixMilli()
	meta["updateCount"] = updateCount(existing.Metadata) + 1
	if _, err := d.store.Update(ctx, d.opts.Partition, existing.ID, content, vector, meta); err != nil {
		return fmt.Errorf("updating similarity entry %s: %w", existing.ID, err)
	}
	return nil
}

func updateCount(meta map[string]interface{}) int {
	switch v := meta["updateCount"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
