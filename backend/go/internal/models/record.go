package models

import "time"

// SourceKind 表示上游数据源的类型。
type SourceKind string

const (
	SourceKindInfo     SourceKind = "info"     // 资讯类数据源。
	SourceKindStrategy SourceKind = "strategy" // 策略类数据源。
)

// Valid 判断类型是否属于已知集合。
func (k SourceKind) Valid() bool {
	return k == SourceKindInfo || k == SourceKindStrategy
}

// Category 是分类阶段给出的内容类别。
type Category string

const (
	CategoryRelevant      Category = "relevant"
	CategoryEntertainment Category = "entertainment"
	CategorySpam          Category = "spam"
	CategoryOther         Category = "other"
)

// ParseCategory 将判定结果中的字符串转换为 Category，未知值返回 false。
func ParseCategory(s string) (Category, bool) {
	switch Category(s) {
	case CategoryRelevant, CategoryEntertainment, CategorySpam, CategoryOther:
		return Category(s), true
	}
	return "", false
}

// DedupAction 是去重引擎对记录采取的动作。
type DedupAction string

const (
	DedupActionNew       DedupAction = "new"       // 新内容，原文入库。
	DedupActionUpdate    DedupAction = "update"    // 时效性信息，覆盖已存在条目。
	DedupActionProcessed DedupAction = "processed" // 提取增量内容后作为新条目入库。
)

// Relationship 描述新内容与最相似的已存在内容之间的关系。
type Relationship string

const (
	RelationshipIdentical           Relationship = "identical"
	RelationshipNewContainsExisting Relationship = "new_contains_existing"
	RelationshipExistingContainsNew Relationship = "existing_contains_new"
	RelationshipUnrelated           Relationship = "unrelated"
	RelationshipPartialOverlap      Relationship = "partial_overlap"
)

// ParseRelationship 将判定结果中的字符串转换为 Relationship，未知值返回 false。
func ParseRelationship(s string) (Relationship, bool) {
	switch Relationship(s) {
	case RelationshipIdentical, RelationshipNewContainsExisting, RelationshipExistingContainsNew,
		RelationshipUnrelated, RelationshipPartialOverlap:
		return Relationship(s), true
	}
	return "", false
}

// SourceRecord 是从上游拉取或测试注入的一条原始记录，创建后不可变。
type SourceRecord struct {
	RecordID   string                 `json:"recordId" bson:"record_id"`
	EntityID   string                 `json:"entityId" bson:"entity_id"`
	EntityName string                 `json:"entityName" bson:"entity_name"`
	Kind       SourceKind             `json:"dataSourceType" bson:"kind"`
	Content    string                 `json:"content" bson:"content"`
	Metadata   map[string]interface{} `json:"metadata" bson:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"createdAt" bson:"created_at"`
}

// ClassifiedRecord 是分类阶段输出的记录，仅包含 relevant 类别。
type ClassifiedRecord struct {
	SourceRecord         `bson:",inline"`
	Category             Category  `json:"category" bson:"category"`
	ClassificationReason string    `json:"classificationReason" bson:"classification_reason"`
	ClassifiedAt         time.Time `json:"classifiedAt" bson:"classified_at"`
}

// DedupMetadata 记录去重决策的细节。
type DedupMetadata struct {
	Action          DedupAction  `json:"action" bson:"action"`
	Relationship    Relationship `json:"relationship,omitempty" bson:"relationship,omitempty"`
	SimilarityScore *float64     `json:"similarityScore,omitempty" bson:"similarity_score,omitempty"`
	MatchedRecordID string       `json:"matchedRecordId,omitempty" bson:"matched_record_id,omitempty"`
	IsTimeEffective *bool        `json:"isTimeEffective,omitempty" bson:"is_time_effective,omitempty"`
}

// DeduplicatedRecord 是去重引擎放行的记录。
type DeduplicatedRecord struct {
	ClassifiedRecord `bson:",inline"`
	FinalContent     string        `json:"finalContent" bson:"final_content"`
	ProcessedContent string        `json:"processedContent,omitempty" bson:"processed_content,omitempty"`
	DedupMetadata    DedupMetadata `json:"deduplicationMetadata" bson:"dedup_metadata"`
	DeduplicatedAt   time.Time     `json:"deduplicatedAt" bson:"deduplicated_at"`
}

// SignalRecord 是信号阶段生成的分析结果。
type SignalRecord struct {
	RecordID       string     `json:"recordId" bson:"_id"`
	EntityID       string     `json:"entityId" bson:"entity_id"`
	EntityName     string     `json:"entityName" bson:"entity_name"`
	Kind           SourceKind `json:"dataSourceType" bson:"kind"`
	SignalAnalysis string     `json:"signalAnalysis" bson:"signal_analysis"`
	Model          string     `json:"aiModel" bson:"model"`
	FlowID         string     `json:"flowId,omitempty" bson:"flow_id,omitempty"`
	GeneratedAt    time.Time  `json:"generatedAt" bson:"generated_at"`
}

// EntityInfo 是上游可订阅实体的描述。
type EntityInfo struct {
	EntityID     string     `json:"entityId"`
	DataType     SourceKind `json:"dataType"`
	Count        int        `json:"count"`
	DisplayName  string     `json:"displayName"`
	Description  string     `json:"description,omitempty"`
	Status       string     `json:"status,omitempty"`
	LastActiveAt *time.Time `json:"lastActiveAt,omitempty"`
}

// Name 返回实体的展示名，缺省时使用实体ID。
func (e EntityInfo) Name() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return e.EntityID
}

// SubscriptionCursor 是单个实体的订阅游标，LastTimestamp 只会前移。
type SubscriptionCursor struct {
	EntityID         string     `json:"entityId"`
	LastTimestamp    *time.Time `json:"lastTimestamp"`
	TotalRecordsSeen int        `json:"totalRecords"`
	LastUpdatedAt    time.Time  `json:"lastUpdate"`
	CreatedAt        time.Time  `json:"createdAt"`
}
