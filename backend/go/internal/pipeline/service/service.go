package service

import (
	"SignalFlow/backend/go/internal/datasource"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/internal/pipeline"
	"SignalFlow/backend/go/internal/pipeline/store"
	"SignalFlow/backend/go/internal/similarity"
	"SignalFlow/backend/go/internal/tracking"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Injected record defaults.
const (
	DefaultEntityID   = "test-entity"
	DefaultEntityName = "Test Source"
)

var (
	// ErrTrackingDisabled is returned by tracking queries when no tracker is configured.
	ErrTrackingDisabled = errors.New("execution tracking is disabled")
	// ErrNoEvents is returned when an inject request carries no events.
	ErrNoEvents = errors.New("events array required")
	// ErrSubscriptionsDisabled is returned by entity queries when no upstream is configured.
	ErrSubscriptionsDisabled = errors.New("upstream subscriptions are disabled")
	// ErrNoEntries is returned when an import request carries no entries.
	ErrNoEntries = errors.New("entries array required")
)

// Subscriptions is the part of the subscription manager the service reports on.
type Subscriptions interface {
	GetStatus() datasource.Status
	Cursors() *datasource.CursorStore
	GetEntity(entityID string) (models.EntityInfo, bool)
	AvailableEntities() []models.EntityInfo
	FindEntityByName(term string) (models.EntityInfo, bool)
}

// InjectPayload is a synthetic record. Missing fields are filled with defaults.
type InjectPayload struct {
	RecordID       string                 `json:"recordId"`
	EntityID       string                 `json:"entityId"`
	EntityName     string                 `json:"entityName"`
	DataSourceType models.SourceKind      `json:"dataSourceType"`
	Content        string                 `json:"content"`
	Metadata       map[string]interface{} `json:"metadata"`
	CreatedAt      *time.Time             `json:"createdAt"`
}

// FlowOverview is the list view of a tracked flow.
type FlowOverview struct {
	FlowID               string            `json:"flowId"`
	Status               models.FlowStatus `json:"status"`
	InputEventCount      int               `json:"inputEventCount"`
	OutputEventCount     int               `json:"outputEventCount"`
	ControllersTriggered int               `json:"controllersTriggered"`
	StartTime            int64             `json:"startTime"`
	EndTime              *int64            `json:"endTime,omitempty"`
	ProcessingTime       *int64            `json:"processingTime"`
}

// DataSourceStatus combines subscription state with per-stage statistics.
type DataSourceStatus struct {
	Subscriptions *datasource.Status    `json:"subscriptions,omitempty"`
	Stages        []pipeline.StageStats `json:"stages"`
}

// PartitionOverview is one similarity partition with its statistics.
type PartitionOverview struct {
	Name  string                 `json:"name"`
	Stats *models.PartitionStats `json:"stats"`
}

// CursorReport lists every subscription cursor with aggregate statistics.
type CursorReport struct {
	Stats   datasource.CursorStats               `json:"stats"`
	Cursors map[string]models.SubscriptionCursor `json:"cursors"`
}

// SignalFlowService provides the operational queries and the test injection entry point.
type SignalFlowService struct {
	pipeline      *pipeline.Pipeline
	tracker       *tracking.Tracker
	subscriptions Subscriptions
	similarity    *similarity.Store
	signals       store.SignalStore
	logger        *logger.Logger
	now           func() time.Time
	dependencies  map[string]HealthCheck
}

// HealthCheck probes one external dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// NewSignalFlowService creates a new SignalFlowService. tracker and subscriptions may be nil.
func NewSignalFlowService(p *pipeline.Pipeline, tracker *tracking.Tracker, subs Subscriptions, sim *similarity.Store, signals store.SignalStore, logger *logger.Logger) *SignalFlowService {
	return &SignalFlowService{
		pipeline:      p,
		tracker:       tracker,
		subscriptions: subs,
		similarity:    sim,
		signals:       signals,
		logger:        logger.Component("signalflow-service"),
		now:           time.Now,
		dependencies:  make(map[string]HealthCheck),
	}
}

// AddDependency registers a dependency reported by Dependencies. Call it before serving requests.
func (s *SignalFlowService) AddDependency(name string, check HealthCheck) {
	s.dependencies[name] = check
}

// Dependencies probes every registered dependency and returns "ok" or the error text per name.
func (s *SignalFlowService) Dependencies(ctx context.Context) map[string]string {
	result := make(map[string]string, len(s.dependencies))
	for name, check := range s.dependencies {
		if err := check(ctx); err != nil {
			result[name] = err.Error()
			continue
		}
		result[name] = "ok"
	}
	return result
}

// TrackingEnabled reports whether execution tracking is configured.
func (s *SignalFlowService) TrackingEnabled() bool {
	return s.tracker != nil
}

func (s *SignalFlowService) toRecord(p InjectPayload) models.SourceRecord {
	rec := models.SourceRecord{
		RecordID:   p.RecordID,
		EntityID:   p.EntityID,
		EntityName: p.EntityName,
		Kind:       p.DataSourceType,
		Content:    p.Content,
		Metadata:   p.Metadata,
	}
	if rec.RecordID == "" {
		rec.RecordID = "test-" + uuid.NewString()
	}
	if rec.EntityID == "" {
		rec.EntityID = DefaultEntityID
	}
	if rec.EntityName == "" {
		rec.EntityName = DefaultEntityName
	}
	if !rec.Kind.Valid() {
		rec.Kind = models.SourceKindInfo
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]interface{}{}
	}
	if p.CreatedAt != nil {
		rec.CreatedAt = p.CreatedAt.UTC()
	} else {
		rec.CreatedAt = s.now().UTC()
	}
	return rec
}

// InjectFlow pumps synthetic records into the pipeline under a new flow id.
func (s *SignalFlowService) InjectFlow(ctx context.Context, payloads []InjectPayload) (string, []models.SourceRecord, error) {
	if len(payloads) == 0 {
		return "", nil, ErrNoEvents
	}
	flowID := tracking.GenerateFlowID()
	records := make([]models.SourceRecord, 0, len(payloads))
	for _, p := range payloads {
		records = append(records, s.toRecord(p))
	}

	if s.tracker != nil {
		if err := s.tracker.TrackFlowStart(ctx, flowID, records); err != nil {
			s.logger.WithFlow(flowID).WithError(models.NewErrorInfo(err, "tracking_failed")).Error("Failed to start flow tracking")
			return "", nil, fmt.Errorf("track flow start: %w", err)
		}
	}
	for _, rec := range records {
		s.pipeline.Pump().PumpRecord(ctx, rec, flowID)
	}
	s.logger.WithFlow(flowID).WithField("events", len(records)).Info("Flow injected")
	return flowID, records, nil
}

// ListFlows returns an overview of the most recent flows.
func (s *SignalFlowService) ListFlows(ctx context.Context, limit int) ([]FlowOverview, error) {
	if s.tracker == nil {
		return nil, ErrTrackingDisabled
	}
	ids, err := s.tracker.GetAllFlows(ctx, limit)
	if err != nil {
		return nil, err
	}
	flows := make([]FlowOverview, 0, len(ids))
	for _, id := range ids {
		trace, err := s.tracker.GetFlowTrace(ctx, id)
		if errors.Is(err, tracking.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		o := FlowOverview{
			FlowID:               trace.FlowID,
			Status:               trace.Status,
			InputEventCount:      len(trace.InputRecords),
			OutputEventCount:     len(trace.OutputRecords),
			ControllersTriggered: len(trace.Controllers),
			StartTime:            trace.StartTime,
			EndTime:              trace.EndTime,
		}
		if trace.EndTime != nil {
			d := *trace.EndTime - trace.StartTime
			o.ProcessingTime = &d
		}
		flows = append(flows, o)
	}
	return flows, nil
}

// GetFlow returns the full trace of a flow.
func (s *SignalFlowService) GetFlow(ctx context.Context, flowID string) (*models.FlowTrace, error) {
	if s.tracker == nil {
		return nil, ErrTrackingDisabled
	}
	return s.tracker.GetFlowTrace(ctx, flowID)
}

// CompleteFlow closes a flow. Its outputs are the records the signal stage emitted for it.
func (s *SignalFlowService) CompleteFlow(ctx context.Context, flowID string, status models.FlowStatus) (*models.FlowTrace, error) {
	if s.tracker == nil {
		return nil, ErrTrackingDisabled
	}
	outputs := []string{}
	exec, err := s.tracker.GetControllerFlow(ctx, pipeline.SignalName, flowID)
	switch {
	case err == nil:
		for _, b := range exec.Batches {
			outputs = append(outputs, b.OutputRecordIDs...)
		}
	case !errors.Is(err, tracking.ErrNotFound):
		return nil, err
	}
	return s.tracker.TrackFlowEnd(ctx, flowID, outputs, status)
}

// ClearTracking deletes all tracking data.
func (s *SignalFlowService) ClearTracking(ctx context.Context) (int, error) {
	if s.tracker == nil {
		return 0, ErrTrackingDisabled
	}
	n, err := s.tracker.ClearAll(ctx)
	if err != nil {
		s.logger.WithError(models.NewErrorInfo(err, "tracking_failed")).Error("Failed to clear tracking data")
		return n, err
	}
	return n, nil
}

// AvailableControllers lists the controllers known to the tracker.
func (s *SignalFlowService) AvailableControllers(ctx context.Context) ([]string, error) {
	if s.tracker == nil {
		return nil, ErrTrackingDisabled
	}
	return s.tracker.GetAvailableControllers(ctx)
}

// ControllerHistory returns a controller's most recent flow executions.
func (s *SignalFlowService) ControllerHistory(ctx context.Context, name string, limit int) ([]models.ControllerFlowExecution, error) {
	if s.tracker == nil {
		return nil, ErrTrackingDisabled
	}
	return s.tracker.GetControllerHistory(ctx, name, limit)
}

// ControllerFlow returns a controller's execution within one flow.
func (s *SignalFlowService) ControllerFlow(ctx context.Context, name, flowID string) (*models.ControllerFlowExecution, error) {
	if s.tracker == nil {
		return nil, ErrTrackingDisabled
	}
	return s.tracker.GetControllerFlow(ctx, name, flowID)
}

// LatestBatch returns the last batch a controller processed.
func (s *SignalFlowService) LatestBatch(ctx context.Context, name string) (*models.ControllerBatch, error) {
	if s.tracker == nil {
		return nil, ErrTrackingDisabled
	}
	return s.tracker.GetLatest(ctx, name)
}

// DataSourceStatus reports subscriptions and pipeline stages.
func (s *SignalFlowService) DataSourceStatus() DataSourceStatus {
	status := DataSourceStatus{Stages: s.pipeline.Stats()}
	if s.subscriptions != nil {
		st := s.subscriptions.GetStatus()
		status.Subscriptions = &st
	}
	return status
}

// Cursors lists every subscription cursor.
func (s *SignalFlowService) Cursors(ctx context.Context) (*CursorReport, error) {
	if s.subscriptions == nil {
		return &CursorReport{Cursors: map[string]models.SubscriptionCursor{}}, nil
	}
	cursors := s.subscriptions.Cursors()
	all, err := cursors.All(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := cursors.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &CursorReport{Stats: stats, Cursors: all}, nil
}

// ClearCursors deletes every subscription cursor.
func (s *SignalFlowService) ClearCursors(ctx context.Context) (int, error) {
	if s.subscriptions == nil {
		return 0, nil
	}
	return s.subscriptions.Cursors().Clear(ctx)
}

// PartitionStats returns statistics of a similarity partition.
func (s *SignalFlowService) PartitionStats(ctx context.Context, partition string) (*models.PartitionStats, error) {
	return s.similarity.PartitionStats(ctx, partition)
}

// Entities returns the upstream entities. A non-empty name narrows the result
// to the first entity whose name or id contains it.
func (s *SignalFlowService) Entities(name string) ([]models.EntityInfo, error) {
	if s.subscriptions == nil {
		return nil, ErrSubscriptionsDisabled
	}
	if name == "" {
		return s.subscriptions.AvailableEntities(), nil
	}
	e, ok := s.subscriptions.FindEntityByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", datasource.ErrUnknownEntity, name)
	}
	return []models.EntityInfo{e}, nil
}

// Entity returns one upstream entity by id.
func (s *SignalFlowService) Entity(entityID string) (*models.EntityInfo, error) {
	if s.subscriptions == nil {
		return nil, ErrSubscriptionsDisabled
	}
	e, ok := s.subscriptions.GetEntity(entityID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", datasource.ErrUnknownEntity, entityID)
	}
	return &e, nil
}

// Partitions lists every similarity partition with its statistics.
func (s *SignalFlowService) Partitions(ctx context.Context) ([]PartitionOverview, error) {
	names, err := s.similarity.ListPartitions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PartitionOverview, 0, len(names))
	for _, name := range names {
		stats, err := s.similarity.PartitionStats(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, PartitionOverview{Name: name, Stats: stats})
	}
	return out, nil
}

// PartitionEntries returns every entry of a partition, embeddings included.
func (s *SignalFlowService) PartitionEntries(ctx context.Context, partition string) ([]*models.SimilarityEntry, error) {
	return s.similarity.GetAll(ctx, partition)
}

// ImportEntries saves previously exported entries into a partition.
func (s *SignalFlowService) ImportEntries(ctx context.Context, partition string, entries []*models.SimilarityEntry) (int, error) {
	if len(entries) == 0 {
		return 0, ErrNoEntries
	}
	if err := s.similarity.SaveBatch(ctx, partition, entries); err != nil {
		return 0, err
	}
	s.logger.WithField("partition", partition).WithField("entries", len(entries)).Info("Similarity entries imported")
	return len(entries), nil
}

// DeleteEntry removes one entry from a partition.
func (s *SignalFlowService) DeleteEntry(ctx context.Context, partition, id string) error {
	if _, err := s.similarity.Get(ctx, partition, id); err != nil {
		return err
	}
	if err := s.similarity.Delete(ctx, partition, id); err != nil {
		return err
	}
	s.logger.WithField("partition", partition).WithField("entry_id", id).Info("Similarity entry deleted")
	return nil
}

// ClearPartition deletes every entry of a partition.
func (s *SignalFlowService) ClearPartition(ctx context.Context, partition string) (int, error) {
	return s.similarity.ClearPartition(ctx, partition)
}

// Duplicates groups near-identical entries of a partition. threshold <= 0 uses the store default.
func (s *SignalFlowService) Duplicates(ctx context.Context, partition string, threshold float64) ([]models.DuplicateGroup, error) {
	return s.similarity.FindDuplicates(ctx, partition, threshold)
}

// Signals returns the most recently archived signals.
func (s *SignalFlowService) Signals(ctx context.Context, limit int) ([]*models.SignalRecord, error) {
	return s.signals.List(ctx, limit)
}
