package api

import (
	"SignalFlow/backend/go/internal/datasource"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/internal/pipeline/service"
	"SignalFlow/backend/go/internal/similarity"
	"SignalFlow/backend/go/internal/tracking"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

// API provides handlers for the operational surface.
type API struct {
	service *service.SignalFlowService
	logger  *logger.Logger
	started time.Time
}

// NewAPI creates a new API handler.
func NewAPI(service *service.SignalFlowService, logger *logger.Logger) *API {
	return &API{
		service: service,
		logger:  logger.Component("api"),
		started: time.Now(),
	}
}

func queryLimit(c *gin.Context, fallback int) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

// fail maps service errors to HTTP status codes.
func (a *API) fail(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, service.ErrTrackingDisabled), errors.Is(err, service.ErrSubscriptionsDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, tracking.ErrNotFound), errors.Is(err, similarity.ErrNotFound), errors.Is(err, datasource.ErrUnknownEntity):
		c.JSON(http.StatusNotFound, gin.H{"error": message + ": not found"})
	case errors.Is(err, similarity.ErrInvalidPartition), errors.Is(err, service.ErrNoEntries):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		a.logger.WithError(models.NewErrorInfo(err, "api_error")).WithField("path", c.FullPath()).Error(message)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + message})
	}
}

type injectRequest struct {
	Events []struct {
		Payload service.InjectPayload `json:"payload"`
	} `json:"events"`
}

// InjectFlowHandler pumps a synthetic batch of records tagged with a new flow id.
func (a *API) InjectFlowHandler(c *gin.Context) {
	var req injectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Events == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: events array required"})
		return
	}
	payloads := make([]service.InjectPayload, 0, len(req.Events))
	for _, e := range req.Events {
		payloads = append(payloads, e.Payload)
	}

	flowID, records, err := a.service.InjectFlow(c.Request.Context(), payloads)
	if errors.Is(err, service.ErrNoEvents) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: events array required"})
		return
	}
	if err != nil {
		a.fail(c, err, "inject flow")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"flowId":         flowID,
		"eventsInjected": len(records),
		"records":        records,
		"message":        "Flow " + flowID + " started with " + strconv.Itoa(len(records)) + " events",
	})
}

// ListFlowsHandler lists tracked flows.
func (a *API) ListFlowsHandler(c *gin.Context) {
	flows, err := a.service.ListFlows(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		a.fail(c, err, "get flows")
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": len(flows), "flows": flows})
}

// GetFlowHandler returns a flow trace.
func (a *API) GetFlowHandler(c *gin.Context) {
	trace, err := a.service.GetFlow(c.Request.Context(), c.Param("flowId"))
	if err != nil {
		a.fail(c, err, "get flow details")
		return
	}
	c.JSON(http.StatusOK, trace)
}

// CompleteFlowHandler marks a flow as finished.
func (a *API) CompleteFlowHandler(c *gin.Context) {
	var body struct {
		Status models.FlowStatus `json:"status"`
	}
	// an empty body completes the flow
	_ = c.ShouldBindJSON(&body)
	switch body.Status {
	case "", models.FlowStatusCompleted, models.FlowStatusError:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be completed or error"})
		return
	}

	trace, err := a.service.CompleteFlow(c.Request.Context(), c.Param("flowId"), body.Status)
	if err != nil {
		a.fail(c, err, "complete flow")
		return
	}
	c.JSON(http.StatusOK, trace)
}

// ClearCacheHandler deletes all tracking data.
func (a *API) ClearCacheHandler(c *gin.Context) {
	n, err := a.service.ClearTracking(c.Request.Context())
	if err != nil {
		a.fail(c, err, "clear handler cache")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"keysDeleted": n,
		"message":     "All handler cache data cleared successfully",
	})
}

// AvailableControllersHandler lists controllers with tracking data.
func (a *API) AvailableControllersHandler(c *gin.Context) {
	controllers, err := a.service.AvailableControllers(c.Request.Context())
	if err != nil {
		a.fail(c, err, "get available controllers")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"controllers": controllers,
		"count":       len(controllers),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ControllerExecutionsHandler returns a controller's execution history.
func (a *API) ControllerExecutionsHandler(c *gin.Context) {
	name := c.Param("name")
	history, err := a.service.ControllerHistory(c.Request.Context(), name, queryLimit(c, 10))
	if err != nil {
		a.fail(c, err, "get controller history")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"controllerName": name,
		"executionCount": len(history),
		"executions":     history,
	})
}

// ControllerFlowHandler returns a controller's execution within one flow.
func (a *API) ControllerFlowHandler(c *gin.Context) {
	name, flowID := c.Param("name"), c.Param("flowId")
	exec, err := a.service.ControllerFlow(c.Request.Context(), name, flowID)
	if err != nil {
		a.fail(c, err, "get controller flow data")
		return
	}
	c.JSON(http.StatusOK, gin.H{"flowId": flowID, "controllerName": name, "data": exec})
}

// ControllerLatestHandler returns the last batch of a controller.
func (a *API) ControllerLatestHandler(c *gin.Context) {
	batch, err := a.service.LatestBatch(c.Request.Context(), c.Param("name"))
	if err != nil {
		a.fail(c, err, "get latest batch")
		return
	}
	c.JSON(http.StatusOK, batch)
}

// DataSourceStatusHandler reports subscriptions and stage statistics.
func (a *API) DataSourceStatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, a.service.DataSourceStatus())
}

// CursorsHandler lists subscription cursors.
func (a *API) CursorsHandler(c *gin.Context) {
	report, err := a.service.Cursors(c.Request.Context())
	if err != nil {
		a.fail(c, err, "get cursors")
		return
	}
	c.JSON(http.StatusOK, report)
}

// ClearCursorsHandler deletes all subscription cursors.
func (a *API) ClearCursorsHandler(c *gin.Context) {
	n, err := a.service.ClearCursors(c.Request.Context())
	if err != nil {
		a.fail(c, err, "clear cursors")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cleared": n})
}

// PartitionStatsHandler returns statistics of a similarity partition.
func (a *API) PartitionStatsHandler(c *gin.Context) {
	stats, err := a.service.PartitionStats(c.Request.Context(), c.Param("partition"))
	if err != nil {
		a.fail(c, err, "get partition stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// EntitiesHandler lists upstream entities, filtered by ?name= when given.
func (a *API) EntitiesHandler(c *gin.Context) {
	entities, err := a.service.Entities(c.Query("name"))
	if err != nil {
		a.fail(c, err, "get entities")
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": len(entities), "entities": entities})
}

// EntityHandler returns one upstream entity.
func (a *API) EntityHandler(c *gin.Context) {
	entity, err := a.service.Entity(c.Param("entityId"))
	if err != nil {
		a.fail(c, err, "get entity")
		return
	}
	c.JSON(http.StatusOK, entity)
}

// PartitionsHandler lists similarity partitions.
func (a *API) PartitionsHandler(c *gin.Context) {
	partitions, err := a.service.Partitions(c.Request.Context())
	if err != nil {
		a.fail(c, err, "list partitions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": len(partitions), "partitions": partitions})
}

// PartitionEntriesHandler exports every entry of a partition.
func (a *API) PartitionEntriesHandler(c *gin.Context) {
	entries, err := a.service.PartitionEntries(c.Request.Context(), c.Param("partition"))
	if err != nil {
		a.fail(c, err, "list partition entries")
		return
	}
	c.JSON(http.StatusOK, gin.H{"partition": c.Param("partition"), "total": len(entries), "entries": entries})
}

type importRequest struct {
	Entries []*models.SimilarityEntry `json:"entries"`
}

// ImportEntriesHandler saves exported entries into a partition.
func (a *API) ImportEntriesHandler(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	n, err := a.service.ImportEntries(c.Request.Context(), c.Param("partition"), req.Entries)
	if err != nil {
		a.fail(c, err, "import entries")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "imported": n})
}

// DeleteEntryHandler removes one entry from a partition.
func (a *API) DeleteEntryHandler(c *gin.Context) {
	if err := a.service.DeleteEntry(c.Request.Context(), c.Param("partition"), c.Param("id")); err != nil {
		a.fail(c, err, "delete entry")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": c.Param("id")})
}

// ClearPartitionHandler deletes every entry of a partition.
func (a *API) ClearPartitionHandler(c *gin.Context) {
	n, err := a.service.ClearPartition(c.Request.Context(), c.Param("partition"))
	if err != nil {
		a.fail(c, err, "clear partition")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": n})
}

// DuplicatesHandler groups near-identical entries, using ?threshold= when given.
func (a *API) DuplicatesHandler(c *gin.Context) {
	threshold := 0.0
	if raw := c.Query("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 || v > 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be in (0, 1]"})
			return
		}
		threshold = v
	}
	groups, err := a.service.Duplicates(c.Request.Context(), c.Param("partition"), threshold)
	if err != nil {
		a.fail(c, err, "find duplicates")
		return
	}
	c.JSON(http.StatusOK, gin.H{"partition": c.Param("partition"), "total": len(groups), "groups": groups})
}

// SignalsHandler lists archived signals.
func (a *API) SignalsHandler(c *gin.Context) {
	signals, err := a.service.Signals(c.Request.Context(), queryLimit(c, 20))
	if err != nil {
		a.fail(c, err, "get signals")
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": len(signals), "signals": signals})
}

// HealthHandler reports liveness plus the state of registered dependencies.
// A failing dependency degrades the status but the endpoint still answers 200.
func (a *API) HealthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	deps := a.service.Dependencies(ctx)
	status := "healthy"
	for _, state := range deps {
		if state != "ok" {
			status = "degraded"
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          status,
		"dependencies":    deps,
		"trackingEnabled": a.service.TrackingEnabled(),
		"uptime":          time.Since(a.started).Round(time.Second).String(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}
