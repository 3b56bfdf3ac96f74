package store

import (
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/internal/pipeline"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"fmt"
)

// Archiver writes generated signals to a SignalStore.
type Archiver struct {
	store  SignalStore
	logger *logger.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(store SignalStore, logger *logger.Logger) *Archiver {
	return &Archiver{store: store, logger: logger.Component("signal-archiver")}
}

// Handle stores the signal carried by e. Events of other kinds are ignored.
func (a *Archiver) Handle(ctx context.Context, e pipeline.Event) error {
	if e.Kind != pipeline.KindSignalGenerated {
		return nil
	}
	signal, ok := e.Payload.(models.SignalRecord)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Kind)
	}
	if signal.FlowID == "" && e.FlowID != pipeline.NoFlow {
		signal.FlowID = e.FlowID
	}
	if err := a.store.Save(ctx, &signal); err != nil {
		a.logger.WithError(models.NewErrorInfo(err, "archive_failed")).
			WithField("record_id", signal.RecordID).
			Error("Failed to archive signal")
		return fmt.Errorf("archive signal %s: %w", signal.RecordID, err)
	}
	a.logger.WithField("record_id", signal.RecordID).Debug("Signal archived")
	return nil
}

// Subscribe attaches the archiver to the bus so signals are stored as they are generated.
func (a *Archiver) Subscribe(bus *pipeline.Bus) {
	bus.Subscribe(pipeline.KindSignalGenerated, func(ctx context.Context, e pipeline.Event) {
		_ = a.Handle(ctx, e)
	})
}
