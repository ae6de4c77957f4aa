package history

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chronolog/internal/core/apperror"
	appctx "chronolog/internal/core/context"
	"chronolog/internal/core/entity"
	"chronolog/internal/core/id"
	"chronolog/internal/core/tx"
	"chronolog/pkg/logger"
)

var tracer = otel.Tracer("chronolog/history")

// Hook captures one history record per tracked mutation.
// It must be invoked inside the unit of work that performs the mutation;
// any error it returns must abort that unit of work.
type Hook struct {
	registry   *Registry
	store      Store
	correlator tx.Correlator
	generator  id.Generator
	recorder   Recorder
	now        func() time.Time
}

// HookConfig configures the hook.
type HookConfig struct {
	Registry   *Registry
	Store      Store
	Correlator tx.Correlator
	Generator  id.Generator // Revision ids; defaults to the coarse layout
	Recorder   Recorder     // Optional
	Clock      func() time.Time
}

// NewHook creates a mutation hook.
func NewHook(cfg HookConfig) *Hook {
	h := &Hook{
		registry:   cfg.Registry,
		store:      cfg.Store,
		correlator: cfg.Correlator,
		generator:  cfg.Generator,
		recorder:   cfg.Recorder,
		now:        cfg.Clock,
	}
	if h.generator == nil {
		h.generator = id.NewGenerator(id.LayoutCoarse)
	}
	if h.recorder == nil {
		h.recorder = NopRecorder{}
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Capture records the mutation of one row of table.
// old is the pre-image (nil for INSERT), new the post-image (nil for DELETE).
func (h *Hook) Capture(ctx context.Context, table string, op Operation, old, new *entity.Record) (*Record, error) {
	ctx, span := tracer.Start(ctx, "history.capture",
		trace.WithAttributes(
			attribute.String("history.table", table),
			attribute.String("history.operation", string(op)),
		))
	defer span.End()

	rec, err := h.capture(ctx, table, op, old, new)
	if err != nil {
		code := apperror.CodeInternal
		if appErr, ok := apperror.AsAppError(err); ok {
			code = appErr.Code
		}
		h.recorder.Rejected(table, code)
		span.SetStatus(codes.Error, code)
		logger.Warn(ctx, "history capture aborted mutation", "table", table, "operation", op, "code", code)
		return nil, err
	}

	h.recorder.Appended(table, op)
	logger.Debug(ctx, "history record appended",
		"table", table,
		"operation", op,
		"entity_id", rec.EntityID,
		"revision_id", rec.RevisionID,
		"transaction_id", rec.TransactionID,
	)
	return rec, nil
}

func (h *Hook) capture(ctx context.Context, table string, op Operation, old, new *entity.Record) (*Record, error) {
	t, err := h.registry.Lookup(table)
	if err != nil {
		return nil, err
	}
	if err := checkImages(op, old, new); err != nil {
		return nil, err
	}

	// 1. Actor
	actor, ok := appctx.ActorFrom(ctx)
	if !ok {
		return nil, apperror.NewMissingActor(table)
	}

	// 2. Unit of work
	txID, err := h.correlator.TransactionID(ctx)
	if err != nil {
		return nil, err
	}

	// 3. Identity
	entityID, err := h.resolveEntity(t, op, old, new)
	if err != nil {
		return nil, err
	}

	// 4. Delta
	delta := Diff(old, new)

	// 5. Revision
	revisionID, err := h.generator.Generate()
	if err != nil {
		return nil, err
	}

	rec := &Record{
		TransactionID: txID,
		Table:         t.Name,
		EntityID:      entityID,
		RevisionID:    revisionID,
		Actor:         actor,
		Timestamp:     h.now().UTC().Truncate(time.Microsecond),
		Operation:     op,
		Delta:         delta,
	}
	if rec.Digest, err = ComputeDigest(rec); err != nil {
		return nil, apperror.NewInternal(err)
	}

	// 6. Append
	if err := h.store.Append(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func checkImages(op Operation, old, new *entity.Record) error {
	var ok bool
	switch op {
	case OpInsert:
		ok = old == nil && new != nil
	case OpUpdate:
		ok = old != nil && new != nil
	case OpDelete:
		ok = old != nil && new == nil
	default:
		return apperror.NewValidation(fmt.Sprintf("unknown operation %q", op))
	}
	if !ok {
		return apperror.NewValidation(fmt.Sprintf("row images do not match operation %s", op))
	}
	return nil
}

// resolveEntity returns the entity id and, for updates, rejects identity changes.
func (h *Hook) resolveEntity(t Table, op Operation, old, new *entity.Record) (id.ID, error) {
	switch op {
	case OpInsert:
		return t.EntityID(new)
	case OpDelete:
		return t.EntityID(old)
	}

	oldID, err := t.EntityID(old)
	if err != nil {
		return id.Nil(), err
	}
	newValue, _ := new.Get(t.IDField)
	newID, err := toID(newValue)
	if newValue == nil || err != nil || newID != oldID {
		return id.Nil(), apperror.NewIdentityMismatch(t.Name, t.IDField, oldID.String(), newValue)
	}
	return oldID, nil
}
