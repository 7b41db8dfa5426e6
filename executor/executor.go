// Package executor serves the synchronous read and write operations against
// the record store and announces every created record on the hub.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maxpert/livefeed/errs"
	"github.com/maxpert/livefeed/notify"
	"github.com/maxpert/livefeed/record"
	"github.com/maxpert/livefeed/telemetry"
	"github.com/rs/zerolog/log"
)

// Executor runs read and write operations. Writes are serialized so the order
// of hub publishes matches the order of record ids.
type Executor struct {
	store *record.Store
	hub   *notify.Hub[record.Record]

	writeMu sync.Mutex
}

// New creates an executor over an explicitly constructed store and hub.
func New(store *record.Store, hub *notify.Hub[record.Record]) *Executor {
	return &Executor{store: store, hub: hub}
}

// Store returns the underlying record store.
func (e *Executor) Store() *record.Store {
	return e.store
}

// Hub returns the hub writes are announced on.
func (e *Executor) Hub() *notify.Hub[record.Record] {
	return e.hub
}

// HandleQuery returns every record in creation order.
func (e *Executor) HandleQuery(ctx context.Context) (records []record.Record, err error) {
	start := time.Now()
	defer func() { observe("read", start, err) }()
	defer recoverInternal("records", &err)

	if e.store == nil {
		return nil, errs.Internal("records", fmt.Errorf("record store unavailable"))
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Transport("records", err)
	}
	return e.store.ListAll(), nil
}

// HandleMutation validates the input, appends a record and publishes it on
// record.TopicCreated before returning. Once the append succeeded the
// operation completes even if ctx is cancelled.
func (e *Executor) HandleMutation(ctx context.Context, in record.CreateInput) (rec record.Record, err error) {
	start := time.Now()
	defer func() { observe("write", start, err) }()
	defer recoverInternal("createRecord", &err)

	if e.store == nil || e.hub == nil {
		return record.Record{}, errs.Internal("createRecord", fmt.Errorf("store or hub unavailable"))
	}
	if err := in.Validate(e.store.MaxContentLength()); err != nil {
		return record.Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return record.Record{}, errs.Transport("createRecord", err)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	rec, err = e.store.Append(in.Content)
	if err != nil {
		return record.Record{}, err
	}
	delivered := e.hub.Publish(record.TopicCreated, rec)

	telemetry.RecordsCreatedTotal.Inc()
	log.Debug().
		Uint64("record_id", rec.ID).
		Int("delivered", delivered).
		Msg("Record created")

	return rec, nil
}

func observe(kind string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = string(errs.CodeOf(err))
	}
	telemetry.OperationsTotal.With(kind, result).Inc()
	telemetry.OperationDurationSeconds.With(kind).Observe(time.Since(start).Seconds())
}

// recoverInternal turns a panic inside an operation into an InternalError so a
// broken collaborator fails the operation, not the process.
func recoverInternal(op string, err *error) {
	if r := recover(); r != nil {
		log.Error().Str("op", op).Interface("panic", r).Msg("Recovered panic in executor")
		*err = errs.Internal(op, fmt.Errorf("panic: %v", r))
	}
}
