/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package session

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tomoncle/datakit/database"
	"github.com/tomoncle/datakit/types"
)

const instrumentationName = "github.com/tomoncle/datakit/session"

var (
	tracer        = otel.Tracer(instrumentationName)
	commitCounter metric.Int64Counter
	rowsCounter   metric.Int64Counter
)

func init() {
	meter := otel.Meter(instrumentationName)
	commitCounter, _ = meter.Int64Counter("datakit.session.commits",
		metric.WithDescription("Number of commits by outcome"))
	rowsCounter, _ = meter.Int64Counter("datakit.session.rows_affected",
		metric.WithDescription("Rows written by successful commits"))
}

const noChangeMessage = "no change were made to the database"

// Commit writes every staged change in one transaction. Inserts run first
// in ascending model priority, then upserts, then updates, then deletes in
// descending priority.
//
// On success each written entity becomes Unchanged and each deleted one is
// detached. On failure the transaction is rolled back, staged states stay as
// they were and entities staged for insertion get their pre-commit values
// back, so Commit may be retried or the changes rejected.
func (s *Session) Commit(ctx context.Context) types.Result {
	if s.closed {
		return types.ResultFromError(ErrSessionClosed)
	}
	ctx, span := tracer.Start(ctx, "session.Commit", trace.WithAttributes(attribute.String("session.id", s.id)))
	defer span.End()

	pending := s.pending()
	span.SetAttributes(attribute.Int("session.pending", len(pending)))
	if len(pending) == 0 {
		return types.ErrorResult(noChangeMessage)
	}

	var affected int64
	err := s.db.RunInTx(ctx, s.txOptions, func(ctx context.Context, tx bun.Tx) error {
		for _, e := range pending {
			n, err := s.write(ctx, tx, e)
			if err != nil {
				return err
			}
			affected += n
		}
		return nil
	})
	if err != nil {
		for _, e := range pending {
			if e.state == types.Added || e.state == types.Upserted {
				s.restore(e)
			}
		}
		err = classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		commitCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", types.KindOf(err).String())))
		s.logger.Error("commit failed", "session", s.id, "pending", len(pending), "error", err)
		return types.ResultFromError(err)
	}

	for _, e := range pending {
		if e.state == types.Deleted {
			s.forget(e)
			continue
		}
		s.resync(e)
	}
	commitCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))
	rowsCounter.Add(ctx, affected)
	span.SetAttributes(attribute.Int64("session.rows_affected", affected))

	if affected == 0 {
		return types.ErrorResult(noChangeMessage)
	}
	s.logger.Debug("commit succeeded", "session", s.id, "rows", affected)
	return types.Okay(fmt.Sprintf("%d updated on the database", affected))
}

// pending returns the entries to write, in write order.
func (s *Session) pending() []*Entry {
	var out []*Entry
	for _, e := range s.entries {
		if e.state.Pending() {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if phase(a.state) != phase(b.state) {
			return phase(a.state) < phase(b.state)
		}
		pa, pb := s.priority(a), s.priority(b)
		if pa != pb {
			if a.state == types.Deleted {
				return pa > pb
			}
			return pa < pb
		}
		return a.seq < b.seq
	})
	return out
}

func phase(state types.EntityState) int {
	switch state {
	case types.Added:
		return 0
	case types.Upserted:
		return 1
	case types.Modified:
		return 2
	default:
		return 3
	}
}

func (s *Session) priority(e *Entry) int {
	if s.registry == nil {
		return 0
	}
	p, _ := s.registry.PriorityOf(e.table.Type)
	return p
}

func (s *Session) write(ctx context.Context, tx bun.Tx, e *Entry) (int64, error) {
	switch e.state {
	case types.Added:
		res, err := tx.NewInsert().Model(e.entity).Exec(ctx)
		if err != nil {
			return 0, errors.Wrapf(err, "insert %s", describe(e))
		}
		return rowsAffected(res, 1), nil

	case types.Upserted:
		return s.upsert(ctx, tx, e)

	case types.Modified:
		res, err := tx.NewUpdate().Model(e.entity).WherePK().Exec(ctx)
		if err != nil {
			return 0, errors.Wrapf(err, "update %s", describe(e))
		}
		n := rowsAffected(res, 0)
		if n == 0 {
			return 0, conflict("update", e)
		}
		return n, nil

	case types.Deleted:
		res, err := tx.NewDelete().Model(e.entity).WherePK().Exec(ctx)
		if err != nil {
			return 0, errors.Wrapf(err, "delete %s", describe(e))
		}
		n := rowsAffected(res, 0)
		if n == 0 {
			return 0, conflict("delete", e)
		}
		return n, nil
	}
	return 0, nil
}

// identList renders cols as a comma separated list of placeholders with one
// bun.Ident argument per column.
func identList(cols []string) (string, []interface{}) {
	marks := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, col := range cols {
		marks[i] = "?"
		args[i] = bun.Ident(col)
	}
	return strings.Join(marks, ", "), args
}

// upsert issues a dialect specific INSERT ... ON CONFLICT statement, falling
// back to update-then-insert for dialects that have neither form.
func (s *Session) upsert(ctx context.Context, tx bun.Tx, e *Entry) (int64, error) {
	q := tx.NewInsert().Model(e.entity)
	switch {
	case s.db.HasFeature(feature.InsertOnConflict):
		targets, args := identList(e.upsert.conflict)
		if len(e.upsert.update) == 0 {
			q = q.On("CONFLICT ("+targets+") DO NOTHING", args...)
			break
		}
		q = q.On("CONFLICT ("+targets+") DO UPDATE", args...)
		for _, col := range e.upsert.update {
			q = q.Set("? = EXCLUDED.?", bun.Ident(col), bun.Ident(col))
		}
	case s.db.HasFeature(feature.InsertOnDuplicateKey):
		q = q.On("DUPLICATE KEY UPDATE")
		for _, col := range e.upsert.update {
			q = q.Set("? = VALUES(?)", bun.Ident(col), bun.Ident(col))
		}
		if len(e.upsert.update) == 0 {
			col := e.upsert.conflict[0]
			q = q.Set("? = ?", bun.Ident(col), bun.Ident(col))
		}
	default:
		res, err := tx.NewUpdate().Model(e.entity).WherePK().Exec(ctx)
		if err != nil {
			return 0, errors.Wrapf(err, "upsert %s", describe(e))
		}
		if n := rowsAffected(res, 0); n > 0 {
			return 1, nil
		}
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "upsert %s", describe(e))
	}
	// MySQL reports 2 for a row that was updated in place.
	if n := rowsAffected(res, 1); n > 0 {
		return 1, nil
	}
	return 0, nil
}

func rowsAffected(res interface{ RowsAffected() (int64, error) }, fallback int64) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return fallback
	}
	return n
}

func conflict(op string, e *Entry) error {
	return types.NewError(types.ConcurrencyConflictKind, "commit",
		"%s of %s affected no rows; it was changed or removed since it was loaded", op, describe(e))
}

// classify maps a transaction failure onto the error taxonomy. Concurrency
// conflicts pass through unchanged.
func classify(err error) error {
	var typed *types.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.WrapError(types.CancelledKind, "commit", err)
	}
	return types.WrapError(types.CommitFailureKind, "commit",
		errors.Wrap(err, database.ClassifyError(err).String()))
}

// snapshotOf is used by tests to look at the baseline values of a tracked
// entity.
func (e *Entry) snapshotOf() interface{} {
	if !e.snapshot.IsValid() {
		return nil
	}
	cp := reflect.New(e.snapshot.Type())
	cp.Elem().Set(e.snapshot)
	return cp.Interface()
}
