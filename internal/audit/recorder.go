// Package audit records security relevant events and serves tenant-scoped
// queries over them. Recording never fails the operation being audited.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantgate/internal/metrics"
	"github.com/kiranshivaraju/tenantgate/internal/store"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
	"github.com/oklog/ulid/v2"
)

const (
	// MinRetentionDays is the youngest age an entry may have to be purged.
	MinRetentionDays = 90
	// DefaultRetentionDays is used when a cleanup request omits the age.
	DefaultRetentionDays = 365

	// Request metadata is caller controlled and stored as-is up to these
	// byte lengths.
	MaxSourceAddressLen = 64
	MaxClientAgentLen   = 512

	defaultWriteTimeout = 2 * time.Second
)

// ErrRetentionFloor is returned by Cleanup for thresholds under MinRetentionDays.
var ErrRetentionFloor = fmt.Errorf("retention threshold must be at least %d days", MinRetentionDays)

// Meta is the request metadata stamped on every entry.
type Meta struct {
	SourceAddress string
	ClientAgent   string
}

// Event is one thing worth recording. PrincipalID is nil for
// unauthenticated events and TenantID is nil when no tenant could be
// attributed.
type Event struct {
	Action      models.AuditAction
	PrincipalID *uuid.UUID
	TenantID    *uuid.UUID
	Details     map[string]any
	Meta
}

// Recorder appends audit entries through the store.
type Recorder struct {
	store   store.Store
	timeout time.Duration
	now     func() time.Time

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// NewRecorder creates a Recorder. writeTimeout bounds each append; zero
// selects a default.
func NewRecorder(s store.Store, writeTimeout time.Duration) *Recorder {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Recorder{
		store:   s,
		timeout: writeTimeout,
		now:     func() time.Time { return time.Now().UTC() },
		entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
	}
}

// SetClock overrides the time source.
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Recorder) newID(at time.Time) string {
	r.entropyMu.Lock()
	defer r.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), r.entropy).String()
}

// Record appends one entry. Failures are logged and counted, never
// returned. The write is detached from the caller's cancellation so an
// abandoned request still leaves its trail.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if !ev.Action.Valid() {
		slog.Error("audit action not recognised", "action", ev.Action)
		metrics.AuditWrite(false)
		return
	}

	at := r.now()
	details := ev.Details
	if details == nil {
		details = map[string]any{}
	}
	entry := &models.AuditEntry{
		ID:            r.newID(at),
		Action:        ev.Action,
		PrincipalID:   ev.PrincipalID,
		TenantID:      ev.TenantID,
		Details:       details,
		SourceAddress: clamp(ev.SourceAddress, MaxSourceAddressLen),
		ClientAgent:   clamp(ev.ClientAgent, MaxClientAgentLen),
		OccurredAt:    at,
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.store.AppendAuditEntry(writeCtx, entry); err != nil {
		slog.Warn("audit write failed", "action", ev.Action, "error", err)
		metrics.AuditWrite(false)
		return
	}
	metrics.AuditWrite(true)
}

// clamp cuts s to at most n bytes without splitting a UTF-8 sequence.
func clamp(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// List returns one page of the tenant's entries, newest first.
func (r *Recorder) List(ctx context.Context, ts store.TenantStore, filter store.AuditFilter) ([]*models.AuditEntry, int, error) {
	filter.Unpaged = false
	return ts.ListAuditEntries(ctx, filter)
}

func (r *Recorder) Get(ctx context.Context, ts store.TenantStore, id string) (*models.AuditEntry, error) {
	return ts.GetAuditEntry(ctx, id)
}

// Export returns up to store.MaxExportRows matching entries and records
// the export itself.
func (r *Recorder) Export(ctx context.Context, ts store.TenantStore, actor uuid.UUID, meta Meta, filter store.AuditFilter, format string) ([]*models.AuditEntry, error) {
	filter.Unpaged = true
	entries, total, err := ts.ListAuditEntries(ctx, filter)
	if err != nil {
		return nil, err
	}

	tenantID := ts.TenantID()
	details := map[string]any{
		"format": format,
		"count":  len(entries),
		"total":  total,
	}
	if !filter.Since.IsZero() {
		details["since"] = filter.Since
	}
	if !filter.Until.IsZero() {
		details["until"] = filter.Until
	}
	r.Record(ctx, Event{
		Action:      models.ActionAuditLogsExported,
		PrincipalID: &actor,
		TenantID:    &tenantID,
		Details:     details,
		Meta:        meta,
	})
	return entries, nil
}

// Cleanup deletes the tenant's entries strictly older than olderThanDays
// and records a single summary entry. Thresholds under the floor are
// rejected before storage is touched. Callers are responsible for the
// admin gate.
func (r *Recorder) Cleanup(ctx context.Context, ts store.TenantStore, actor uuid.UUID, meta Meta, olderThanDays int) (int64, error) {
	if olderThanDays < MinRetentionDays {
		return 0, ErrRetentionFloor
	}

	cutoff := r.now().AddDate(0, 0, -olderThanDays)
	deleted, err := ts.DeleteAuditEntriesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}

	tenantID := ts.TenantID()
	r.Record(ctx, Event{
		Action:      models.ActionAuditLogsCleaned,
		PrincipalID: &actor,
		TenantID:    &tenantID,
		Details: map[string]any{
			"deleted_count":   deleted,
			"older_than_days": olderThanDays,
			"cutoff":          cutoff,
		},
		Meta: meta,
	})
	slog.Info("audit entries purged", "tenant_id", tenantID, "deleted", deleted, "older_than_days", olderThanDays)
	return deleted, nil
}
