package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opendenkaru/emr-auth/internal/auth/domain"
	"github.com/opendenkaru/emr-auth/internal/auth/store"
	"github.com/opendenkaru/emr-auth/pkg/cryptox"
	"github.com/opendenkaru/emr-auth/pkg/idx"
)

const (
	defaultAuditBuffer   = 256
	auditWriteTimeout    = 5 * time.Second
	auditShutdownTimeout = 10 * time.Second

	// auditDetailClass is the field-encryption data class for the free-text
	// detail column.
	auditDetailClass = "audit_details"
)

// AuditLog writes audit events asynchronously through a buffered channel and
// a single worker, so the authentication path never blocks on the audit
// table. A full buffer drops the event with a warning rather than stalling a
// login.
type AuditLog struct {
	store  store.Store
	cipher *cryptox.FieldCipher
	logger *slog.Logger

	events chan domain.AuditEvent
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewAuditLog starts the dispatcher. cipher may be nil; when set, the detail
// column is encrypted at rest under the audit_details data class.
func NewAuditLog(st store.Store, cipher *cryptox.FieldCipher, logger *slog.Logger, buffer int) *AuditLog {
	if buffer <= 0 {
		buffer = defaultAuditBuffer
	}

	a := &AuditLog{
		store:  st,
		cipher: cipher,
		logger: logger,
		events: make(chan domain.AuditEvent, buffer),
	}

	a.wg.Add(1)
	go a.worker()

	return a
}

// Record enqueues an event. It never blocks: when the buffer is full the
// event is dropped and logged instead.
func (a *AuditLog) Record(ev domain.AuditEvent) {
	if ev.ID == "" {
		ev.ID = idx.New().String()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		a.logger.Warn("audit event after shutdown", "action", ev.Action)
		return
	}

	select {
	case a.events <- ev:
	default:
		a.logger.Warn("audit buffer full, event dropped",
			"action", ev.Action, "actor_id", ev.ActorID)
	}
}

// Close stops accepting events and waits for the worker to drain the buffer.
func (a *AuditLog) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.events)
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(auditShutdownTimeout):
		a.logger.Warn("audit drain timed out")
	}
}

func (a *AuditLog) worker() {
	defer a.wg.Done()

	for ev := range a.events {
		if a.cipher != nil && ev.Detail != "" {
			enc, err := a.cipher.EncryptField(ev.Detail, auditDetailClass)
			if err != nil {
				a.logger.Error("audit detail encryption failed", "error", err)
				ev.Detail = ""
			} else {
				ev.Detail = enc
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		if err := a.store.AuditEvents().AppendAuditEvent(ctx, ev); err != nil {
			a.logger.Error("audit write failed",
				"error", err, "action", ev.Action, "actor_id", ev.ActorID)
		}
		cancel()
	}
}
