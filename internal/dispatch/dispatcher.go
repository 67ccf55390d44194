package dispatch

import (
	"context"
	"time"

	"github.com/session-foundation/seshd/internal/bus"
	"github.com/session-foundation/seshd/internal/retry"
	"github.com/session-foundation/seshd/internal/store"
	"go.uber.org/zap"
)

// Uploader is the interface for pushing serialized config blobs to the
// account's swarm.
type Uploader interface {
	Upload(ctx context.Context, variant, owner string, blob []byte, hash string, seqno int64) error
}

// Dispatcher drains the push queue and uploads pending config blobs via the
// swarm adapter. Uploads are retried with backoff; a persistent failure puts
// the entry back in the queue for the next cycle so a local edit is never
// dropped.
type Dispatcher struct {
	db       *store.DB
	uploader Uploader
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
}

// NewDispatcher creates a new push dispatcher.
func NewDispatcher(db *store.DB, uploader Uploader, b *bus.Bus, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		db:       db,
		uploader: uploader,
		bus:      b,
		logger:   logger,
		interval: 500 * time.Millisecond,
	}
}

// Start begins polling the push queue for pending entries.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	go d.loop(ctx)
}

// Stop stops the dispatcher loop.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.ProcessPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending uploads every queued entry once, oldest first. Exported so
// the control API can force a drain outside the ticker.
func (d *Dispatcher) ProcessPending(ctx context.Context) {
	pending, err := d.db.PendingPush()
	if err != nil {
		d.logger.Error("failed to read push queue", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := d.db.MarkPushSending(entry.ClientID); err != nil {
			d.logger.Error("failed to mark push sending", zap.Error(err), zap.String("client_id", entry.ClientID))
			continue
		}

		err := retry.DoSimple(ctx, 3, func() error {
			return d.uploader.Upload(ctx, entry.Variant, entry.OwnerPubKey, entry.Blob, entry.BlobHash, entry.Seqno)
		})
		if err != nil {
			d.logger.Error("failed to upload config push",
				zap.Error(err),
				zap.String("client_id", entry.ClientID),
				zap.String("variant", entry.Variant))
			_ = d.db.MarkPushFailed(entry.ClientID, err.Error())
			d.bus.Publish(bus.Event{
				Kind:      "push.failed",
				Timestamp: time.Now(),
				Payload: map[string]string{
					"client_id": entry.ClientID,
					"variant":   entry.Variant,
					"error":     err.Error(),
				},
			})
			continue
		}

		if err := d.db.MarkPushSent(entry.ClientID); err != nil {
			d.logger.Error("failed to mark push sent", zap.Error(err), zap.String("client_id", entry.ClientID))
		}

		d.logger.Info("config push uploaded",
			zap.String("client_id", entry.ClientID),
			zap.String("variant", entry.Variant),
			zap.Int64("seqno", entry.Seqno))
		d.bus.Publish(bus.Event{
			Kind:      "push.sent",
			Timestamp: time.Now(),
			Payload: map[string]string{
				"client_id": entry.ClientID,
				"variant":   entry.Variant,
			},
		})
	}
}
