package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"driver-dispatch-backend/internal/model"
)

// Notifier hands a committed outbox notification to the delivery side.
// Dispatch must never block the caller's transaction and must never fail
// it: delivery is strictly best-effort after commit.
type Notifier interface {
	Dispatch(notificationID uuid.UUID)
}

// Noop drops everything. Used in tests and when push is unconfigured;
// outbox rows stay unsent and can be drained later.
type Noop struct{}

func (Noop) Dispatch(uuid.UUID) {}

// Sender is the webpush transport seam, mocked in tests.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real transport.
type WebPushSender struct{}

func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool delivers outbox notifications over web push.
type WorkerPool struct {
	size    int
	jobs    chan uuid.UUID
	db      *gorm.DB
	webpush *webpush.Options
	sender  Sender
	log     *zap.Logger
}

// NewWorkerPool creates a new delivery pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, log *zap.Logger) *WorkerPool {
	if log == nil {
		log = zap.NewNop()
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan uuid.UUID, size*4),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     log,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug("notification worker started", zap.Int("worker", id))
	for {
		select {
		case notificationID := <-wp.jobs:
			wp.deliver(ctx, notificationID)
		case <-ctx.Done():
			wp.log.Debug("notification worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Dispatch queues a delivery job. Non-blocking: if the pool is saturated
// the row stays in the outbox for a later drain rather than stalling the
// mutation path.
func (wp *WorkerPool) Dispatch(notificationID uuid.UUID) {
	select {
	case wp.jobs <- notificationID:
	default:
		wp.log.Warn("notification pool saturated, leaving row for drain",
			zap.String("notification_id", notificationID.String()))
	}
}

// DrainUnsent re-dispatches outbox rows that were committed but never
// delivered, e.g. after a crash between commit and dispatch.
func (wp *WorkerPool) DrainUnsent(ctx context.Context, limit int) error {
	var pending []model.Notification
	if err := wp.db.WithContext(ctx).
		Where("sent_at IS NULL").
		Order("created_at").
		Limit(limit).
		Find(&pending).Error; err != nil {
		return fmt.Errorf("load unsent notifications: %w", err)
	}
	for _, n := range pending {
		wp.Dispatch(n.ID)
	}
	return nil
}

// deliver sends one notification to every subscription the driver has.
func (wp *WorkerPool) deliver(ctx context.Context, notificationID uuid.UUID) {
	var n model.Notification
	if err := wp.db.WithContext(ctx).First(&n, "id = ?", notificationID).Error; err != nil {
		wp.log.Error("fetch notification failed",
			zap.String("notification_id", notificationID.String()), zap.Error(err))
		return
	}

	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).
		Where("driver_id = ?", n.DriverID).
		Find(&subscriptions).Error; err != nil {
		wp.log.Error("fetch subscriptions failed",
			zap.String("driver_id", n.DriverID.String()), zap.Error(err))
		return
	}

	payload := fmt.Sprintf(`{"kind":%q,"assignment_id":%q,"body":%s}`,
		n.Kind, n.AssignmentID, n.Payload)
	for _, sub := range subscriptions {
		wp.send(ctx, sub, []byte(payload))
	}

	now := time.Now()
	if err := wp.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("id = ?", n.ID).
		Update("sent_at", &now).Error; err != nil {
		wp.log.Error("mark notification sent failed",
			zap.String("notification_id", n.ID.String()), zap.Error(err))
	}
}

// send pushes to a single subscription and prunes it when the endpoint is
// gone.
func (wp *WorkerPool) send(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Warn("push send failed", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		wp.log.Info("subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			wp.log.Error("delete expired subscription failed",
				zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}

// SetSender swaps the transport; tests inject a mock.
func (wp *WorkerPool) SetSender(s Sender) { wp.sender = s }
