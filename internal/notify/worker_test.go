package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"driver-dispatch-backend/internal/model"
)

type fakeSender struct {
	status    int
	payloads  []string
	endpoints []string
}

func (f *fakeSender) Send(payload []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
	f.payloads = append(f.payloads, string(payload))
	f.endpoints = append(f.endpoints, sub.Endpoint)
	return &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}, nil
}

func setupPool(t *testing.T, sender Sender) (*WorkerPool, *gorm.DB) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&model.Notification{}, &model.PushSubscription{}))
	t.Cleanup(func() {
		sqlDB, _ := gdb.DB()
		sqlDB.Close()
	})

	pool := NewWorkerPool(1, gdb, &webpush.Options{}, nil)
	pool.SetSender(sender)
	return pool, gdb
}

func TestDeliverSendsToEverySubscription(t *testing.T) {
	sender := &fakeSender{status: http.StatusCreated}
	pool, gdb := setupPool(t, sender)

	driverID := uuid.New()
	n := model.Notification{
		ID:           uuid.New(),
		DriverID:     driverID,
		AssignmentID: uuid.New(),
		Kind:         model.NotifyBidWon,
		Payload:      `"You won the route for 2026-03-20"`,
	}
	require.NoError(t, gdb.Create(&n).Error)
	for _, endpoint := range []string{"https://push.example/a", "https://push.example/b"} {
		require.NoError(t, gdb.Create(&model.PushSubscription{
			Endpoint: endpoint, DriverID: driverID, P256DH: "key", Auth: "auth",
		}).Error)
	}

	pool.deliver(context.Background(), n.ID)

	assert.ElementsMatch(t,
		[]string{"https://push.example/a", "https://push.example/b"}, sender.endpoints)
	for _, payload := range sender.payloads {
		assert.Contains(t, payload, string(model.NotifyBidWon))
	}

	var sent model.Notification
	require.NoError(t, gdb.First(&sent, "id = ?", n.ID).Error)
	assert.NotNil(t, sent.SentAt, "delivered notifications leave the outbox backlog")
}

func TestDeliverPrunesGoneSubscriptions(t *testing.T) {
	sender := &fakeSender{status: http.StatusGone}
	pool, gdb := setupPool(t, sender)

	driverID := uuid.New()
	n := model.Notification{
		ID:           uuid.New(),
		DriverID:     driverID,
		AssignmentID: uuid.New(),
		Kind:         model.NotifyConfirmReminder,
		Payload:      `"Confirm your route"`,
	}
	require.NoError(t, gdb.Create(&n).Error)
	require.NoError(t, gdb.Create(&model.PushSubscription{
		Endpoint: "https://push.example/stale", DriverID: driverID, P256DH: "key", Auth: "auth",
	}).Error)

	pool.deliver(context.Background(), n.ID)

	var count int64
	require.NoError(t, gdb.Model(&model.PushSubscription{}).Count(&count).Error)
	assert.Zero(t, count, "a 410 endpoint is deleted")
}

func TestDrainUnsentRequeuesOnlyUnsent(t *testing.T) {
	sender := &fakeSender{status: http.StatusCreated}
	pool, gdb := setupPool(t, sender)

	unsent := model.Notification{
		ID: uuid.New(), DriverID: uuid.New(), AssignmentID: uuid.New(),
		Kind: model.NotifyAutoDropped, Payload: `"released"`,
	}
	require.NoError(t, gdb.Create(&unsent).Error)

	sent := model.Notification{
		ID: uuid.New(), DriverID: uuid.New(), AssignmentID: uuid.New(),
		Kind: model.NotifyNoShow, Payload: `"missed"`,
	}
	require.NoError(t, gdb.Create(&sent).Error)
	require.NoError(t, gdb.Model(&model.Notification{}).
		Where("id = ?", sent.ID).Update("sent_at", gorm.Expr("CURRENT_TIMESTAMP")).Error)

	require.NoError(t, pool.DrainUnsent(context.Background(), 10))

	require.Len(t, pool.jobs, 1)
	assert.Equal(t, unsent.ID, <-pool.jobs)
}
