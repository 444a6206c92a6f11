package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/spabook/libs/kafkax"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/settings"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/storage/memory"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []kafka.Message
	done      chan struct{}
	want      int
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs)), done: make(chan struct{}), want: len(msgs)}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	if len(r.committed) == r.want {
		close(r.done)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func message(t *testing.T, eventID, eventType string, payload any) kafka.Message {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return kafka.Message{
		Topic: eventType,
		Value: body,
		Headers: []kafka.Header{
			{Key: kafkax.HeaderEventID, Value: []byte(eventID)},
			{Key: kafkax.HeaderEventType, Value: []byte(eventType)},
		},
	}
}

func run(t *testing.T, c *Consumer, r *fakeReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(stopped)
	}()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("messages were not committed")
	}
	cancel()
	<-stopped
}

func TestPaymentEvents(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	store.AddUser(model.User{ID: "u1", Role: model.RoleClient})
	start := time.Now().Add(72 * time.Hour).Truncate(time.Minute)
	paid := store.PutAppointment(model.Appointment{UserID: "u1", StaffID: "s1", StartTime: start, EndTime: start.Add(time.Hour),
		PriceAtPurchase: 100000, Status: model.StatusPendingPayment})
	lapsed := store.PutAppointment(model.Appointment{UserID: "u1", StaffID: "s1", StartTime: start.Add(2 * time.Hour), EndTime: start.Add(3 * time.Hour),
		PriceAtPurchase: 100000, Status: model.StatusPendingPayment})
	svc := lifecycle.NewService(store, settings.Static{Settings: settings.Defaults()}, nil, logger)

	advance := map[string]any{"appointment_id": paid.ID, "kind": "ADVANCE", "amount": 30000}
	r := newFakeReader(
		message(t, "p1", lifecycle.EventPaymentApproved, advance),
		message(t, "p1", lifecycle.EventPaymentApproved, advance),
		message(t, "x1", lifecycle.EventPaymentExpired, map[string]any{"appointment_id": lapsed.ID}),
		message(t, "x2", lifecycle.EventPaymentExpired, map[string]any{"appointment_id": paid.ID}),
		kafka.Message{Topic: lifecycle.EventPaymentApproved, Value: []byte("{not json")},
		message(t, "o1", "something.else.v1", map[string]any{}),
	)
	c := New(r, logger)
	c.Handle(lifecycle.EventPaymentApproved, PaymentApproved(svc))
	c.Handle(lifecycle.EventPaymentExpired, PaymentExpired(svc))
	run(t, c, r)

	ctx := context.Background()
	got, err := store.GetAppointment(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)
	assert.Equal(t, int64(30000), got.AmountPaid)

	got, err = store.GetAppointment(ctx, lapsed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Equal(t, model.OutcomePaymentTimeout, got.Outcome)
	assert.Len(t, r.committed, 6)
}

func TestRetriesTransientFailures(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := newFakeReader(
		message(t, "e1", "flaky.v1", map[string]any{}),
		message(t, "e2", "busy.v1", map[string]any{}),
	)
	c := New(r, logger)
	c.maxRetry = 2 * time.Second

	var mu sync.Mutex
	calls := map[string]int{}
	c.Handle("flaky.v1", func(_ context.Context, meta kafkax.EventMeta, _ kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls[meta.EventID]++
		if calls[meta.EventID] == 1 {
			return errors.New("connection reset")
		}
		return nil
	})
	c.Handle("busy.v1", func(_ context.Context, meta kafkax.EventMeta, _ kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls[meta.EventID]++
		return apperr.New(apperr.SystemBusy, "busy")
	})
	run(t, c, r)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls["e1"])
	assert.Greater(t, calls["e2"], 1)
}
