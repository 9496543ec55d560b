package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"live-quiz-service/internal/domain"
)

type fakeChannel struct {
	declared   []string
	durable    bool
	published  []amqp.Publishing
	keys       []string
	declareErr error
	closed     bool
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	f.declared = append(f.declared, name)
	f.durable = durable
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestReportPublisherSendsSummary(t *testing.T) {
	ch := &fakeChannel{}
	pub, err := newReportPublisher(ch, "session.finished")
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if len(ch.declared) != 1 || ch.declared[0] != "session.finished" || !ch.durable {
		t.Fatalf("expected durable queue declared, got %v durable=%v", ch.declared, ch.durable)
	}
	stamp := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	pub.now = func() time.Time { return stamp }

	summary := domain.SessionSummary{
		SessionID: "s1",
		QuizID:    "quiz-1",
		Pin:       "123456",
		Mode:      domain.ModeLive,
		Ranking:   []domain.RankingEntry{{Rank: 1, UserID: "u1", Score: 750}},
	}
	if err := pub.SessionFinished(context.Background(), summary); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(ch.published) != 1 || ch.keys[0] != "session.finished" {
		t.Fatalf("expected one message on the queue, got %d", len(ch.published))
	}
	msg := ch.published[0]
	if msg.ContentType != "application/json" || msg.DeliveryMode != amqp.Persistent || msg.MessageId != "s1" || !msg.Timestamp.Equal(stamp) {
		t.Fatalf("unexpected message headers %+v", msg)
	}
	var got domain.SessionSummary
	if err := json.Unmarshal(msg.Body, &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.SessionID != "s1" || len(got.Ranking) != 1 || got.Ranking[0].Score != 750 {
		t.Fatalf("unexpected body %+v", got)
	}

	if err := pub.Close(); err != nil || !ch.closed {
		t.Fatalf("expected channel closed, err=%v", err)
	}
}

func TestReportPublisherDeclareFailure(t *testing.T) {
	ch := &fakeChannel{declareErr: errors.New("access refused")}
	if _, err := newReportPublisher(ch, "q"); err == nil {
		t.Fatalf("expected declare error")
	}
}
