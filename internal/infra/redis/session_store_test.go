package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	mr := startRedis(t)
	store := NewSessionStore(newClient(mr), time.Minute)
	ctx := context.Background()

	session := domain.Session{ID: "s1", Pin: "123456", OwnerID: "prof", Phase: domain.PhaseWaiting, CurrentQuestion: -1}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !mr.Exists("live:session:s1") || !mr.Exists("live:pin:123456") {
		t.Fatalf("expected session and pin keys to be set")
	}
	if ok, _ := mr.SIsMember("live:sessions", "s1"); !ok {
		t.Fatalf("expected session indexed")
	}
	if err := store.Create(ctx, domain.Session{ID: "s2", Pin: "123456"}); !errors.Is(err, domain.ErrPinTaken) {
		t.Fatalf("expected ErrPinTaken, got %v", err)
	}

	byPin, err := store.GetByPin(ctx, "123456")
	if err != nil || byPin.ID != "s1" || byPin.CurrentQuestion != -1 {
		t.Fatalf("get by pin: %+v %v", byPin, err)
	}

	session.Phase = domain.PhaseFinished
	if err := store.Update(ctx, session); err != nil {
		t.Fatalf("update: %v", err)
	}
	if mr.Exists("live:pin:123456") {
		t.Fatalf("expected pin released on finish")
	}
	if _, err := store.GetByPin(ctx, "123456"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected finished session hidden from pin lookup, got %v", err)
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists("live:session:s1") {
		t.Fatalf("expected redis key to be removed")
	}
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionStoreReleaseKeepsForeignPin(t *testing.T) {
	mr := startRedis(t)
	store := NewSessionStore(newClient(mr), 0)
	ctx := context.Background()

	old := domain.Session{ID: "old", Pin: "222222", Phase: domain.PhaseWaiting}
	if err := store.Create(ctx, old); err != nil {
		t.Fatalf("create: %v", err)
	}
	old.Phase = domain.PhaseFinished
	if err := store.Update(ctx, old); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := store.Create(ctx, domain.Session{ID: "new", Pin: "222222", Phase: domain.PhaseWaiting}); err != nil {
		t.Fatalf("reuse pin: %v", err)
	}

	// Deleting the old session must not free the pin now held by "new".
	if err := store.Delete(ctx, "old"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := store.GetByPin(ctx, "222222")
	if err != nil || got.ID != "new" {
		t.Fatalf("expected pin to stay with new, got %+v %v", got, err)
	}
}

func TestSessionStoreUpdateMissing(t *testing.T) {
	mr := startRedis(t)
	store := NewSessionStore(newClient(mr), time.Minute)
	if err := store.Update(context.Background(), domain.Session{ID: "ghost"}); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionStoreListPrunesExpired(t *testing.T) {
	mr := startRedis(t)
	store := NewSessionStore(newClient(mr), time.Minute)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, s := range []domain.Session{
		{ID: "a", Pin: "100001", OwnerID: "p1", Phase: domain.PhaseWaiting, CreatedAt: base},
		{ID: "b", Pin: "100002", OwnerID: "p1", Phase: domain.PhaseActive, CreatedAt: base.Add(time.Minute)},
		{ID: "c", Pin: "100003", OwnerID: "p2", Phase: domain.PhaseWaiting, CreatedAt: base.Add(2 * time.Minute)},
	} {
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	mr.Del("live:session:c")

	all, err := store.List(ctx, app.SessionFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ID != "b" {
		t.Fatalf("expected b then a, got %+v", all)
	}
	if ok, _ := mr.SIsMember("live:sessions", "c"); ok {
		t.Fatalf("expected expired id pruned from index")
	}
	active, _ := store.List(ctx, app.SessionFilter{OwnerID: "p1", Phase: domain.PhaseActive})
	if len(active) != 1 || active[0].ID != "b" {
		t.Fatalf("expected only b, got %+v", active)
	}
}

func TestParticipationStoreRoundTrip(t *testing.T) {
	mr := startRedis(t)
	store := NewParticipationStore(newClient(mr), time.Minute)
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := store.Update(ctx, domain.Participation{SessionID: "s1", UserID: "u1"}); !errors.Is(err, domain.ErrNotAParticipant) {
		t.Fatalf("expected update of unknown participation to fail, got %v", err)
	}
	for i, user := range []string{"u2", "u1"} {
		p := domain.Participation{SessionID: "s1", UserID: user, State: domain.ParticipationActive, StartedAt: start.Add(time.Duration(i) * time.Second)}
		if err := store.Create(ctx, p); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if !mr.Exists("live:session:s1:participations") {
		t.Fatalf("expected participations hash")
	}

	p, err := store.Get(ctx, "s1", "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	p.Answers = append(p.Answers, domain.Answer{QuestionID: "q1", Selected: []int{0, 2}, Correct: true, Points: 900})
	p.Score = 900
	if err := store.Update(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}

	list, err := store.ListBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].UserID != "u2" || list[1].Score != 900 || len(list[1].Answers[0].Selected) != 2 {
		t.Fatalf("unexpected list %+v", list)
	}

	if err := store.Delete(ctx, "s1", "u2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "s1", "u2"); !errors.Is(err, domain.ErrNotAParticipant) {
		t.Fatalf("expected ErrNotAParticipant, got %v", err)
	}
	if err := store.DeleteBySession(ctx, "s1"); err != nil {
		t.Fatalf("delete by session: %v", err)
	}
	if mr.Exists("live:session:s1:participations") {
		t.Fatalf("expected hash removed")
	}
}
