package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"securechat/internal/domain"
	"securechat/internal/store"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return st
}

func TestThreadPairIsUnordered(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()

	t1, err := st.Threads().GetOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t2, err := st.Threads().GetOrCreate(ctx, b, a)
	if err != nil {
		t.Fatalf("lookup reversed: %v", err)
	}
	if t1.ID != t2.ID {
		t.Fatalf("expected one thread for the pair, got %s and %s", t1.ID, t2.ID)
	}
	if !t1.HasParticipant(a) || !t1.HasParticipant(b) {
		t.Fatalf("thread lost a participant: %+v", t1)
	}
	if t1.Peer(a) != b {
		t.Fatalf("expected peer of a to be b")
	}
}

func TestKeyUpsertOverwrites(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	userID := uuid.New()
	first := domain.KeyRecord{UserID: userID, PublicKey: "pub-1", EncryptedPrivateKey: "backup-1"}
	if err := st.Keys().Upsert(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second := domain.KeyRecord{UserID: userID, PublicKey: "pub-2", EncryptedPrivateKey: "backup-2"}
	if err := st.Keys().Upsert(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	record, err := st.Keys().Get(ctx, userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.PublicKey != "pub-2" || record.EncryptedPrivateKey != "backup-2" {
		t.Fatalf("re-registration did not overwrite: %+v", record)
	}

	if _, err := st.Keys().Get(ctx, uuid.New()); !errors.Is(err, store.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestReceiptInsertIsIdempotent(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	thread, err := st.Threads().GetOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	msg := &domain.Message{ID: uuid.New(), ThreadID: thread.ID, SenderID: a, Ciphertext: []byte("ct"), CreatedAt: time.Now().UTC()}
	if err := st.Messages().Create(ctx, msg); err != nil {
		t.Fatalf("create message: %v", err)
	}

	created, err := st.Receipts().Insert(ctx, msg.ID, b, time.Now().UTC())
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if !created {
		t.Fatalf("expected first insert to create a receipt")
	}
	created, err = st.Receipts().Insert(ctx, msg.ID, b, time.Now().UTC())
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if created {
		t.Fatalf("expected repeat insert to be a no-op")
	}

	receipts, err := st.Receipts().ForMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(receipts) != 1 {
		t.Fatalf("expected exactly one receipt, got %d", len(receipts))
	}
}

func TestPageExcludesHiddenMessages(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	thread, err := st.Threads().GetOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}

	base := time.Now().UTC()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		msg := &domain.Message{
			ID:         uuid.New(),
			ThreadID:   thread.ID,
			SenderID:   a,
			Ciphertext: []byte("ct"),
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := st.Messages().Create(ctx, msg); err != nil {
			t.Fatalf("create message %d: %v", i, err)
		}
		ids = append(ids, msg.ID)
	}

	if err := st.Messages().Hide(ctx, ids[1], b); err != nil {
		t.Fatalf("hide: %v", err)
	}
	// Hiding twice must not fail.
	if err := st.Messages().Hide(ctx, ids[1], b); err != nil {
		t.Fatalf("repeat hide: %v", err)
	}

	forB, err := st.Messages().Page(ctx, thread.ID, b, 10, 0)
	if err != nil {
		t.Fatalf("page for b: %v", err)
	}
	if len(forB) != 2 {
		t.Fatalf("expected hidden message excluded for b, got %d messages", len(forB))
	}
	for _, m := range forB {
		if m.ID == ids[1] {
			t.Fatalf("hidden message leaked into b's page")
		}
	}

	forA, err := st.Messages().Page(ctx, thread.ID, a, 10, 0)
	if err != nil {
		t.Fatalf("page for a: %v", err)
	}
	if len(forA) != 3 {
		t.Fatalf("hide for b must not affect a, got %d messages", len(forA))
	}
	if forA[0].ID != ids[2] {
		t.Fatalf("expected newest-first ordering")
	}
}

func TestUnreadCount(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	thread, err := st.Threads().GetOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}

	base := time.Now().UTC()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		msg := &domain.Message{ID: uuid.New(), ThreadID: thread.ID, SenderID: a, Ciphertext: []byte("ct"), CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := st.Messages().Create(ctx, msg); err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, msg.ID)
	}

	count, err := st.Messages().UnreadCount(ctx, thread.ID, b)
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 unread, got %d", count)
	}

	if _, err := st.Receipts().Insert(ctx, ids[0], b, time.Now().UTC()); err != nil {
		t.Fatalf("receipt: %v", err)
	}
	count, err = st.Messages().UnreadCount(ctx, thread.ID, b)
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 unread after one receipt, got %d", count)
	}

	// The sender has nothing unread in their own thread.
	count, err = st.Messages().UnreadCount(ctx, thread.ID, a)
	if err != nil {
		t.Fatalf("unread for sender: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 unread for sender, got %d", count)
	}
}
