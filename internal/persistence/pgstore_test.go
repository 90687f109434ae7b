package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PredMarket/internal/store"
	"PredMarket/internal/testutil"
)

func setupStore(t *testing.T) (*PGStore, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx); err != nil {
		cleanup()
		t.Fatalf("migrate: %v", err)
	}

	return NewPGStore(db), cleanup
}

func TestPGStoreCreateRead(t *testing.T) {
	st, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := st.Create(ctx, "state", []byte(`{"n":1}`)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := st.Create(ctx, "state", []byte(`{"n":2}`)); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("duplicate create: got %v, want ErrAlreadyExists", err)
	}

	rec, err := st.Read(ctx, "state")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rec.Version != 1 {
		t.Fatalf("version: got %d, want 1", rec.Version)
	}

	if _, err := st.Read(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("read missing: got %v, want ErrNotFound", err)
	}
}

func TestPGStoreCommitCAS(t *testing.T) {
	st, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := st.Create(ctx, "event:1", []byte(`{"v":"a"}`)); err != nil {
		t.Fatalf("create: %v", err)
	}

	txn := store.Txn{Updates: []store.Update{{Key: "event:1", ExpectedVersion: 1, Data: []byte(`{"v":"b"}`)}}}
	if err := st.Commit(ctx, txn); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Stale version loses.
	if err := st.Commit(ctx, txn); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("stale commit: got %v, want ErrConflict", err)
	}

	rec, err := st.Read(ctx, "event:1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rec.Version != 2 {
		t.Fatalf("version after CAS: got %d, want 2", rec.Version)
	}

	missing := store.Txn{Updates: []store.Update{{Key: "nope", ExpectedVersion: 1, Data: []byte(`{}`)}}}
	if err := st.Commit(ctx, missing); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("update missing: got %v, want ErrNotFound", err)
	}
}

func TestPGStoreTransfersAtomic(t *testing.T) {
	st, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	user := store.UserAccount(uuid.New())
	escrow := store.EscrowAccount(1)

	if err := st.Credit(ctx, user, 100); err != nil {
		t.Fatalf("credit: %v", err)
	}

	// A txn mixing a record create with an overdraft must leave no trace.
	txn := store.Txn{
		Creates:   []store.Create{{Key: "bet:1", Data: []byte(`{}`)}},
		Transfers: []store.Transfer{{From: user, To: escrow, Amount: 150}},
	}
	if err := st.Commit(ctx, txn); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("overdraft commit: got %v, want ErrInsufficientFunds", err)
	}
	if _, err := st.Read(ctx, "bet:1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("record leaked from rolled-back txn: %v", err)
	}
	if bal, _ := st.Balance(ctx, user); bal != 100 {
		t.Fatalf("balance after rollback: got %d, want 100", bal)
	}

	txn.Transfers[0].Amount = 60
	if err := st.Commit(ctx, txn); err != nil {
		t.Fatalf("commit: %v", err)
	}
	userBal, _ := st.Balance(ctx, user)
	escrowBal, _ := st.Balance(ctx, escrow)
	if userBal != 40 || escrowBal != 60 {
		t.Fatalf("balances after transfer: user=%d escrow=%d", userBal, escrowBal)
	}
}

func TestPGStoreScanOrdered(t *testing.T) {
	st, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	keys := []string{"event:00000000000000000002", "event:00000000000000000001", "bet:00000000000000000001"}
	for _, k := range keys {
		if err := st.Create(ctx, k, []byte(`{}`)); err != nil {
			t.Fatalf("create %s: %v", k, err)
		}
	}

	recs, err := st.Scan(ctx, "event:")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("scan count: got %d, want 2", len(recs))
	}
	if recs[0].Key != "event:00000000000000000001" || recs[1].Key != "event:00000000000000000002" {
		t.Fatalf("scan order: %s, %s", recs[0].Key, recs[1].Key)
	}
}
