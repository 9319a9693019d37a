package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/iahome/access-gateway/internal/ledger"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBalanceMissingAccountIsZero(t *testing.T) {
	store := newStore(t)
	balance, err := store.Balance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected 0 for missing account, got %d", balance)
	}
}

func TestGrantDebitCreditRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	balance, err := store.Grant(ctx, "u1", 5, "starter")
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if balance != 5 {
		t.Fatalf("expected balance 5 after grant, got %d", balance)
	}

	remaining, err := store.Debit(ctx, "u1", "metube", "download", 3)
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if remaining != 2 {
		t.Fatalf("expected balance 2 after debit, got %d", remaining)
	}

	records, err := store.History(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly one usage record, got %d", len(records))
	}
	if records[0].TokensConsumed != 3 || records[0].ModuleID != "metube" || records[0].ActionType != "download" {
		t.Fatalf("unexpected usage record %#v", records[0])
	}
	if records[0].UUID == "" {
		t.Fatalf("usage record missing uuid")
	}

	restored, err := store.Credit(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if restored != 5 {
		t.Fatalf("credit should restore original balance, got %d", restored)
	}

	records, err = store.History(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("credit must not write a usage record, have %d", len(records))
	}
}

func TestDebitInsufficientLeavesNoTrace(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Grant(ctx, "u2", 2, "starter"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	_, err := store.Debit(ctx, "u2", "metube", "download", 3)
	if !errors.Is(err, ledger.ErrInsufficientTokens) {
		t.Fatalf("expected ErrInsufficientTokens, got %v", err)
	}

	balance, err := store.Balance(ctx, "u2")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 2 {
		t.Fatalf("failed debit must not change balance, got %d", balance)
	}
	records, err := store.History(ctx, "u2", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("failed debit must not write usage, have %d records", len(records))
	}
}

func TestDebitMissingAccountIsInsufficient(t *testing.T) {
	store := newStore(t)
	_, err := store.Debit(context.Background(), "ghost", "pdf", "convert", 1)
	if !errors.Is(err, ledger.ErrInsufficientTokens) {
		t.Fatalf("expected ErrInsufficientTokens for missing account, got %v", err)
	}
}

func TestDebitConcurrentNeverOverdraws(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// 5 tokens cover exactly 5 of the 20 racing debits.
	if _, err := store.Grant(ctx, "u4", 5, "starter"); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	const workers = 20
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := store.Debit(ctx, "u4", "qrcode", "generate", 1)
			errs <- err
		}()
	}

	var succeeded, denied int
	for i := 0; i < workers; i++ {
		switch err := <-errs; {
		case err == nil:
			succeeded++
		case errors.Is(err, ledger.ErrInsufficientTokens):
			denied++
		default:
			t.Fatalf("Debit: %v", err)
		}
	}
	if succeeded != 5 || denied != 15 {
		t.Fatalf("succeeded=%d denied=%d", succeeded, denied)
	}

	balance, err := store.Balance(ctx, "u4")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d after draining debits", balance)
	}
	records, err := store.History(ctx, "u4", workers)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected one usage record per successful debit, got %d", len(records))
	}
}

func TestHistoryOrderingAndLimit(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Grant(ctx, "u3", 10, "pro"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	for _, action := range []string{"a", "b", "c"} {
		if _, err := store.Debit(ctx, "u3", "pdf", action, 1); err != nil {
			t.Fatalf("Debit(%s): %v", action, err)
		}
	}
	records, err := store.History(ctx, "u3", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ActionType != "c" || records[1].ActionType != "b" {
		t.Fatalf("unexpected ordering %#v", records)
	}
}
