package audit

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "audit.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendSettlementOncePerClaim(t *testing.T) {
	store := newTestStore(t)
	rec := SettlementRecord{
		ClaimKey:     "0xabc123",
		Payee:        "0x01",
		FeeRecipient: "0x02",
		PayeeAmount:  14_550_000,
		FeeAmount:    450_000,
		Timestamp:    1700000000,
	}
	if err := store.AppendSettlement(rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendSettlement(rec); err == nil {
		t.Fatalf("second append for same claim accepted")
	}

	got, err := store.SettlementByClaim("0xabc123")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.PayeeAmount != 14_550_000 || got.FeeAmount != 450_000 {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.ID == "" {
		t.Fatalf("record missing generated id")
	}
}

func TestSettlementByClaimUnknownKey(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.SettlementByClaim("0xmissing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDisputesAccumulatePerClaim(t *testing.T) {
	store := newTestStore(t)
	for _, reason := range []string{"wrong quantity", "formulary mismatch"} {
		if _, err := store.AppendDispute(DisputeRecord{
			ClaimKey:       "0xclaim1",
			DisputingParty: "0x03",
			Reason:         reason,
			DisputedAmount: 1_000,
		}); err != nil {
			t.Fatalf("append dispute: %v", err)
		}
	}
	if _, err := store.AppendDispute(DisputeRecord{ClaimKey: "0xclaim2", Reason: "unrelated"}); err != nil {
		t.Fatalf("append dispute: %v", err)
	}

	disputes, err := store.DisputesByClaim("0xclaim1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(disputes) != 2 {
		t.Fatalf("got %d disputes, want 2", len(disputes))
	}
	for _, d := range disputes {
		if d.ID == "" || d.RecordedAt.IsZero() {
			t.Fatalf("dispute missing generated fields: %+v", d)
		}
	}
}

func TestFlagsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	id, err := store.AppendFlag(FlagRecord{
		Manufacturer: "0x04",
		FlagType:     "FORMULARY_LOCK",
		Detail:       "schedule excludes biosimilars",
	})
	if err != nil {
		t.Fatalf("append flag: %v", err)
	}
	flags, err := store.ListFlags()
	if err != nil {
		t.Fatalf("list flags: %v", err)
	}
	if len(flags) != 1 || flags[0].ID != id {
		t.Fatalf("unexpected flags %+v", flags)
	}
}
