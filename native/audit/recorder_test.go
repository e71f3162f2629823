package audit

import (
	"strings"
	"testing"

	"pharmaclear/core/events"
)

func flagsOfType(t *testing.T, store *Store, flagType string) []FlagRecord {
	t.Helper()
	flags, err := store.ListFlags()
	if err != nil {
		t.Fatalf("list flags: %v", err)
	}
	var out []FlagRecord
	for _, flag := range flags {
		if flag.FlagType == flagType {
			out = append(out, flag)
		}
	}
	return out
}

func TestRecorderPersistsVolumeMilestone(t *testing.T) {
	store := newTestStore(t)
	recorder := NewRecorder(store, nil)

	var key [32]byte
	key[0] = 0x07
	var manufacturer [20]byte
	manufacturer[0] = 0x50
	recorder.Emit(events.BonusTierActivated{
		ClaimKey:     key,
		Manufacturer: manufacturer,
		Volume:       10_001,
	})

	flags := flagsOfType(t, store, "VOLUME_MILESTONE")
	if len(flags) != 1 {
		t.Fatalf("got %d milestone flags, want 1", len(flags))
	}
	if !strings.Contains(flags[0].Detail, "10001") {
		t.Fatalf("milestone detail missing volume: %q", flags[0].Detail)
	}
	if !strings.HasPrefix(flags[0].Manufacturer, "0x50") {
		t.Fatalf("unexpected manufacturer %q", flags[0].Manufacturer)
	}
}

func TestRecorderPersistsRecallFlags(t *testing.T) {
	store := newTestStore(t)
	recorder := NewRecorder(store, nil)

	recorder.Emit(events.DrugRecallIssued{
		BatchID:        "0002-8215-01-B-7731",
		Reason:         "contamination",
		Severity:       1,
		AffectedClaims: 3,
	})
	var key [32]byte
	key[0] = 0x08
	recorder.Emit(events.RecalledDrugDispensed{
		ClaimKey:    key,
		BatchID:     "0002-8215-01-B-7731",
		PharmacyNPI: "1234567890",
	})

	recalls := flagsOfType(t, store, "DRUG_RECALL")
	if len(recalls) != 1 {
		t.Fatalf("got %d recall flags, want 1", len(recalls))
	}
	if recalls[0].BatchID != "0002-8215-01-B-7731" || !strings.Contains(recalls[0].Detail, "contamination") {
		t.Fatalf("unexpected recall flag %+v", recalls[0])
	}

	dispensed := flagsOfType(t, store, "RECALLED_DRUG_DISPENSED")
	if len(dispensed) != 1 {
		t.Fatalf("got %d dispense flags, want 1", len(dispensed))
	}
	if !strings.Contains(dispensed[0].Detail, "1234567890") {
		t.Fatalf("dispense flag missing NPI: %q", dispensed[0].Detail)
	}
}

func TestRecorderPersistsExpiredDispense(t *testing.T) {
	store := newTestStore(t)
	recorder := NewRecorder(store, nil)

	var key [32]byte
	key[0] = 0x09
	recorder.Emit(events.ExpiredDrugDispensed{
		ClaimKey:       key,
		NDCCode:        "0002-8215-01",
		PharmacyNPI:    "1234567890",
		ExpirationDate: 1_600_000_000,
	})

	flags := flagsOfType(t, store, "EXPIRED_DRUG_DISPENSED")
	if len(flags) != 1 {
		t.Fatalf("got %d expired flags, want 1", len(flags))
	}
	if !strings.Contains(flags[0].Detail, "0002-8215-01") {
		t.Fatalf("expired flag missing NDC: %q", flags[0].Detail)
	}
}
