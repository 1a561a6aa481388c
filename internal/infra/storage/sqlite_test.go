package storage

import (
	"path/filepath"
	"testing"
	"time"

	"mep_go/internal/domain"
)

func testJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	return j
}

func record(tenant string, partial bool, at time.Time) *domain.ExecutionRecord {
	return &domain.ExecutionRecord{
		Tenant:       tenant,
		Operation:    "buy",
		PesoSymbol:   "AL30",
		DollarSymbol: "AL30D",
		Settlement:   "CI",
		Quantity:     10,
		Rate:         "1.02",
		RequestedUSD: "1000",
		TotalPesos:   "8558",
		Commission:   "46.79",
		FirstOrderID: "c-1",
		Partial:      partial,
		ExecutedAt:   at,
	}
}

func TestJournal_RecordAndQuery(t *testing.T) {
	j := testJournal(t)
	now := time.Now()

	if err := j.Record(record("t1", false, now.Add(-time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := j.Record(record("t1", false, now)); err != nil {
		t.Fatal(err)
	}
	if err := j.Record(record("t2", false, now)); err != nil {
		t.Fatal(err)
	}

	recs, err := j.ByTenant("t1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("Expected 2 records for t1, got %d", len(recs))
	}
	// Newest first.
	if recs[0].ExecutedAt.Before(recs[1].ExecutedAt) {
		t.Error("Records should be ordered newest first")
	}
	if recs[0].Rate != "1.02" {
		t.Errorf("Decimal fields should roundtrip as strings, got %q", recs[0].Rate)
	}
}

func TestJournal_Limit(t *testing.T) {
	j := testJournal(t)
	for i := 0; i < 5; i++ {
		if err := j.Record(record("t1", false, time.Now())); err != nil {
			t.Fatal(err)
		}
	}
	recs, err := j.ByTenant("t1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Errorf("Expected 3 records with limit, got %d", len(recs))
	}
}

func TestJournal_Partials(t *testing.T) {
	j := testJournal(t)
	j.Record(record("t1", false, time.Now()))
	j.Record(record("t1", true, time.Now()))

	partials, err := j.Partials()
	if err != nil {
		t.Fatal(err)
	}
	if len(partials) != 1 || !partials[0].Partial {
		t.Errorf("Expected exactly the partial record, got %d", len(partials))
	}
}
