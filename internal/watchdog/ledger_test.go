package watchdog

import (
	"path/filepath"
	"testing"
)

func TestLedgerRecordsAndReportsSeen(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenLedger(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	defer l.Close()

	seen, err := l.Seen("/inbox/a.log")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if seen {
		t.Fatal("expected not seen before Record")
	}

	if err := l.Record("/inbox/a.log", LedgerRecord{State: "processed", JobID: "job-1"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	seen, err = l.Seen("/inbox/a.log")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if !seen {
		t.Fatal("expected seen after Record")
	}
}

func TestLedgerForgetAllowsReprocessing(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenLedger(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	defer l.Close()

	_ = l.Record("/inbox/a.log", LedgerRecord{State: "failed"})
	_ = l.Forget("/inbox/a.log")

	seen, _ := l.Seen("/inbox/a.log")
	if seen {
		t.Fatal("expected not seen after Forget")
	}
}
