package spoolsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentworkforce/hubrelay/internal/envelope"
	"github.com/agentworkforce/hubrelay/internal/hubspot"
	"github.com/agentworkforce/hubrelay/internal/journal"
)

type recordingDestination struct {
	trackCalls    int
	identifyCalls int
	identifyErr   error
	emails        []string
}

func (d *recordingDestination) Track(ctx context.Context, msg hubspot.TrackMessage) error {
	d.trackCalls++
	d.emails = append(d.emails, msg.Email())
	return nil
}

func (d *recordingDestination) Identify(ctx context.Context, msg hubspot.IdentifyMessage) error {
	d.identifyCalls++
	d.emails = append(d.emails, msg.Email())
	return d.identifyErr
}

func newTestDrainer(t *testing.T, destination *recordingDestination) (*Drainer, string, *journal.MemoryJournal) {
	t.Helper()
	spoolDir := t.TempDir()
	deliveryJournal := journal.NewMemoryJournal()
	processor, err := envelope.NewProcessor(destination, deliveryJournal, nil)
	if err != nil {
		t.Fatalf("new processor failed: %v", err)
	}
	drainer, err := NewDrainer(processor, Options{SpoolDir: spoolDir})
	if err != nil {
		t.Fatalf("new drainer failed: %v", err)
	}
	return drainer, spoolDir, deliveryJournal
}

func writeSpoolFile(t *testing.T, spoolDir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(spoolDir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write spool file %s failed: %v", name, err)
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir %s failed: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names
}

func TestSyncOnceDeliversAndMovesToDone(t *testing.T) {
	destination := &recordingDestination{}
	drainer, spoolDir, deliveryJournal := newTestDrainer(t, destination)

	writeSpoolFile(t, spoolDir, "a.json", `{"id": "env_1", "type": "identify", "message": {"email": "jd@example.com", "traits": {"company": "Acme"}}}`)
	writeSpoolFile(t, spoolDir, "b.json", `{"id": "env_2", "type": "track", "message": {"event": "Signed Up", "email": "jd@example.com"}}`)

	if err := drainer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if destination.identifyCalls != 1 || destination.trackCalls != 1 {
		t.Fatalf("expected one identify and one track, got %+v", destination)
	}
	if remaining := listDir(t, spoolDir); len(remaining) != 1 {
		// Only the state file should stay behind.
		t.Fatalf("expected drained spool, got %v", remaining)
	}
	if done := listDir(t, filepath.Join(spoolDir, "done")); len(done) != 2 {
		t.Fatalf("expected two done files, got %v", done)
	}
	if entries := deliveryJournal.Entries(); len(entries) != 2 {
		t.Fatalf("expected two journal entries, got %d", len(entries))
	}
}

func TestSyncOnceMovesInvalidEnvelopeToFailed(t *testing.T) {
	destination := &recordingDestination{}
	drainer, spoolDir, deliveryJournal := newTestDrainer(t, destination)

	writeSpoolFile(t, spoolDir, "bad.json", `{"type": "page", "message": {}}`)

	if err := drainer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if destination.identifyCalls+destination.trackCalls != 0 {
		t.Fatalf("expected no delivery for invalid envelope")
	}
	if failed := listDir(t, filepath.Join(spoolDir, "failed")); len(failed) != 1 {
		t.Fatalf("expected failed file, got %v", failed)
	}
	entries := deliveryJournal.Entries()
	if len(entries) != 1 || entries[0].Status != journal.StatusFailed {
		t.Fatalf("expected failure journal entry, got %+v", entries)
	}
}

func TestSyncOnceMovesDeliveryFailureToFailed(t *testing.T) {
	destination := &recordingDestination{identifyErr: fmt.Errorf("hubspot http 500: upstream")}
	drainer, spoolDir, _ := newTestDrainer(t, destination)

	writeSpoolFile(t, spoolDir, "a.json", `{"id": "env_1", "type": "identify", "message": {"email": "jd@example.com", "traits": {"company": "Acme"}}}`)

	if err := drainer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if failed := listDir(t, filepath.Join(spoolDir, "failed")); len(failed) != 1 {
		t.Fatalf("expected failed file, got %v", failed)
	}

	// A failed envelope is not marked processed; re-dropping it retries.
	destination.identifyErr = nil
	writeSpoolFile(t, spoolDir, "a-retry.json", `{"id": "env_1", "type": "identify", "message": {"email": "jd@example.com", "traits": {"company": "Acme"}}}`)
	if err := drainer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("retry sync failed: %v", err)
	}
	if destination.identifyCalls != 2 {
		t.Fatalf("expected retry delivery, got %d calls", destination.identifyCalls)
	}
}

func TestSyncOnceSkipsDuplicateEnvelopes(t *testing.T) {
	destination := &recordingDestination{}
	drainer, spoolDir, _ := newTestDrainer(t, destination)

	writeSpoolFile(t, spoolDir, "a.json", `{"id": "env_1", "type": "identify", "message": {"email": "jd@example.com", "traits": {"company": "Acme"}}}`)
	if err := drainer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	writeSpoolFile(t, spoolDir, "a-again.json", `{"id": "env_1", "type": "identify", "message": {"email": "jd@example.com", "traits": {"company": "Acme"}}}`)
	if err := drainer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if destination.identifyCalls != 1 {
		t.Fatalf("expected one delivery for duplicate envelope, got %d", destination.identifyCalls)
	}
	if done := listDir(t, filepath.Join(spoolDir, "done")); len(done) != 2 {
		t.Fatalf("expected both files in done, got %v", done)
	}
}

func TestStateSurvivesDrainerRestart(t *testing.T) {
	destination := &recordingDestination{}
	drainer, spoolDir, _ := newTestDrainer(t, destination)

	writeSpoolFile(t, spoolDir, "a.json", `{"id": "env_1", "type": "identify", "message": {"email": "jd@example.com", "traits": {"company": "Acme"}}}`)
	if err := drainer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	processor, err := envelope.NewProcessor(destination, journal.NewMemoryJournal(), nil)
	if err != nil {
		t.Fatalf("new processor failed: %v", err)
	}
	restarted, err := NewDrainer(processor, Options{SpoolDir: spoolDir})
	if err != nil {
		t.Fatalf("new drainer failed: %v", err)
	}
	writeSpoolFile(t, spoolDir, "a-redelivered.json", `{"id": "env_1", "type": "identify", "message": {"email": "jd@example.com", "traits": {"company": "Acme"}}}`)
	if err := restarted.SyncOnce(context.Background()); err != nil {
		t.Fatalf("restarted sync failed: %v", err)
	}
	if destination.identifyCalls != 1 {
		t.Fatalf("expected restarted drainer to skip processed envelope, got %d calls", destination.identifyCalls)
	}
}

func TestSyncOnceIgnoresNonEnvelopeFiles(t *testing.T) {
	destination := &recordingDestination{}
	drainer, spoolDir, _ := newTestDrainer(t, destination)

	writeSpoolFile(t, spoolDir, "notes.txt", "not an envelope")
	writeSpoolFile(t, spoolDir, ".partial.json", `{"type": "track"`)

	if err := drainer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if destination.trackCalls+destination.identifyCalls != 0 {
		t.Fatalf("expected no deliveries, got %+v", destination)
	}
	if failed := listDir(t, filepath.Join(spoolDir, "failed")); len(failed) != 0 {
		t.Fatalf("expected nothing in failed, got %v", failed)
	}
}
