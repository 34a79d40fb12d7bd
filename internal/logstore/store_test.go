package logstore_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/behouba/criu-coordinator/internal/logstore"
	"github.com/behouba/criu-coordinator/internal/session"
)

func fixedClock() time.Time {
	return time.Date(2026, 10, 16, 9, 30, 5, 0, time.UTC)
}

func begin(t *testing.T, root string, iterations int, policy session.RetentionPolicy) (*logstore.Store, session.Session) {
	t.Helper()
	store := logstore.New(root, logstore.WithClock(fixedClock))
	sess, err := store.BeginSession(session.New(iterations, []string{"make", "test"}, policy, 0))
	if err != nil {
		t.Fatalf("BeginSession() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, sess
}

func writeRun(t *testing.T, store *logstore.Store, index int, content string) {
	t.Helper()
	w, err := store.OpenRunLog(index)
	if err != nil {
		t.Fatalf("OpenRunLog(%d) error = %v", index, err)
	}
	if _, err := io.WriteString(w, content); err != nil {
		t.Fatalf("write run log: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close run log: %v", err)
	}
}

func TestBeginSessionCreatesTimestampedDir(t *testing.T) {
	root := filepath.Join(t.TempDir(), "logs")
	_, sess := begin(t, root, 5, session.RetainFailures)

	if filepath.Dir(sess.Dir) != root {
		t.Fatalf("session dir %q not under root %q", sess.Dir, root)
	}
	name := filepath.Base(sess.Dir)
	if !strings.HasPrefix(name, "20261016-093005-") {
		t.Errorf("session dir %q does not start with the timestamp", name)
	}
	if !strings.HasSuffix(name, sess.ID) || sess.ID == "" {
		t.Errorf("session dir %q does not end with id %q", name, sess.ID)
	}
	if !sess.StartedAt.Equal(fixedClock()) {
		t.Errorf("StartedAt = %v", sess.StartedAt)
	}

	data, err := os.ReadFile(filepath.Join(sess.Dir, "session.yaml"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	if doc["iterations"] != 5 || doc["retention"] != "failures-only" {
		t.Errorf("unexpected manifest %v", doc)
	}
}

func TestSessionsAreUnique(t *testing.T) {
	root := t.TempDir()
	first, sessA := begin(t, root, 1, session.RetainFailures)
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	_, sessB := begin(t, root, 1, session.RetainFailures)

	if sessA.Dir == sessB.Dir {
		t.Fatalf("two sessions share directory %q", sessA.Dir)
	}
}

func TestSecondSessionOnLockedRootFails(t *testing.T) {
	root := t.TempDir()
	begin(t, root, 1, session.RetainFailures)

	other := logstore.New(root)
	_, err := other.BeginSession(session.New(1, []string{"true"}, session.RetainFailures, 0))
	if !errors.Is(err, logstore.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestFinalizeFailuresOnly(t *testing.T) {
	store, sess := begin(t, t.TempDir(), 3, session.RetainFailures)

	writeRun(t, store, 1, "ok\n")
	kept, err := store.Finalize(session.RunResult{Index: 1, ExitCode: 0})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if kept != "" {
		t.Errorf("passing run retained at %q", kept)
	}
	if _, err := os.Stat(filepath.Join(sess.Dir, "run-001.log")); !os.IsNotExist(err) {
		t.Errorf("passing run log still present: %v", err)
	}

	writeRun(t, store, 2, "boom\n")
	kept, err = store.Finalize(session.RunResult{Index: 2, ExitCode: 1})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if kept != filepath.Join(sess.Dir, "run-002.log") {
		t.Fatalf("failing run kept at %q", kept)
	}
	data, err := os.ReadFile(kept)
	if err != nil || string(data) != "boom\n" {
		t.Fatalf("retained log unreadable or rewritten: %q %v", data, err)
	}
}

func TestFinalizeRetainAll(t *testing.T) {
	store, _ := begin(t, t.TempDir(), 2, session.RetainAll)

	for i, code := range []int{0, session.SignaledExitCode} {
		writeRun(t, store, i+1, "output\n")
		kept, err := store.Finalize(session.RunResult{Index: i + 1, ExitCode: code})
		if err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
		if _, err := os.Stat(kept); err != nil {
			t.Errorf("run %d log missing under retain-all: %v", i+1, err)
		}
	}
}

func TestIndexWidthFollowsIterations(t *testing.T) {
	store, sess := begin(t, t.TempDir(), 12000, session.RetainAll)

	writeRun(t, store, 7, "")
	kept, err := store.Finalize(session.RunResult{Index: 7})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if kept != filepath.Join(sess.Dir, "run-00007.log") {
		t.Fatalf("unexpected artifact name %q", kept)
	}
}

func TestAbandonKeepsPartialLog(t *testing.T) {
	store, sess := begin(t, t.TempDir(), 5, session.RetainFailures)

	writeRun(t, store, 2, "half")
	kept, err := store.Abandon(2)
	if err != nil {
		t.Fatalf("Abandon() error = %v", err)
	}
	if kept != filepath.Join(sess.Dir, "run-002.interrupted.log") {
		t.Fatalf("unexpected abandoned path %q", kept)
	}
	if _, err := os.Stat(filepath.Join(sess.Dir, "run-002.log")); !os.IsNotExist(err) {
		t.Errorf("original artifact still present: %v", err)
	}
}

func TestDiscardRemovesIncompleteRunLog(t *testing.T) {
	store, sess := begin(t, t.TempDir(), 3, session.RetainAll)

	writeRun(t, store, 1, "")
	if err := store.Discard(1); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(sess.Dir, "run-001.log")); !os.IsNotExist(err) {
		t.Errorf("artifact still present after Discard: %v", err)
	}
	if err := store.Discard(1); err == nil {
		t.Error("second Discard() should fail: the run is no longer open")
	}
}

func TestOpenRunLogWithoutSession(t *testing.T) {
	store := logstore.New(t.TempDir())
	if _, err := store.OpenRunLog(1); err == nil {
		t.Fatal("expected error without an active session")
	}
}

func TestBeginSessionFailsOnUnwritableRoot(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	store := logstore.New(filepath.Join(file, "logs"))
	if _, err := store.BeginSession(session.New(1, []string{"true"}, session.RetainAll, 0)); err == nil {
		t.Fatal("expected error when the root cannot be created")
	}
}
