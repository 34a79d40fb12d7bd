// Package logstore owns the on-disk layout of a session: one timestamped
// directory per invocation holding a log file per retained run.
package logstore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/behouba/criu-coordinator/internal/session"
)

const (
	lockFileName     = ".flakerun.lock"
	manifestFileName = "session.yaml"
	dirTimeLayout    = "20060102-150405"
	minIndexWidth    = 3
)

// ErrLocked is returned when another session holds the output root.
var ErrLocked = errors.New("output directory is locked by another session")

// Store manages the session directory and the per-run log artifacts.
type Store struct {
	root   string
	logger *log.Logger
	now    func() time.Time

	lock   *flock.Flock
	sess   session.Session
	width  int
	open   map[int]string
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger routes store diagnostics to logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used to name the session directory.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a store rooted at root. Nothing touches the disk until
// BeginSession.
func New(root string, opts ...Option) *Store {
	s := &Store{
		root:   root,
		logger: log.New(io.Discard),
		now:    time.Now,
		open:   make(map[int]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// manifest is the session.yaml document.
type manifest struct {
	ID         string    `yaml:"id"`
	Command    []string  `yaml:"command"`
	Iterations int       `yaml:"iterations"`
	Retention  string    `yaml:"retention"`
	Delay      string    `yaml:"delay"`
	StartedAt  time.Time `yaml:"started_at"`
	Host       string    `yaml:"host,omitempty"`
}

// BeginSession locks the output root, creates a fresh uniquely named session
// directory and records the session manifest in it. The returned session has
// ID, Dir and StartedAt filled in.
func (s *Store) BeginSession(sess session.Session) (session.Session, error) {
	if s.lock != nil {
		return session.Session{}, fmt.Errorf("session already started in %s", s.sess.Dir)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return session.Session{}, fmt.Errorf("create output root: %w", err)
	}

	lock := flock.New(filepath.Join(s.root, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return session.Session{}, fmt.Errorf("lock output root: %w", err)
	}
	if !locked {
		return session.Session{}, fmt.Errorf("%w: %s", ErrLocked, s.root)
	}

	started := s.now()
	id, err := ulid.New(ulid.Timestamp(started), rand.Reader)
	if err != nil {
		_ = lock.Unlock()
		return session.Session{}, fmt.Errorf("generate session id: %w", err)
	}

	dir := filepath.Join(s.root, started.Format(dirTimeLayout)+"-"+id.String())
	if err := os.Mkdir(dir, 0o755); err != nil {
		_ = lock.Unlock()
		return session.Session{}, fmt.Errorf("create session directory: %w", err)
	}

	sess.ID = id.String()
	sess.Dir = dir
	sess.StartedAt = started
	if err := writeManifest(dir, sess); err != nil {
		_ = lock.Unlock()
		return session.Session{}, err
	}

	s.lock = lock
	s.sess = sess
	s.width = indexWidth(sess.Iterations)
	s.logger.Debug("session started", "dir", dir, "retention", sess.Retention)
	return sess, nil
}

func writeManifest(dir string, sess session.Session) error {
	host, _ := os.Hostname()
	doc := manifest{
		ID:         sess.ID,
		Command:    sess.Argv(),
		Iterations: sess.Iterations,
		Retention:  string(sess.Retention),
		Delay:      sess.Delay.String(),
		StartedAt:  sess.StartedAt,
		Host:       host,
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode session manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFileName), data, 0o644); err != nil {
		return fmt.Errorf("write session manifest: %w", err)
	}
	return nil
}

// Dir returns the session directory, or "" before BeginSession.
func (s *Store) Dir() string {
	return s.sess.Dir
}

// OpenRunLog creates the log artifact for run index. The caller closes the
// returned file once the command has exited.
func (s *Store) OpenRunLog(index int) (io.WriteCloser, error) {
	if s.lock == nil || s.closed {
		return nil, errors.New("open run log: no active session")
	}
	path := s.runLogPath(index, "")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	s.open[index] = path
	return f, nil
}

// Finalize applies the retention policy to a completed run. It returns the
// path of the kept artifact, or "" when the artifact was discarded.
func (s *Store) Finalize(res session.RunResult) (string, error) {
	path, ok := s.open[res.Index]
	if !ok {
		return "", fmt.Errorf("finalize run %d: no log artifact", res.Index)
	}
	delete(s.open, res.Index)

	if res.Passed() && s.sess.Retention != session.RetainAll {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("discard run log: %w", err)
		}
		s.logger.Debug("discarded run log", "run", res.Index)
		return "", nil
	}
	s.logger.Debug("retained run log", "run", res.Index, "path", path)
	return path, nil
}

// Abandon keeps the partial log of a run that was cut short by an interrupt,
// renamed so it cannot be mistaken for a completed run.
func (s *Store) Abandon(index int) (string, error) {
	path, ok := s.open[index]
	if !ok {
		return "", fmt.Errorf("abandon run %d: no log artifact", index)
	}
	delete(s.open, index)

	target := s.runLogPath(index, ".interrupted")
	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("keep interrupted run log: %w", err)
	}
	return target, nil
}

// Discard removes the artifact of a run that never completed, such as one
// whose command could not be started, so it cannot pass for a retained run.
func (s *Store) Discard(index int) error {
	path, ok := s.open[index]
	if !ok {
		return fmt.Errorf("discard run %d: no log artifact", index)
	}
	delete(s.open, index)

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("discard run log: %w", err)
	}
	s.logger.Debug("discarded log of incomplete run", "run", index)
	return nil
}

// Close releases the output root lock. Retained artifacts stay on disk.
func (s *Store) Close() error {
	if s.lock == nil || s.closed {
		return nil
	}
	s.closed = true
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock output root: %w", err)
	}
	return nil
}

func (s *Store) runLogPath(index int, suffix string) string {
	name := fmt.Sprintf("run-%0*d%s.log", s.width, index, suffix)
	return filepath.Join(s.sess.Dir, name)
}

func indexWidth(iterations int) int {
	w := len(strconv.Itoa(iterations))
	if w < minIndexWidth {
		return minIndexWidth
	}
	return w
}
