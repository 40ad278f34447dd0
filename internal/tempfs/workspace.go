// Package tempfs isolates request files in per-session directories under a
// single process-owned root.
package tempfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"qrservice/internal/domain"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

const maxSessionIDLen = 64

// ErrClosed is returned by Open after Close.
var ErrClosed = errors.New("workspace closed")

// Workspace owns a root temp directory and the sessions created inside it.
type Workspace struct {
	root string

	mu       sync.Mutex
	closed   bool
	sessions map[string]*Session
}

// NewWorkspace creates a unique root directory below base. An empty base
// means os.TempDir().
func NewWorkspace(base string) (*Workspace, error) {
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create temp base dir: %w", err)
	}
	root, err := os.MkdirTemp(base, "qrservice-*")
	if err != nil {
		return nil, fmt.Errorf("cannot create workspace root: %w", err)
	}
	return &Workspace{root: root, sessions: make(map[string]*Session)}, nil
}

// Root is the directory holding every session.
func (w *Workspace) Root() string { return w.root }

// Open creates a fresh directory for one request. The directory name starts
// with the sanitized session id but always carries a random suffix, so two
// requests never share a path even when they send the same id.
func (w *Workspace) Open(sessionID string) (*Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}

	dir, err := os.MkdirTemp(w.root, SanitizeSessionID(sessionID)+"-*")
	if err != nil {
		return nil, fmt.Errorf("%w: cannot create session dir: %v", domain.ErrInternal, err)
	}
	s := &Session{id: sessionID, dir: dir, ws: w}
	w.sessions[dir] = s
	return s, nil
}

// Active returns the number of sessions not yet cleaned up.
func (w *Workspace) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

// Close removes every live session and the root directory. Safe to call more than once.
func (w *Workspace) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	live := make([]*Session, 0, len(w.sessions))
	for _, s := range w.sessions {
		live = append(live, s)
	}
	w.mu.Unlock()

	var errs []error
	for _, s := range live {
		if err := s.Cleanup(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(w.root); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (w *Workspace) forget(dir string) {
	w.mu.Lock()
	delete(w.sessions, dir)
	w.mu.Unlock()
}

// SanitizeSessionID keeps letters, digits, '-' and '_' and bounds the length.
func SanitizeSessionID(id string) string {
	id = unsafeChars.ReplaceAllString(id, "_")
	if len(id) > maxSessionIDLen {
		id = id[:maxSessionIDLen]
	}
	if id == "" {
		return "session"
	}
	return id
}

// Session is one request's private directory.
type Session struct {
	id  string
	dir string
	ws  *Workspace

	once sync.Once
	err  error
}

// ID is the session id as supplied by the caller.
func (s *Session) ID() string { return s.id }

// Dir is the session directory.
func (s *Session) Dir() string { return s.dir }

// Save copies at most limit bytes from r into the session under the base name
// of filename. Reading more than limit bytes fails with ErrPayloadTooLarge and
// leaves no file behind.
func (s *Session) Save(filename string, r io.Reader, limit int64) (string, error) {
	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." {
		name = "upload"
	}
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("%w: cannot create upload file: %v", domain.ErrInternal, err)
	}
	n, copyErr := io.Copy(f, io.LimitReader(r, limit+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(path)
		return "", fmt.Errorf("%w: cannot write upload: %v", domain.ErrInternal, copyErr)
	case n > limit:
		_ = os.Remove(path)
		return "", fmt.Errorf("%w: maximum size is %d bytes", domain.ErrPayloadTooLarge, limit)
	case closeErr != nil:
		_ = os.Remove(path)
		return "", fmt.Errorf("%w: cannot write upload: %v", domain.ErrInternal, closeErr)
	}
	return path, nil
}

// Cleanup removes the session directory. Only the first call does any work;
// later calls return the first result.
func (s *Session) Cleanup() error {
	s.once.Do(func() {
		s.err = os.RemoveAll(s.dir)
		if s.ws != nil {
			s.ws.forget(s.dir)
		}
	})
	return s.err
}
