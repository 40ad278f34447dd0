package tempfs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrservice/internal/domain"
)

func TestNewWorkspace_CreatesRootUnderBase(t *testing.T) {
	base := t.TempDir()
	ws, err := NewWorkspace(filepath.Join(base, "nested"))
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, filepath.Join(base, "nested"), filepath.Dir(ws.Root()))
	st, err := os.Stat(ws.Root())
	require.NoError(t, err)
	assert.True(t, st.IsDir())
}

func TestNewWorkspace_InvalidBase(t *testing.T) {
	_, err := NewWorkspace("/dev/null/x")
	assert.Error(t, err)
}

func TestSessionSaveAndCleanupIsIdempotent(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	defer ws.Close()

	s, err := ws.Open("abc")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(s.Dir()), "abc-"))
	assert.Equal(t, 1, ws.Active())

	path, err := s.Save("../../etc/cat.gif", strings.NewReader("GIF89a"), 1024)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir(), "cat.gif"), path)

	require.NoError(t, s.Cleanup())
	require.NoError(t, s.Cleanup())
	_, err = os.Stat(s.Dir())
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 0, ws.Active())
}

func TestSessionSaveRejectsOversizedUpload(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	defer ws.Close()

	s, err := ws.Open("big")
	require.NoError(t, err)

	_, err = s.Save("big.png", bytes.NewReader(make([]byte, 11)), 10)
	assert.ErrorIs(t, err, domain.ErrPayloadTooLarge)
	entries, _ := os.ReadDir(s.Dir())
	assert.Empty(t, entries)

	_, err = s.Save("fits.png", bytes.NewReader(make([]byte, 10)), 10)
	assert.NoError(t, err)
}

func TestConcurrentSessionsNeverCollide(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	defer ws.Close()

	const n = 64
	var (
		mu   sync.Mutex
		dirs = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// half of the callers reuse the same id on purpose
			id := fmt.Sprintf("s%d", i)
			if i%2 == 0 {
				id = "shared"
			}
			s, err := ws.Open(id)
			if err != nil {
				t.Errorf("open: %v", err)
				return
			}
			if _, err := s.Save("picture.png", strings.NewReader(id), 64); err != nil {
				t.Errorf("save: %v", err)
			}
			mu.Lock()
			dirs[s.Dir()] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	assert.Len(t, dirs, n)
	assert.Equal(t, n, ws.Active())
}

func TestWorkspaceCloseRemovesEverything(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)

	s1, _ := ws.Open("a")
	_, _ = ws.Open("b")
	require.NoError(t, s1.Cleanup())

	require.NoError(t, ws.Close())
	require.NoError(t, ws.Close())
	_, err = os.Stat(ws.Root())
	assert.True(t, os.IsNotExist(err))

	_, err = ws.Open("c")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSanitizeSessionID(t *testing.T) {
	assert.Equal(t, "session", SanitizeSessionID(""))
	assert.Equal(t, "a_b_c", SanitizeSessionID("a/b..c"))
	assert.Len(t, SanitizeSessionID(strings.Repeat("z", 200)), maxSessionIDLen)
}
