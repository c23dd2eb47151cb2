package transfer

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/castfetch/castfetch/pkg/client"
	"github.com/castfetch/castfetch/pkg/remote"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

var errUnexpectedCall = errors.New("unexpected call")

func generateTestContent(size int) []byte {
	content := make([]byte, size)
	rnd := rand.New(rand.NewSource(int64(size)))
	_, _ = rnd.Read(content)
	return content
}

func tempDest(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "Casting Through Ancient Greece", "ep1.mp3")
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}

// countingServer serves content with range support and counts requests.
type countingServer struct {
	*httptest.Server
	requests atomic.Int32
	ranged   atomic.Int32
}

// numberedHandler receives the 1-based number of the request it is serving.
type numberedHandler func(n int32, w http.ResponseWriter, r *http.Request)

func newCountingServer(t *testing.T, content []byte, modTime time.Time, handler numberedHandler) *countingServer {
	t.Helper()
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := cs.requests.Add(1)
		if r.Header.Get("Range") != "" {
			cs.ranged.Add(1)
		}
		if handler != nil {
			handler(n, w, r)
			return
		}
		http.ServeContent(w, r, "ep1.mp3", modTime, bytes.NewReader(content))
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *countingServer) url() string {
	return cs.URL + "/ep1.mp3"
}

func newTestRemote(idle time.Duration) *remote.RangeClient {
	return remote.NewRangeClient(client.NewHTTPClient(client.Options{}), idle)
}

// fakeRemote answers metadata requests from a fixed value and refuses bodies.
type fakeRemote struct {
	md            remote.Metadata
	err           error
	metadataCalls int
	bodyCalls     int
}

func (f *fakeRemote) FetchMetadata(ctx context.Context, url string) (remote.Metadata, error) {
	f.metadataCalls++
	return f.md, f.err
}

func (f *fakeRemote) FetchBody(ctx context.Context, url string, start int64) (*remote.Body, error) {
	f.bodyCalls++
	return nil, errUnexpectedCall
}

func waitForClientGone(r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-time.After(5 * time.Second):
	}
}
