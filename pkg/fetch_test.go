package castfetch_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	castfetch "github.com/castfetch/castfetch/pkg"
	"github.com/castfetch/castfetch/pkg/client"
	"github.com/castfetch/castfetch/pkg/journal"
	"github.com/castfetch/castfetch/pkg/remote"
	"github.com/castfetch/castfetch/pkg/transfer"
)

var testFS = fstest.MapFS{
	"hello.mp3": {Data: []byte("hello, world!"), ModTime: time.Date(2022, 5, 1, 0, 0, 0, 0, time.UTC)},
}

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

type stubEngine struct {
	result transfer.Result
	calls  int
}

func (s *stubEngine) Transfer(ctx context.Context, req transfer.Request) transfer.Result {
	s.calls++
	return s.result
}

type memoryRecorder struct {
	results []transfer.Result
	err     error
}

func (m *memoryRecorder) Record(ctx context.Context, req transfer.Request, res transfer.Result) error {
	m.results = append(m.results, res)
	return m.err
}

func TestDecisionFor(t *testing.T) {
	testCases := []struct {
		name     string
		result   transfer.Result
		expected castfetch.Decision
	}{
		{"validated", transfer.Result{Outcome: transfer.OutcomeValidated}, castfetch.Continue},
		{"assumed valid", transfer.Result{Outcome: transfer.OutcomeAssumedValid}, castfetch.Continue},
		{"skipped", transfer.Result{Outcome: transfer.OutcomeSkipped}, castfetch.Continue},
		{"cancelled on timeout", transfer.Result{Outcome: transfer.OutcomeCancelled, Failure: transfer.FailureTimeout}, castfetch.Continue},
		{"needs review", transfer.Result{Outcome: transfer.OutcomeCancelled, NeedsReview: true}, castfetch.Continue},
		{"cancelled on connection error", transfer.Result{Outcome: transfer.OutcomeCancelled, Failure: transfer.FailureConnection}, castfetch.SkipSeries},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, castfetch.DecisionFor(tc.result))
		})
	}
}

func TestFetchRecordsOutcome(t *testing.T) {
	engine := &stubEngine{result: transfer.Result{ID: "abc", Outcome: transfer.OutcomeCancelled, Failure: transfer.FailureConnection}}
	journal := &memoryRecorder{err: errors.New("disk full")}
	getter := castfetch.Getter{Engine: engine, Journal: journal}

	res, decision := getter.Fetch(context.Background(), transfer.Request{URL: "http://x/a.mp3", Dest: "a.mp3"})

	assert.Equal(t, castfetch.SkipSeries, decision)
	assert.Equal(t, "abc", res.ID)
	assert.Equal(t, 1, engine.calls)
	// a journal failure does not change the result
	require.Len(t, journal.results, 1)
	assert.Equal(t, res, journal.results[0])
}

func TestFetchRecordsInterruptedTransfer(t *testing.T) {
	j, err := journal.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine := &stubEngine{result: transfer.Result{ID: "interrupted", Outcome: transfer.OutcomeCancelled, Failure: transfer.FailureConnection}}
	getter := castfetch.Getter{Engine: engine, Journal: j}

	_, decision := getter.Fetch(ctx, transfer.Request{URL: "http://x/a.mp3", Dest: "a.mp3"})
	assert.Equal(t, castfetch.SkipSeries, decision)

	entry, err := j.Get(context.Background(), "interrupted")
	require.NoError(t, err)
	assert.Equal(t, transfer.OutcomeCancelled.String(), entry.Outcome)
}

func TestFetchWithoutJournal(t *testing.T) {
	getter := castfetch.Getter{Engine: &stubEngine{result: transfer.Result{Outcome: transfer.OutcomeSkipped}}}
	res, decision := getter.Fetch(context.Background(), transfer.Request{})
	assert.Equal(t, transfer.OutcomeSkipped, res.Outcome)
	assert.Equal(t, castfetch.Continue, decision)
}

func TestFetchSmallFile(t *testing.T) {
	ts := httptest.NewServer(http.FileServer(http.FS(testFS)))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "hello.mp3")
	published := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	rc := remote.NewRangeClient(client.NewHTTPClient(client.Options{}), time.Second)
	getter := castfetch.Getter{Engine: transfer.NewEngine(rc, transfer.Config{})}

	res, decision := getter.Fetch(context.Background(), transfer.Request{
		URL:             ts.URL + "/hello.mp3",
		Dest:            dest,
		ExpectedModTime: published,
	})

	assert.Equal(t, castfetch.Continue, decision)
	assert.Equal(t, transfer.OutcomeValidated, res.Outcome, res.Diagnostic)
	assert.True(t, res.Stamped)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, testFS["hello.mp3"].Data, got)
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(published))
}

func TestFetchUnreachableOriginSkipsSeries(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	rc := remote.NewRangeClient(client.NewHTTPClient(client.Options{}), time.Second)
	getter := castfetch.Getter{Engine: transfer.NewEngine(rc, transfer.Config{})}

	res, decision := getter.Fetch(context.Background(), transfer.Request{
		URL:  ts.URL + "/gone.mp3",
		Dest: filepath.Join(t.TempDir(), "gone.mp3"),
	})
	assert.Equal(t, transfer.OutcomeCancelled, res.Outcome)
	assert.Equal(t, castfetch.SkipSeries, decision)
}
