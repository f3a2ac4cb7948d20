package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sentinel/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestReplayer_CountsOutcomes(t *testing.T) {
	input := strings.Join([]string{
		`# captured on SEC-WKSTN-01`,
		`{"id":"e1","image":"cmd.exe","command_line":"cmd.exe /c dir"}`,
		``,
		`not json`,
		`{"id":"e2","image":"cmd.exe"}`,
		`{"id":"e3","image":"powershell.exe","command_line":"powershell -enc AAAA"}`,
		`{"id":"e4","image":"cmd.exe","command_line":"cmd.exe /c ver"}`,
	}, "\n")

	ing := newRecordingIngester()
	ing.failOn["e3"] = core.NewPersistenceError("alerts", "save", assert.AnError)

	stats, err := NewReplayer(ing, zaptest.NewLogger(t).Sugar()).Replay(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Lines: 7, Ingested: 2, Skipped: 2, Rejected: 2, Failed: 1}, stats)

	events := ing.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e4", events[1].ID)
}

func TestReplayer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := NewReplayer(newRecordingIngester(), nil).Replay(ctx,
		strings.NewReader(`{"id":"e1","image":"a","command_line":"b"}`))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, stats.Ingested)
}

func TestReplayer_LineTooLong(t *testing.T) {
	input := `{"id":"e1","image":"a","command_line":"` + strings.Repeat("x", MaxEventSize+10) + `"}`

	_, err := NewReplayer(newRecordingIngester(), nil).Replay(context.Background(), strings.NewReader(input))
	assert.Error(t, err)
}

func TestReplayer_ReplayFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"e1","image":"a","command_line":"b"}`+"\n"), 0o600))

	ing := newRecordingIngester()
	stats, err := NewReplayer(ing, nil).ReplayFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Ingested)

	_, err = NewReplayer(ing, nil).ReplayFile(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
