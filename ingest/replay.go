package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"sentinel/core"

	"go.uber.org/zap"
)

// ReplayStats summarises a replay run
type ReplayStats struct {
	Lines    int `json:"lines"`
	Ingested int `json:"ingested"`
	Skipped  int `json:"skipped"`
	Rejected int `json:"rejected"`
	Failed   int `json:"failed"`
}

// Replayer feeds newline-delimited JSON events into an Ingester.
// Blank lines and lines starting with '#' are skipped.
type Replayer struct {
	ingester Ingester
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewReplayer creates a replayer
func NewReplayer(ingester Ingester, logger *zap.SugaredLogger) *Replayer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Replayer{ingester: ingester, logger: logger, now: time.Now}
}

// ReplayFile opens path and replays it
func (r *Replayer) ReplayFile(ctx context.Context, path string) (ReplayStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("failed to open replay file: %w", err)
	}
	defer f.Close()
	return r.Replay(ctx, f)
}

// Replay reads events until EOF. Malformed or invalid lines are counted and
// skipped; persistence failures are counted and replay continues. Only a
// read error or context cancellation aborts the run.
func (r *Replayer) Replay(ctx context.Context, src io.Reader) (ReplayStats, error) {
	var stats ReplayStats
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxEventSize+1)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Lines++
		line := scanner.Bytes()
		if isSkippable(line) {
			stats.Skipped++
			continue
		}

		event, err := ParseProcessEvent(line, r.now())
		if err != nil {
			stats.Rejected++
			r.logger.Warnw("Skipping invalid replay line", "line", stats.Lines, "error", err)
			continue
		}

		if err := r.ingester.Ingest(ctx, event); err != nil {
			switch {
			case errors.Is(err, core.ErrValidation):
				stats.Rejected++
			case ctx.Err() != nil:
				return stats, ctx.Err()
			default:
				stats.Failed++
			}
			r.logger.Warnw("Replay ingest failed", "line", stats.Lines, "event_id", event.ID, "error", err)
			continue
		}
		stats.Ingested++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read replay input at line %d: %w", stats.Lines+1, err)
	}

	r.logger.Infow("Replay complete",
		"lines", stats.Lines,
		"ingested", stats.Ingested,
		"rejected", stats.Rejected,
		"failed", stats.Failed)
	return stats, nil
}

func isSkippable(line []byte) bool {
	for _, b := range line {
		switch b {
		case ' ', '\t', '\r':
			continue
		case '#':
			return true
		default:
			return false
		}
	}
	return true
}
