package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/crossfade/internal/config"
	"github.com/andresmejia3/crossfade/internal/crossfade"
	"github.com/andresmejia3/crossfade/internal/store"
	"github.com/andresmejia3/crossfade/internal/types"
	"github.com/andresmejia3/crossfade/internal/utils"
	"github.com/google/uuid"
)

// ledger records a run in the store when one is configured. Every method is
// a no-op without a store. Failures only produce warnings.
type ledger struct {
	ctx   context.Context
	db    *store.Store
	runID uuid.UUID
	ok    bool
}

func newLedger(ctx context.Context, db *store.Store) *ledger {
	return &ledger{ctx: ctx, db: db}
}

func (l *ledger) warn(what string, err error) {
	fmt.Fprintf(os.Stderr, "⚠️  Ledger: failed to %s: %v\n", what, err)
}

func (l *ledger) start(cfg *config.Config) (uuid.UUID, bool) {
	if l.db == nil {
		return uuid.Nil, false
	}
	id, err := l.db.StartRun(l.ctx, store.RunSpec{
		Workers:   cfg.Workers,
		Frames:    cfg.Frames,
		Transport: cfg.Transport,
		Output:    cfg.Output,
	})
	if err != nil {
		l.warn("record run", err)
		return uuid.Nil, false
	}
	l.runID, l.ok = id, true
	return id, true
}

func (l *ledger) image(path string, img *types.Image) {
	if !l.ok {
		return
	}
	imageID, err := utils.GenerateImageID(path)
	if err == nil {
		err = l.db.EnsureImage(l.ctx, imageID, path, img.Width, img.Height)
	}
	if err == nil {
		err = l.db.SetRunImage(l.ctx, l.runID, imageID)
	}
	if err != nil {
		l.warn("register image", err)
	}
}

// OnFrame implements crossfade.Observer.
func (l *ledger) OnFrame(ev types.FrameEvent) {
	if !l.ok {
		return
	}
	if err := l.db.RecordFrame(l.ctx, l.runID, ev); err != nil {
		l.warn(fmt.Sprintf("record frame %d", ev.Index), err)
	}
}

func (l *ledger) finish(report *crossfade.Report, runErr error) {
	if !l.ok {
		return
	}
	var written int
	var elapsed time.Duration
	if report != nil {
		written, elapsed = report.Written, report.Elapsed
	}
	// Use Background so an interrupted run is still closed out.
	if err := l.db.FinishRun(context.Background(), l.runID, elapsed, written, runErr); err != nil {
		l.warn("finish run", err)
	}
}
