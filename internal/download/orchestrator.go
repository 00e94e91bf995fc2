package download

import (
	"context"
	"log/slog"
	"path"
	"time"

	"imagepicker/internal/clock"
	"imagepicker/internal/metrics"
)

// DefaultPacing is the delay between two consecutive requests.
const DefaultPacing = 100 * time.Millisecond

// DefaultDir is the folder every file is saved under.
const DefaultDir = "ImageDownloader"

// Result summarizes a batch.
type Result struct {
	Succeeded int      `json:"succeeded"`
	Total     int      `json:"total"`
	Files     []string `json:"files,omitempty"`
}

// Options configures an Orchestrator.
type Options struct {
	Pacing   time.Duration
	Dir      string
	Conflict Conflict
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Orchestrator drives a sequential, paced batch against a Host.
type Orchestrator struct {
	host     Host
	pacing   time.Duration
	dir      string
	conflict Conflict
	clock    clock.Clock
	logger   *slog.Logger
}

// NewOrchestrator fills unset options with the defaults.
func NewOrchestrator(host Host, opts Options) *Orchestrator {
	o := &Orchestrator{
		host:     host,
		pacing:   opts.Pacing,
		dir:      opts.Dir,
		conflict: opts.Conflict,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
	if o.pacing < 0 {
		o.pacing = 0
	}
	if o.dir == "" {
		o.dir = DefaultDir
	}
	if o.conflict == "" {
		o.conflict = ConflictUniquify
	}
	if o.clock == nil {
		o.clock = clock.Real{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Download requests every source in order. A failed item is logged and the
// batch moves on; only ctx ending stops it early.
func (o *Orchestrator) Download(ctx context.Context, sources []string) Result {
	res := Result{Total: len(sources)}
	start := o.clock.Now()
	o.logger.Info("download batch started", "count", len(sources))

	for i, src := range sources {
		if i > 0 && o.pacing > 0 {
			if err := o.clock.Sleep(ctx, o.pacing); err != nil {
				o.logger.Warn("download batch interrupted", "remaining", len(sources)-i, "error", err)
				break
			}
		}
		if ctx.Err() != nil {
			o.logger.Warn("download batch interrupted", "remaining", len(sources)-i, "error", ctx.Err())
			break
		}
		name := path.Join(o.dir, Filename(src, i, o.clock.Now().UnixMilli()))
		saved, err := o.host.Download(ctx, Request{URL: src, Filename: name, Conflict: o.conflict})
		if err != nil {
			metrics.RecordDownload("error")
			o.logger.Warn("download failed", "index", i, "url", truncate(src, 96), "error", err)
			continue
		}
		metrics.RecordDownload("success")
		res.Succeeded++
		if saved == "" {
			saved = name
		}
		res.Files = append(res.Files, saved)
		o.logger.Debug("downloaded", "index", i, "file", saved)
	}

	metrics.RecordBatch(o.clock.Now().Sub(start).Seconds())
	o.logger.Info("download batch finished", "succeeded", res.Succeeded, "total", res.Total)
	return res
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
