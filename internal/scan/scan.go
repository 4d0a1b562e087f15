// Package scan runs the scan pipeline: collect feeds, skip known links,
// extract new articles under a rate gate, and store the results. At most one
// run is in flight at a time; its progress is published through State.
package scan

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/cloudwatcher/internal/collect"
	"github.com/TobiSchelling/cloudwatcher/internal/database"
	"github.com/TobiSchelling/cloudwatcher/internal/extract"
	"github.com/TobiSchelling/cloudwatcher/internal/metrics"
)

// ErrBusy is returned by Run when another run is in progress.
var ErrBusy = errors.New("scan already in progress")

// Trigger statuses.
const (
	StatusStarted = "started"
	StatusBusy    = "busy"
)

// Collector produces the articles of one scan.
type Collector interface {
	Fetch(ctx context.Context) ([]collect.Article, error)
}

// Extractor turns one article into a structured result.
type Extractor interface {
	Extract(ctx context.Context, article collect.Article) (*extract.Result, error)
}

// Store persists extracted records.
type Store interface {
	Exists(ctx context.Context, link string) (bool, error)
	Insert(ctx context.Context, rec *database.NewsRecord) error
}

// Options tunes a run. Zero delays disable the corresponding wait.
type Options struct {
	// ItemDelay is the minimum interval before each extraction call.
	ItemDelay time.Duration
	// SettleDelay keeps the run marked as scanning after its work is over.
	SettleDelay time.Duration
	Now         func() time.Time
	Metrics     *metrics.Metrics
}

// Result summarizes one run.
type Result struct {
	TotalFound int
	NewAdded   int
	Duplicates int
	Failed     int
	Outcome    string
	Err        error
}

// TriggerResult is the answer to an on-demand trigger.
type TriggerResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Orchestrator drives scan runs.
type Orchestrator struct {
	collector Collector
	extractor Extractor
	store     Store
	opts      Options
	state     *State
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// New creates an orchestrator with an idle state.
func New(collector Collector, extractor Extractor, store Store, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		collector: collector,
		extractor: extractor,
		store:     store,
		opts:      opts,
		state:     NewState(),
		logger:    logger,
	}
}

// Status returns the current scan state.
func (o *Orchestrator) Status() Snapshot {
	return o.state.Snapshot()
}

// Run executes one scan synchronously. It returns ErrBusy without touching
// the state when a run is already in progress.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if !o.state.tryBegin() {
		return nil, ErrBusy
	}
	o.wg.Add(1)
	defer o.wg.Done()
	return o.execute(ctx), nil
}

// Trigger starts a scan in the background unless one is already running.
// ctx bounds the background run, not the call.
func (o *Orchestrator) Trigger(ctx context.Context) TriggerResult {
	if !o.state.tryBegin() {
		o.logger.Info("Scan trigger ignored, already running")
		return TriggerResult{Status: StatusBusy, Message: "already running"}
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(ctx)
	}()
	return TriggerResult{Status: StatusStarted, Message: "started"}
}

// Wait blocks until every run started so far has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) execute(ctx context.Context) (res *Result) {
	start := o.opts.Now()
	res = &Result{Outcome: metrics.OutcomeFailed}
	o.opts.Metrics.ScanStarted()
	o.logger.Info("Scan started")

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Scan panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			o.state.fail(MessageTechnicalError)
			res.Outcome = metrics.OutcomeFailed
			res.Err = fmt.Errorf("scan panicked: %v", r)
		}

		elapsed := o.opts.Now().Sub(start)
		o.opts.Metrics.ScanFinished(res.Outcome, elapsed)
		o.logger.Info("Scan finished",
			zap.String("outcome", res.Outcome),
			zap.Int("total_found", res.TotalFound),
			zap.Int("new_added", res.NewAdded),
			zap.Int("duplicates", res.Duplicates),
			zap.Int("failed", res.Failed),
			zap.Duration("elapsed", elapsed))

		if o.opts.SettleDelay > 0 {
			time.Sleep(o.opts.SettleDelay)
		}
		o.state.end()
		o.opts.Metrics.ScanEnded()
	}()

	err := o.process(ctx, res)
	switch {
	case err == nil:
		res.Outcome = metrics.OutcomeDone
		o.state.complete(o.opts.Now())
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		res.Outcome = metrics.OutcomeCancelled
		res.Err = err
		o.state.fail(MessageCancelled)
	default:
		res.Err = err
		o.logger.Error("Scan failed", zap.Error(err))
		o.state.fail(MessageTechnicalError)
	}
	return res
}

func (o *Orchestrator) process(ctx context.Context, res *Result) error {
	articles, err := o.collector.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("collecting articles: %w", err)
	}

	total := len(articles)
	res.TotalFound = total
	o.state.setFound(total)
	o.state.setProgress(10)

	g := newGate(o.opts.ItemDelay)
	for i, article := range articles {
		if err := ctx.Err(); err != nil {
			return err
		}

		o.state.setMessage(fmt.Sprintf("processing (%d/%d): %s...", i+1, total, collect.Truncate(article.Title, 15)))

		if err := o.processArticle(ctx, g, article, res); err != nil {
			return err
		}

		o.state.setProgress(10 + (i+1)*80/total)
	}
	return nil
}

// processArticle handles one article. Only cancellation while waiting on the
// gate is returned; every other failure is counted and logged.
func (o *Orchestrator) processArticle(ctx context.Context, g *gate, article collect.Article, res *Result) error {
	exists, err := o.store.Exists(ctx, article.Link)
	if err != nil {
		o.logger.Warn("Existence check failed, treating as new", zap.String("link", article.Link), zap.Error(err))
	}
	if exists {
		o.logger.Debug("Already stored", zap.String("link", article.Link))
		res.Duplicates++
		o.opts.Metrics.Article(metrics.ResultDuplicate)
		return nil
	}

	if err := g.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	result, err := o.extractor.Extract(ctx, article)
	if err != nil || result == nil {
		res.Failed++
		o.opts.Metrics.Article(metrics.ResultFailed)
		return nil
	}

	if err := o.store.Insert(ctx, result.Record()); err != nil {
		o.logger.Warn("Failed to store record", zap.String("link", article.Link), zap.Error(err))
		res.Failed++
		o.opts.Metrics.Article(metrics.ResultFailed)
		return nil
	}

	o.state.addNew()
	res.NewAdded++
	o.opts.Metrics.Article(metrics.ResultAdded)
	return nil
}
