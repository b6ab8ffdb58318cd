package work

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/djkazic/p2pool-go/internal/bitcoin"
	"github.com/djkazic/p2pool-go/internal/chainparams"
	"github.com/djkazic/p2pool-go/internal/metrics"

	"go.uber.org/zap"
)

const (
	// PollInterval is how often to check for new block templates.
	PollInterval = 5 * time.Second

	// JobRefreshInterval is how often to send a non-clean job refresh
	// to keep miners connected and give them updated timestamps/transactions.
	JobRefreshInterval = 30 * time.Second
)

const maxStoredJobs = 20

// Generator polls a node for block templates and turns each one into a
// Work bound to the configured chain profile and payout policy.
type Generator struct {
	rpc    bitcoin.BitcoinRPC
	logger *zap.Logger

	params          *chainparams.Params
	payoutScript    []byte
	coinbaseMessage string
	extraNonce1Size int
	extraNonce2Size int
	txCountLimit    int

	currentTemplate *bitcoin.BlockTemplate
	currentWork     *Work
	templateMu      sync.RWMutex

	jobCounter atomic.Uint64
	jobCh      chan *JobData

	jobs   map[string]*JobData
	jobsMu sync.RWMutex

	lastJobTime time.Time
}

// NewGenerator creates a new work generator.
func NewGenerator(
	rpc bitcoin.BitcoinRPC,
	params *chainparams.Params,
	payoutScript []byte,
	coinbaseMessage string,
	extraNonce1Size, extraNonce2Size, txCountLimit int,
	logger *zap.Logger,
) *Generator {
	return &Generator{
		rpc:             rpc,
		logger:          logger,
		params:          params,
		payoutScript:    payoutScript,
		coinbaseMessage: coinbaseMessage,
		extraNonce1Size: extraNonce1Size,
		extraNonce2Size: extraNonce2Size,
		txCountLimit:    txCountLimit,
		jobCh:           make(chan *JobData, 8),
		jobs:            make(map[string]*JobData),
	}
}

// Start begins polling for block templates.
func (g *Generator) Start(ctx context.Context) {
	go g.pollLoop(ctx)
}

// JobChannel returns the channel of new jobs.
func (g *Generator) JobChannel() <-chan *JobData {
	return g.jobCh
}

// CurrentTemplate returns the current block template.
func (g *Generator) CurrentTemplate() *bitcoin.BlockTemplate {
	g.templateMu.RLock()
	defer g.templateMu.RUnlock()
	return g.currentTemplate
}

// CurrentWork returns the Work bound to the current template, or nil if
// none has loaded successfully yet.
func (g *Generator) CurrentWork() *Work {
	g.templateMu.RLock()
	defer g.templateMu.RUnlock()
	return g.currentWork
}

// GenerateJob creates a new job (and backing Work) from the current
// template.
func (g *Generator) GenerateJob() (*JobData, error) {
	g.templateMu.RLock()
	tmpl := g.currentTemplate
	g.templateMu.RUnlock()

	if tmpl == nil {
		return nil, fmt.Errorf("no block template available")
	}

	w := New(g.params)
	if err := w.LoadFromTemplate(tmpl, g.payoutScript, g.coinbaseMessage, g.extraNonce1Size, g.extraNonce2Size, g.txCountLimit); err != nil {
		return nil, fmt.Errorf("load work from template: %w", err)
	}

	seq := g.jobCounter.Add(1)
	jobID := fmt.Sprintf("%x", seq)
	job, err := BuildJobFromWork(jobID, w)
	if err != nil {
		return nil, fmt.Errorf("build job: %w", err)
	}
	job.Seq = seq
	job.Template = tmpl
	job.VersionMask = ComputeVersionMask(tmpl, DefaultVersionMask)

	g.templateMu.Lock()
	g.currentWork = w
	g.templateMu.Unlock()

	g.storeJob(job)
	metrics.JobsGenerated.WithLabelValues(string(g.params.Ticker)).Inc()
	return job, nil
}

// GetJob returns a stored job by ID, or nil if not found.
func (g *Generator) GetJob(id string) *JobData {
	g.jobsMu.RLock()
	defer g.jobsMu.RUnlock()
	return g.jobs[id]
}

func (g *Generator) storeJob(job *JobData) {
	g.jobsMu.Lock()
	defer g.jobsMu.Unlock()

	g.jobs[job.ID] = job

	for len(g.jobs) > maxStoredJobs {
		oldestID := ""
		var oldestSeq uint64
		for id, j := range g.jobs {
			if oldestID == "" || j.Seq < oldestSeq {
				oldestID = id
				oldestSeq = j.Seq
			}
		}
		delete(g.jobs, oldestID)
	}
}

func (g *Generator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	var consecutiveFailures int
	var lastFailureTime time.Time

	if err := g.fetchTemplate(ctx); err != nil {
		consecutiveFailures++
		lastFailureTime = time.Now()
		g.logger.Warn("bitcoin RPC failed",
			zap.Error(err),
			zap.Int("consecutive_failures", consecutiveFailures),
			zap.Duration("next_retry", backoffDuration(consecutiveFailures)),
		)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if consecutiveFailures > 0 && time.Since(lastFailureTime) < backoffDuration(consecutiveFailures) {
				continue
			}

			if err := g.fetchTemplate(ctx); err != nil {
				consecutiveFailures++
				lastFailureTime = time.Now()
				g.logger.Warn("bitcoin RPC failed",
					zap.Error(err),
					zap.Int("consecutive_failures", consecutiveFailures),
					zap.Duration("next_retry", backoffDuration(consecutiveFailures)),
				)
			} else if consecutiveFailures > 0 {
				g.logger.Info("bitcoin RPC recovered",
					zap.Int("after_failures", consecutiveFailures),
				)
				consecutiveFailures = 0
			}
		}
	}
}

// backoffDuration computes exponential backoff capped at 60s.
func backoffDuration(failures int) time.Duration {
	if failures <= 0 {
		return PollInterval
	}
	d := PollInterval
	for i := 1; i < failures; i++ {
		d *= 2
		if d > 60*time.Second {
			return 60 * time.Second
		}
	}
	return d
}

func (g *Generator) fetchTemplate(ctx context.Context) error {
	tmpl, err := g.rpc.GetBlockTemplate(ctx)
	if err != nil {
		return err
	}
	metrics.TemplatesFetched.WithLabelValues(string(g.params.Ticker)).Inc()

	g.templateMu.Lock()
	oldTemplate := g.currentTemplate
	g.currentTemplate = tmpl
	g.templateMu.Unlock()

	newBlock := oldTemplate == nil || tmpl.PreviousBlockHash != oldTemplate.PreviousBlockHash

	if newBlock {
		g.logger.Info("new block template",
			zap.Int64("height", tmpl.Height),
			zap.String("prevhash", tmpl.PreviousBlockHash[:16]+"..."),
		)
	}

	needsRefresh := !newBlock && time.Since(g.lastJobTime) >= JobRefreshInterval

	if newBlock || needsRefresh {
		job, err := g.GenerateJob()
		if err != nil {
			g.logger.Error("failed to generate job", zap.Error(err))
			return nil
		}
		job.CleanJobs = newBlock

		select {
		case g.jobCh <- job:
			g.lastJobTime = time.Now()
		default:
			g.logger.Warn("job channel full")
		}
	}

	return nil
}
