// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/luxfi/biofhe"
	"github.com/luxfi/biofhe/internal/queue"
	"github.com/luxfi/biofhe/internal/storage"
)

// WorkerPool pops authentication jobs and runs them on a Verifier.
type WorkerPool struct {
	numWorkers int
	queue      queue.Queue
	verifier   *Verifier
	limiter    *rate.Limiter

	wg           sync.WaitGroup
	cancel       context.CancelFunc
	running      atomic.Bool
	successCount atomic.Int64
	failureCount atomic.Int64
}

// NewWorkerPool builds a pool. A positive perSecond throttles job intake.
func NewWorkerPool(v *Verifier, q queue.Queue, numWorkers int, perSecond float64, burst int) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return &WorkerPool{
		numWorkers: numWorkers,
		queue:      q,
		verifier:   v,
		limiter:    limiter,
	}
}

// Succeeded returns the number of completed jobs.
func (p *WorkerPool) Succeeded() int64 { return p.successCount.Load() }

// Failed returns the number of failed jobs.
func (p *WorkerPool) Failed() int64 { return p.failureCount.Load() }

// Start launches the workers.
func (p *WorkerPool) Start(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("pool already running")
	}
	ctx, p.cancel = context.WithCancel(ctx)

	log.Printf("Starting %d workers", p.numWorkers)
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return nil
}

// Stop cancels the workers and waits up to timeout for them to exit.
func (p *WorkerPool) Stop(timeout time.Duration) error {
	if !p.running.Load() {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		return errors.New("shutdown timeout")
	}
	p.running.Store(false)
	return nil
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
		job, err := p.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			log.Printf("Worker %d: failed to pop job: %v", id, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		p.Process(ctx, job)
	}
}

// Process runs one job and records its outcome in the queue.
func (p *WorkerPool) Process(ctx context.Context, job *queue.Job) {
	job.Status = queue.StatusProcessing
	if err := p.queue.Update(ctx, job); err != nil {
		log.Printf("job %s: update status: %v", job.ID, err)
	}

	res, err := p.run(ctx, job)
	if err != nil {
		job.Status = queue.StatusFailed
		job.Error = PublicError(err)
		p.failureCount.Add(1)
	} else {
		job.Status = queue.StatusCompleted
		job.Match = res.Match
		job.ResultHandle = string(res.ResultHandle)
		job.Error = ""
		p.successCount.Add(1)
	}
	if err := p.queue.Update(ctx, job); err != nil {
		log.Printf("job %s: update result: %v", job.ID, err)
	}
}

func (p *WorkerPool) run(ctx context.Context, job *queue.Job) (Result, error) {
	if job.Dataset != "" && !strings.EqualFold(job.Dataset, p.verifier.Config().Dataset()) {
		return Result{}, fmt.Errorf("%w: job for dataset %s on a %s worker",
			biofhe.ErrInvalidConfig, job.Dataset, p.verifier.Config().Dataset())
	}
	handle, err := storage.ParseHandle(job.TemplateHandle)
	if err != nil {
		return Result{}, &biofhe.MalformedInputError{Source: "job " + job.ID, Err: err}
	}
	template, err := p.verifier.Template(ctx, handle)
	if err != nil {
		return Result{}, err
	}
	return p.verifier.Authenticate(ctx, template, job.Probe, job.Strategy)
}
