package restwrap

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Job is one request submitted to a Pool.
type Job struct {
	Index   int
	Request Request
	Bypass  bool // use SendBypassingCaptcha
}

// JobResult is the outcome of a Job.
type JobResult struct {
	Index    int
	WorkerID string
	Response *Response
	Error    error
	Fatal    bool
}

type poolWorker struct {
	id      string
	session *Session
}

// Pool runs jobs on a fixed set of workers. Each worker owns a clone of the
// template session, so cookies never race between workers; the Dispatcher is
// shared. A fatal error stops every worker; its result is always delivered,
// so Results must be drained until it is closed.
type Pool struct {
	dispatcher *Dispatcher
	workers    []*poolWorker
	jobs       chan Job
	results    chan JobResult
	done       <-chan struct{}
	wg         sync.WaitGroup
	cancel     context.CancelFunc
	fatalOnce  sync.Once
	fatalErr   error
	stopped    atomic.Bool
}

// NewPool creates workerCount workers. When proxies is non-nil each worker
// session gets a random proxy from it.
func NewPool(d *Dispatcher, template *Session, workerCount int, proxies *ProxyList) (*Pool, error) {
	if workerCount <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", workerCount)
	}

	p := &Pool{
		dispatcher: d,
		workers:    make([]*poolWorker, workerCount),
		jobs:       make(chan Job, workerCount*2),
		results:    make(chan JobResult, workerCount*2),
	}

	for i := range p.workers {
		session := template.Clone()
		if proxies != nil {
			session.Proxy, _ = proxies.Random()
		}
		p.workers[i] = &poolWorker{
			id:      generateWorkerID(),
			session: session,
		}
	}

	return p, nil
}

func generateWorkerID() string {
	return uuid.New().String()[:8]
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = ctx.Done()

	for _, w := range p.workers {
		p.wg.Add(1)
		go p.runWorker(ctx, w)
	}
}

func (p *Pool) runWorker(ctx context.Context, w *poolWorker) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			if p.stopped.Load() {
				return
			}

			req := job.Request
			if req.Label == "" {
				req.Label = "worker " + w.id
			}

			var resp *Response
			var err error
			if job.Bypass {
				resp, err = p.dispatcher.SendBypassingCaptcha(ctx, w.session, req)
			} else {
				resp, err = p.dispatcher.Send(ctx, w.session, req)
			}

			if IsFatalError(err) || ContainsFatalErrorString(err) {
				p.handleFatalError(job.Index, w.id, err)
				return
			}

			select {
			case p.results <- JobResult{Index: job.Index, WorkerID: w.id, Response: resp, Error: err}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Pool) handleFatalError(index int, workerID string, err error) {
	first := false
	p.fatalOnce.Do(func() {
		first = true
		p.fatalErr = err
		p.stopped.Store(true)
		p.dispatcher.logger.Log(fmt.Sprintf("FATAL ERROR: %v - stopping all workers", err), LevelNone, DefaultLogConfig)

		if p.cancel != nil {
			p.cancel()
		}
	})
	if !first {
		return
	}

	// Blocks until read; selecting on the cancelled pool context would drop it.
	p.results <- JobResult{Index: index, WorkerID: workerID, Error: err, Fatal: true}
}

// Submit queues a job. It returns false once the pool has stopped.
func (p *Pool) Submit(ctx context.Context, job Job) bool {
	if p.stopped.Load() {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	case <-p.done:
		return false
	}
}

// Results returns the results channel for reading job outcomes.
func (p *Pool) Results() <-chan JobResult {
	return p.results
}

// Close stops accepting jobs, waits for workers to finish, then closes the
// results channel.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
	close(p.results)
}

// Err returns the fatal error that stopped the pool, if any. It is only
// meaningful once Results has been closed.
func (p *Pool) Err() error {
	return p.fatalErr
}

// WorkerCount returns the number of workers.
func (p *Pool) WorkerCount() int {
	return len(p.workers)
}
