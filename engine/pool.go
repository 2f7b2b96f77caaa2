package engine

import (
	"context"
	"sync"
)

// JobHandler processes one queued job by id.
type JobHandler func(ctx context.Context, jobID string)

// WorkerPool runs a dynamic set of workers pulling job ids from a channel.
// Workers can be added or decommissioned while jobs are flowing.
type WorkerPool struct {
	jobs    <-chan string
	handler JobHandler

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	workers     map[int]chan struct{}
	workerCount int
	nextID      int
	wg          sync.WaitGroup
}

// NewWorkerPool creates a pool reading from jobs. It starts with zero
// workers; call SetWorkerCount to spin them up.
func NewWorkerPool(ctx context.Context, jobs <-chan string, handler JobHandler) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		jobs:    jobs,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[int]chan struct{}),
	}
}

// SetWorkerCount scales the number of workers up or down. Decommissioned
// workers finish their current job before exiting.
func (p *WorkerPool) SetWorkerCount(count int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.workerCount < count {
		p.addWorker()
	}
	for p.workerCount > count {
		p.removeWorker()
	}
}

// WorkerCount returns the current target number of workers.
func (p *WorkerPool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workerCount
}

func (p *WorkerPool) addWorker() {
	quit := make(chan struct{})
	id := p.nextID
	p.nextID++
	p.workers[id] = quit
	p.workerCount++
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		for {
			// Quit and shutdown take priority over new work.
			select {
			case <-quit:
				return
			case <-p.ctx.Done():
				return
			default:
			}

			select {
			case <-quit:
				return
			case <-p.ctx.Done():
				return
			case jobID, ok := <-p.jobs:
				if !ok {
					return
				}
				p.handler(p.ctx, jobID)
			}
		}
	}()
}

func (p *WorkerPool) removeWorker() {
	for id, quit := range p.workers {
		close(quit)
		delete(p.workers, id)
		p.workerCount--
		return
	}
}

// Stop cancels the pool context and waits for all workers to exit. Running
// jobs observe the cancellation at their next part boundary.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
}
