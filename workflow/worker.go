package workflow

import "sync"

// WorkerPool runs parallel branches on a fixed set of goroutines with a
// hard cap on concurrently submitted tasks. The cap counts tasks from
// submission until completion, so deeply nested parallelism cannot pile
// up unboundedly: Submit past the cap fails instead of blocking.
//
// An engine and all of its child engines share one pool. The engine that
// created the pool releases it when its run finishes.
type WorkerPool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu        sync.Mutex
	inFlight  int
	maxSubmit int
	released  bool
}

// NewWorkerPool starts workers goroutines serving a queue capped at
// maxSubmit in-flight tasks. Both values must be positive.
func NewWorkerPool(workers, maxSubmit int) *WorkerPool {
	p := &WorkerPool{
		// Queue capacity matches the submit cap, so an accepted Submit
		// never blocks handing the task over.
		tasks:     make(chan func(), maxSubmit),
		maxSubmit: maxSubmit,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}
}

// Submit schedules a task. Returns ErrPoolFull when the in-flight cap is
// reached and ErrPoolReleased after Release.
func (p *WorkerPool) Submit(task func()) error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return ErrPoolReleased
	}
	if p.inFlight >= p.maxSubmit {
		p.mu.Unlock()
		return ErrPoolFull
	}
	p.inFlight++
	p.mu.Unlock()

	p.tasks <- task
	return nil
}

// InFlight returns the number of submitted tasks not yet finished.
func (p *WorkerPool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Release stops accepting tasks and waits for the workers to drain the
// queue. Safe to call once.
func (p *WorkerPool) Release() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	p.mu.Unlock()

	close(p.tasks)
	p.wg.Wait()
}
