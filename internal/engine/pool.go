package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Task is one unit of work for the pool.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool runs tasks on a fixed number of worker goroutines.
type Pool struct {
	workers int
	logger  *slog.Logger
}

// NewPool creates a pool of the given width. Non-positive widths use DefaultWorkers.
func NewPool(workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{workers: workers, logger: logger}
}

// Workers returns the pool width.
func (p *Pool) Workers() int { return p.workers }

// Run executes every task and blocks until all have finished. A failing or
// panicking task is recorded and does not stop its siblings. Tasks still
// queued when ctx is cancelled are recorded as failed without running.
func (p *Pool) Run(ctx context.Context, tasks []Task) *Report {
	report := &Report{}
	if len(tasks) == 0 {
		return report
	}

	queue := make(chan Task, p.workers)
	var wg sync.WaitGroup
	n := min(p.workers, len(tasks))
	for i := 0; i < n; i++ {
		wg.Add(1)
		go p.worker(ctx, i, queue, report, &wg)
	}
	p.logger.Info("started workers", "workers", n, "tasks", len(tasks))

	for _, t := range tasks {
		queue <- t
	}
	close(queue)
	wg.Wait()

	p.logger.Info("all tasks finished", "succeeded", report.Succeeded, "failed", report.Failed)
	return report
}

func (p *Pool) worker(ctx context.Context, id int, queue <-chan Task, report *Report, wg *sync.WaitGroup) {
	defer wg.Done()
	for task := range queue {
		if err := ctx.Err(); err != nil {
			report.Fail(task.Name, err)
			continue
		}

		start := time.Now()
		if err := p.runTask(ctx, task); err != nil {
			p.logger.Error("task failed", "worker", id, "task", task.Name, "error", err)
			report.Fail(task.Name, err)
			continue
		}
		p.logger.Info("task completed", "worker", id, "task", task.Name, "duration", time.Since(start))
		report.Success(task.Name)
	}
}

func (p *Pool) runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task.Run(ctx)
}
