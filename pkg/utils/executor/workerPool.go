package executor

import (
	"runtime"
	"sync"
)

// WorkerPool manages a fixed set of workers pulling tasks off a shared queue.
type WorkerPool struct {
	taskQueue chan func()
	wg        sync.WaitGroup
}

// NewWorkerPool initializes a new WorkerPool with one worker per CPU.
func NewWorkerPool() *WorkerPool {
	return NewWorkerPoolWithMax(runtime.NumCPU())
}

// NewWorkerPoolWithMax initializes a new WorkerPool with maxWorkers workers.
func NewWorkerPoolWithMax(maxWorkers int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	pool := &WorkerPool{
		taskQueue: make(chan func()),
	}
	pool.wg.Add(maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		go pool.worker()
	}
	return pool
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for task := range wp.taskQueue {
		task()
	}
}

// Submit schedules a task and returns a future for its result.
func Submit[T any](wp *WorkerPool, task func() (T, error)) *Future[T] {
	fut := newFuture[T]()
	wp.taskQueue <- func() {
		fut.complete(task())
	}
	return fut
}

// Execute schedules a task whose result is not needed.
func Execute(wp *WorkerPool, task func()) {
	wp.taskQueue <- task
}

// Stop closes the task queue and waits for in-flight tasks to finish.
func (wp *WorkerPool) Stop() {
	close(wp.taskQueue)
	wp.wg.Wait()
}
