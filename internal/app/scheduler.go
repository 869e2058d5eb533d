package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a job the scheduler runs on a fixed interval.
type Task struct {
	Name       string
	Interval   time.Duration
	RunAtStart bool
	Run        func(ctx context.Context)
}

// Scheduler управляет фоновыми задачами
type Scheduler struct {
	tasks    []Task
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(logger *zap.Logger, tasks ...Task) *Scheduler {
	return &Scheduler{
		tasks:    tasks,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start launches one goroutine per task. Tasks end on Stop or when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background scheduler", zap.Int("tasks", len(s.tasks)))

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runTask(ctx, task)
	}
}

// Stop signals every task and waits until all of them have returned.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping background scheduler")
		close(s.stopChan)
	})
	s.wg.Wait()
}

func (s *Scheduler) runTask(ctx context.Context, task Task) {
	defer s.wg.Done()

	if task.RunAtStart {
		task.Run(ctx)
	}

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			task.Run(ctx)
		case <-s.stopChan:
			s.logger.Debug("Task stopped", zap.String("task", task.Name))
			return
		case <-ctx.Done():
			s.logger.Debug("Task cancelled", zap.String("task", task.Name))
			return
		}
	}
}
