package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"credit-backend/internal/metrics"

	"github.com/sirupsen/logrus"
)

// BackgroundTask one fire-and-forget unit of work
type BackgroundTask struct {
	Name string
	Run  func(ctx context.Context) error
}

// TaskError failure of a background task, reported on the notifier's error channel
type TaskError struct {
	Task string
	Err  error
}

func (e TaskError) Error() string { return fmt.Sprintf("background task %s: %v", e.Task, e.Err) }

// BackgroundNotifier runs side tasks (notifications, counters) off the caller's path.
// Task errors are logged and reported on Errors(), never returned to the submitter.
type BackgroundNotifier struct {
	queue       chan BackgroundTask
	errs        chan TaskError
	taskTimeout time.Duration
	logger      *logrus.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewBackgroundNotifier starts the worker. queueSize <= 0 defaults to 256.
func NewBackgroundNotifier(queueSize int, taskTimeout time.Duration, logger *logrus.Logger) *BackgroundNotifier {
	if queueSize <= 0 {
		queueSize = 256
	}
	if taskTimeout <= 0 {
		taskTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	n := &BackgroundNotifier{
		queue:       make(chan BackgroundTask, queueSize),
		errs:        make(chan TaskError, 64),
		taskTimeout: taskTimeout,
		logger:      logger,
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// Go enqueues a task without blocking. Returns false when the task was dropped.
func (n *BackgroundNotifier) Go(name string, run func(ctx context.Context) error) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.logger.WithField("task", name).Warn("[BackgroundNotifier] closed, dropping task")
		metrics.NotificationsDispatched.WithLabelValues("dropped").Inc()
		return false
	}
	select {
	case n.queue <- BackgroundTask{Name: name, Run: run}:
		return true
	default:
		n.logger.WithField("task", name).Warn("[BackgroundNotifier] queue full, dropping task")
		metrics.NotificationsDispatched.WithLabelValues("dropped").Inc()
		return false
	}
}

// Errors reports task failures. Unread errors beyond the buffer are discarded.
func (n *BackgroundNotifier) Errors() <-chan TaskError {
	return n.errs
}

// Close stops accepting tasks and waits for queued ones to finish
func (n *BackgroundNotifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *BackgroundNotifier) run() {
	defer n.wg.Done()
	for task := range n.queue {
		n.execute(task)
	}
}

func (n *BackgroundNotifier) execute(task BackgroundTask) {
	ctx, cancel := context.WithTimeout(context.Background(), n.taskTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return task.Run(ctx)
	}()
	if err == nil {
		metrics.NotificationsDispatched.WithLabelValues("sent").Inc()
		return
	}

	metrics.NotificationsDispatched.WithLabelValues("failed").Inc()
	n.logger.WithField("task", task.Name).WithError(err).Error("[BackgroundNotifier] task failed")
	select {
	case n.errs <- TaskError{Task: task.Name, Err: err}:
	default:
	}
}
