package setting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"z-novel-setting-api/pkg/logger"
	"z-novel-setting-api/pkg/metrics"
)

// TaskRegistry 在途抽取任务登记：sessionID → taskID → 开始时间。
// 仅用于完成判定，不属于会话持久状态。
type TaskRegistry struct {
	mu    sync.Mutex
	tasks map[string]map[string]time.Time
	now   func() time.Time
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{
		tasks: make(map[string]map[string]time.Time),
		now:   time.Now,
	}
}

// Register 登记任务并返回 taskID
func (r *TaskRegistry) Register(sessionID string) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.tasks[sessionID]
	if !ok {
		m = make(map[string]time.Time)
		r.tasks[sessionID] = m
	}
	m[id] = r.now()
	metrics.ExtractionTasksInFlight.Inc()
	return id
}

// Done 注销任务；已被清理的任务重复注销无副作用
func (r *TaskRegistry) Done(sessionID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.tasks[sessionID]
	if !ok {
		return
	}
	if _, ok := m[taskID]; ok {
		delete(m, taskID)
		metrics.ExtractionTasksInFlight.Dec()
	}
	if len(m) == 0 {
		delete(r.tasks, sessionID)
	}
}

// Pending 在途任务数
func (r *TaskRegistry) Pending(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks[sessionID])
}

// Drain 原子判定是否已排空：全部任务都超过 staleAfter 时强制清理并返回被清理的任务，
// 否则返回仍在途的任务数。
func (r *TaskRegistry) Drain(sessionID string, staleAfter time.Duration) (pending int, cleared map[string]time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.tasks[sessionID]
	if len(m) == 0 {
		return 0, nil
	}
	now := r.now()
	ages := make(map[string]time.Duration, len(m))
	for id, started := range m {
		age := now.Sub(started)
		if age <= staleAfter {
			return len(m), nil
		}
		ages[id] = age
	}
	delete(r.tasks, sessionID)
	metrics.ExtractionTasksInFlight.Sub(float64(len(ages)))
	return 0, ages
}

// Remove 删除会话的全部登记
func (r *TaskRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.tasks[sessionID]; ok {
		metrics.ExtractionTasksInFlight.Sub(float64(len(m)))
		delete(r.tasks, sessionID)
	}
}

// extractFunc 执行一次抽取
type extractFunc func(ctx context.Context, job ExtractionJob) error

// finalizer 任务结束后的完成判定入口
type finalizer interface {
	TryFinalize(ctx context.Context, sessionID string) bool
}

// ExtractionJob 一段待抽取的文本增量
type ExtractionJob struct {
	SessionID string
	Round     int
	Seq       int
	Request   ExtractionRequest
}

// ExtractionSupervisor 以 fire-and-forget 方式调度抽取任务：
// 派发时同步登记，执行结束后注销并触发一次完成判定。
type ExtractionSupervisor struct {
	registry *TaskRegistry
	extract  extractFunc
	gate     finalizer
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewExtractionSupervisor(registry *TaskRegistry, extract extractFunc, gate finalizer, timeout time.Duration) *ExtractionSupervisor {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &ExtractionSupervisor{
		registry: registry,
		extract:  extract,
		gate:     gate,
		timeout:  timeout,
	}
}

// Dispatch 登记并异步执行任务，不阻塞调用方。
// 任务不随上游取消而终止，结果在会话离开 GENERATING 后被丢弃。
func (s *ExtractionSupervisor) Dispatch(ctx context.Context, job ExtractionJob) string {
	taskID := s.registry.Register(job.SessionID)
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		start := time.Now()
		status := "success"

		func() {
			defer func() {
				if r := recover(); r != nil {
					status = "panic"
					logger.Error(taskCtx, "extraction task panicked", fmt.Errorf("%v", r),
						"task_id", taskID,
					)
				}
			}()
			if err := s.extract(taskCtx, job); err != nil {
				status = "error"
				logger.Warn(taskCtx, "extraction task failed",
					"task_id", taskID,
					"round", job.Round,
					"seq", job.Seq,
					"error", err.Error(),
				)
			}
		}()
		cancel()

		metrics.ExtractionTaskDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		s.registry.Done(job.SessionID, taskID)
		if s.gate != nil {
			s.gate.TryFinalize(context.WithoutCancel(ctx), job.SessionID)
		}
	}()
	return taskID
}

// Wait 等待全部已派发任务结束
func (s *ExtractionSupervisor) Wait() {
	s.wg.Wait()
}
