package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStopTask — тик просит снять свою задачу. Планировщик удаляет ее после завершения тика.
var ErrStopTask = errors.New("stop scheduled task")

// TaskFunc — один тик повторяющейся задачи. ctx отменяется при остановке задачи.
// Возврат ErrStopTask завершает задачу; прочие ошибки только логируются.
type TaskFunc func(ctx context.Context) error

// TaskInfo — снимок состояния задачи для API
type TaskInfo struct {
	Key       string        `json:"key"`
	Interval  time.Duration `json:"interval"`
	StartedAt time.Time     `json:"started_at"`
	LastRun   time.Time     `json:"last_run"`
	Runs      int64         `json:"runs"`
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	info TaskInfo
}

// Scheduler держит по одной отменяемой повторяющейся задаче на ключ.
// Schedule/Cancel сериализованы: замена задачи атомарна, двух живых таймеров на ключ не бывает.
// Тики одной задачи идут строго последовательно: если проверка не успела до следующего
// тика, тик пропускается (time.Ticker отбрасывает лишние срабатывания).
// TaskFunc не должна вызывать Schedule/Cancel для своего ключа — Cancel ждет завершения тика;
// для самоостановки тик возвращает ErrStopTask.
type Scheduler struct {
	opsMu sync.Mutex // Сериализует Schedule/Cancel/Stop

	mu    sync.RWMutex
	tasks map[string]*task

	logger *zap.Logger
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		tasks:  make(map[string]*task),
		logger: logger.With(zap.String("mod", "scheduler")),
	}
}

// Schedule запускает (или перезапускает) задачу. Старая задача с тем же ключом
// сначала останавливается и дожидается завершения текущего тика.
func (s *Scheduler) Schedule(key string, interval time.Duration, runNow bool, fn TaskFunc) {
	s.opsMu.Lock()
	defer s.opsMu.Unlock()

	s.stopLocked(key)

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		cancel: cancel,
		done:   make(chan struct{}),
		info: TaskInfo{
			Key:       key,
			Interval:  interval,
			StartedAt: time.Now(),
		},
	}

	s.mu.Lock()
	s.tasks[key] = t
	s.mu.Unlock()

	go s.loop(ctx, t, interval, runNow, fn)
}

// Cancel останавливает задачу и ждет завершения текущего тика. Возвращает false, если задачи не было.
func (s *Scheduler) Cancel(key string) bool {
	s.opsMu.Lock()
	defer s.opsMu.Unlock()
	return s.stopLocked(key)
}

// Stop останавливает все задачи (graceful shutdown)
func (s *Scheduler) Stop() {
	s.opsMu.Lock()
	defer s.opsMu.Unlock()

	for _, key := range s.Keys() {
		s.stopLocked(key)
	}
}

func (s *Scheduler) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tasks[key]
	return ok
}

func (s *Scheduler) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.tasks))
	for k := range s.tasks {
		keys = append(keys, k)
	}
	return keys
}

func (s *Scheduler) Info(key string) (TaskInfo, bool) {
	s.mu.RLock()
	t, ok := s.tasks[key]
	s.mu.RUnlock()
	if !ok {
		return TaskInfo{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info, true
}

func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

func (s *Scheduler) stopLocked(key string) bool {
	s.mu.Lock()
	t, ok := s.tasks[key]
	if ok {
		delete(s.tasks, key)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	t.cancel()
	<-t.done
	return true
}

func (s *Scheduler) loop(ctx context.Context, t *task, interval time.Duration, runNow bool, fn TaskFunc) {
	defer close(t.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if runNow && s.runOnce(ctx, t, fn) {
		s.detach(t)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.runOnce(ctx, t, fn) {
				s.detach(t)
				return
			}
		}
	}
}

// detach убирает задачу из таблицы без opsMu: параллельный Cancel может держать opsMu,
// ожидая t.done. Если ключ уже занят другой задачей, таблицу не трогаем.
func (s *Scheduler) detach(t *task) {
	s.mu.Lock()
	if cur, ok := s.tasks[t.info.Key]; ok && cur == t {
		delete(s.tasks, t.info.Key)
	}
	s.mu.Unlock()
	t.cancel()
	s.logger.Info("scheduled task stopped itself", zap.String("key", t.info.Key))
}

// runOnce возвращает true, если тик попросил остановить задачу
func (s *Scheduler) runOnce(ctx context.Context, t *task, fn TaskFunc) (stop bool) {
	if ctx.Err() != nil {
		return false
	}

	// Паника в тике не должна убивать цикл мониторинга
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked",
				zap.String("key", t.info.Key),
				zap.Any("panic", r))
		}
	}()

	t.mu.Lock()
	t.info.LastRun = time.Now()
	t.info.Runs++
	t.mu.Unlock()

	err := fn(ctx)
	switch {
	case errors.Is(err, ErrStopTask):
		return true
	case err != nil && ctx.Err() == nil:
		s.logger.Warn("scheduled task failed", zap.String("key", t.info.Key), zap.Error(err))
	}
	return false
}
