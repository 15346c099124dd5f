package audit

/*
Журнал запусков агентов. Запись асинхронная: ExecuteAgent кладет событие в буфер
и не ждет базу. Воркер копит пачку и пишет ее целиком по таймеру или по размеру.
При остановке буфер вычитывается до конца (drain), потом делается финальный flush.
Переполненный буфер сбрасывает событие в лог (load shedding), вызов не блокируется.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/engine"
	"go.uber.org/zap"
)

// Дефолты буфера
const (
	DefaultBufferSize    = 10000
	DefaultBatchSize     = 100
	DefaultFlushInterval = 500 * time.Millisecond
)

// Storage — куда физически пишутся события
type Storage interface {
	WriteBatch(ctx context.Context, events []ExecutionEvent) error
}

// Auditor — то, что нужно сервису
type Auditor interface {
	Log(event ExecutionEvent)
}

type Options struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// ExecutionLog — буферизованный писатель журнала запусков
type ExecutionLog struct {
	ch      chan ExecutionEvent
	repo    Storage
	opts    Options
	metrics *engine.Metrics
	logger  *zap.Logger
	wg      sync.WaitGroup

	// closeMu защищает закрытие канала от гонки с Log
	closeMu sync.RWMutex
	closed  bool
}

func NewExecutionLog(repo Storage, opts Options, metrics *engine.Metrics, logger *zap.Logger) *ExecutionLog {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ExecutionLog{
		ch:      make(chan ExecutionEvent, opts.BufferSize),
		repo:    repo,
		opts:    opts,
		metrics: metrics,
		logger:  logger.With(zap.String("mod", "execution_log")),
	}
}

func (l *ExecutionLog) Start() {
	l.wg.Add(1)
	go l.worker()
}

// Stop закрывает вход и ждет, пока воркер допишет все, что осталось в буфере
func (l *ExecutionLog) Stop() {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return
	}
	l.closed = true
	close(l.ch)
	l.closeMu.Unlock()

	l.logger.Info("stopping execution log: flushing buffer")
	l.wg.Wait()
	l.logger.Info("execution log stopped")
}

func (l *ExecutionLog) Log(event ExecutionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	l.closeMu.RLock()
	defer l.closeMu.RUnlock()

	if l.closed {
		l.logger.Warn("execution event dropped: log is stopping", zap.String("id", event.ID))
		return
	}

	select {
	case l.ch <- event:
		l.metrics.AuditBufferFill.Set(float64(len(l.ch)))
	default:
		// Backpressure: база не успевает, событие уходит только в лог
		l.logger.Error("execution_log_buffer_overflow",
			zap.String("agent_id", event.AgentID),
			zap.String("platform_id", event.PlatformID),
			zap.Bool("success", event.Success))
	}
}

func (l *ExecutionLog) worker() {
	defer l.wg.Done()

	batch := make([]ExecutionEvent, 0, l.opts.BatchSize)
	ticker := time.NewTicker(l.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: при остановке внешний контекст уже может быть отменен
		if err := l.repo.WriteBatch(context.Background(), batch); err != nil {
			l.logger.Error("execution log flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		l.metrics.AuditBufferFill.Set(float64(len(l.ch)))
	}

	for {
		select {
		case event, ok := <-l.ch:
			if !ok {
				// Канал закрыт только после того, как все отправки завершились
				flush()
				l.logger.Info("execution log worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= l.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
