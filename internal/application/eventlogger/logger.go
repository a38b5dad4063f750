package eventlogger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreschagin/eventlogger/internal/application/port"
	"github.com/dreschagin/eventlogger/internal/domain/entity"
	"github.com/dreschagin/eventlogger/internal/domain/valueobject"
	"github.com/dreschagin/eventlogger/pkg/logger"
)

// FlushEventName зарезервированное имя события для ошибок пакетной отправки
const FlushEventName = "__batch_flush__"

// Options задает необязательных участников конвейера
type Options struct {
	Identity port.IdentityProvider
	Local    *LocalSink
	Metrics  port.PipelineMetrics
	Logger   *logger.Logger
	Clock    func() time.Time
}

// EventLogger координирует фильтрацию, обогащение, локальную запись и доставку событий в удаленное хранилище
type EventLogger struct {
	cfg      atomic.Pointer[Config]
	remote   port.RemoteSink
	identity port.IdentityProvider
	local    *LocalSink
	metrics  port.PipelineMetrics
	logger   *logger.Logger
	now      func() time.Time

	queue batchQueue

	schedMu sync.Mutex
	sched   *flushScheduler
	closed  bool

	tasks sync.WaitGroup
}

// New создает логгер событий. remote может быть nil: тогда удаленная запись
// завершается ошибкой ErrRemoteUninitialized.
func New(cfg Config, remote port.RemoteSink, opts Options) *EventLogger {
	if remote == nil {
		remote = port.UnconfiguredSink{}
	}
	if opts.Local == nil {
		opts.Local = NewLocalSink(nil, nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = port.NopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	l := &EventLogger{
		remote:   remote,
		identity: opts.Identity,
		local:    opts.Local,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With("component", "eventlogger"),
		now:      opts.Clock,
	}
	cfg.normalize()
	l.cfg.Store(&cfg)

	if cfg.BatchMode() {
		l.ensureScheduler()
	}

	return l
}

// Config возвращает активную конфигурацию
func (l *EventLogger) Config() Config {
	return *l.cfg.Load()
}

// QueueLength возвращает число записей, ожидающих пакетной отправки
func (l *EventLogger) QueueLength() int {
	return l.queue.len()
}

// RemoteReady проверяет готовность удаленного хранилища
func (l *EventLogger) RemoteReady(ctx context.Context) error {
	return l.remote.Ready(ctx)
}

// UpdateConfig атомарно применяет изменения к активной конфигурации.
// Если выключается пакетный режим или удаленная запись, накопленная очередь
// отправляется по прежней конфигурации, дождавшись идущей отправки.
func (l *EventLogger) UpdateConfig(ctx context.Context, o Overrides) Config {
	var prev, next Config
	for {
		current := l.cfg.Load()
		updated := current.CopyWith(o)
		if l.cfg.CompareAndSwap(current, &updated) {
			prev, next = *current, updated
			break
		}
	}

	l.logger.Info("Config updated", "batch_mode", next.BatchMode(), "remote", next.RemoteEnabled(), "min_level", next.MinimumLevel())

	if prev.BatchMode() && prev.RemoteEnabled() && (!next.BatchMode() || !next.RemoteEnabled()) {
		l.drain(ctx, prev, port.FlushTriggerReconfigure)
	}
	if next.BatchMode() {
		l.ensureScheduler()
	}

	return next
}

// Log обрабатывает одно событие и ждет результата удаленной записи
func (l *EventLogger) Log(ctx context.Context, name string, level valueobject.Level, params map[string]interface{}) Result {
	cfg := l.Config()

	record, ok := l.accept(ctx, cfg, name, level, params)
	if !ok {
		return Ok()
	}
	if !cfg.RemoteEnabled() {
		l.metrics.EventProcessed(level.String(), "local_only")
		return Ok()
	}

	return l.deliver(ctx, cfg, record)
}

// LogSync выполняет фильтрацию и локальную запись синхронно, а удаленную
// доставку запускает в отдельной горутине. Результат приходит в onComplete
// (если задан) и в возвращаемый буферизованный канал, который можно не читать.
// Отмена ctx не прерывает запущенную доставку.
func (l *EventLogger) LogSync(ctx context.Context, name string, level valueobject.Level, params map[string]interface{}, onComplete func(Result)) <-chan Result {
	done := make(chan Result, 1)
	cfg := l.Config()

	record, ok := l.accept(ctx, cfg, name, level, params)
	if !ok || !cfg.RemoteEnabled() {
		if ok {
			l.metrics.EventProcessed(level.String(), "local_only")
		}
		l.complete(done, onComplete, Ok())
		return done
	}

	detached := context.WithoutCancel(ctx)
	l.tasks.Add(1)
	go func() {
		defer l.tasks.Done()
		l.complete(done, onComplete, l.deliver(detached, cfg, record))
	}()

	return done
}

// FlushBatch принудительно отправляет накопленный пакет.
// Пустая очередь, выключенный пакетный режим или уже идущая отправка дают успех без записи.
func (l *EventLogger) FlushBatch(ctx context.Context) Result {
	return l.flush(ctx, l.Config(), port.FlushTriggerManual)
}

// Close останавливает планировщик, дожидается фоновых доставок LogSync
// и отправляет остаток очереди. После Close записи пишутся напрямую, без очереди.
func (l *EventLogger) Close(ctx context.Context) error {
	l.schedMu.Lock()
	l.closed = true
	sched := l.sched
	l.sched = nil
	l.schedMu.Unlock()

	if sched != nil {
		sched.stop()
	}

	waited := make(chan struct{})
	go func() {
		l.tasks.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return fmt.Errorf("waiting for pending deliveries: %w", ctx.Err())
	}

	if res := l.drain(ctx, l.Config(), port.FlushTriggerClose); !res.Success {
		return fmt.Errorf("final flush: %s", res.Error)
	}

	l.logger.Info("Event logger closed")
	return nil
}

// accept выполняет шаги 1-3: фильтр уровня, обогащение и локальную запись.
// Возвращает false, если событие отфильтровано.
func (l *EventLogger) accept(ctx context.Context, cfg Config, name string, level valueobject.Level, params map[string]interface{}) (*entity.Record, bool) {
	// 1. Фильтр уровня: ниже порога событие молча пропускается
	if !valueobject.ShouldLog(level, cfg.MinimumLevel()) {
		l.metrics.EventProcessed(level.String(), "filtered")
		return nil, false
	}

	// 2. Обогащение работает с копией параметров
	event := entity.NewEvent(name, level, params)
	record := Enrich(event, cfg, l.identity)

	// 3. Локальная запись получает параметры вызывающего кода без обогащения
	if cfg.LocalEnabled() {
		l.local.Emit(cfg, event, l.identity, UserIDFromContext(ctx))
	}

	return record, true
}

// deliver выполняет шаг 4: постановку в очередь или прямую запись
func (l *EventLogger) deliver(ctx context.Context, cfg Config, record *entity.Record) Result {
	level := record.Level().String()

	if cfg.BatchMode() && !l.isClosed() {
		size := l.queue.enqueue(record, l.now())
		l.metrics.QueueDepth(size)
		l.ensureScheduler()

		// Конфигурация сменилась после чтения cfg: очередь больше никто не отправит
		if current := l.Config(); !current.BatchMode() || !current.RemoteEnabled() || l.isClosed() {
			res := l.drain(ctx, cfg, port.FlushTriggerReconfigure)
			l.metrics.EventProcessed(level, outcome(res))
			return res
		}

		if size < cfg.BatchSize() {
			l.metrics.EventProcessed(level, "queued")
			return Ok()
		}

		// Ошибки пакетной отправки сообщаются внутри flush под FlushEventName
		res := l.flush(ctx, cfg, port.FlushTriggerSize)
		l.metrics.EventProcessed(level, outcome(res))
		return res
	}

	err := l.write(ctx, cfg, port.WriteModeSingle, ErrRemoteWriteFailed, func(ctx context.Context) error {
		return l.remote.WriteOne(ctx, cfg.Collection(), record)
	})
	if err != nil {
		l.metrics.EventProcessed(level, errorKind(err))
		l.report(cfg, record.Name(), err)
		return Failure(err.Error())
	}

	l.metrics.EventProcessed(level, "delivered")
	return Ok()
}

// flush отправляет снимок очереди одной атомарной записью.
// Без пакетного режима или удаленной записи, при пустой очереди
// и во время чужой отправки ничего не пишет.
func (l *EventLogger) flush(ctx context.Context, cfg Config, trigger string) Result {
	if !cfg.BatchMode() || !cfg.RemoteEnabled() {
		return Ok()
	}

	snapshot, ok := l.queue.beginFlush()
	if !ok {
		return Ok()
	}
	return l.submit(ctx, cfg, trigger, snapshot)
}

// drain отправляет остаток очереди при любом режиме, дождавшись идущей отправки
func (l *EventLogger) drain(ctx context.Context, cfg Config, trigger string) Result {
	snapshot, ok := l.queue.awaitFlush(ctx)
	if !ok {
		if n := l.queue.len(); n > 0 {
			err := fmt.Errorf("%w: %d record(s) left in queue: %v", ErrBatchFlushFailed, n, ctx.Err())
			l.report(cfg, FlushEventName, err)
			return Failure(err.Error())
		}
		return Ok()
	}
	return l.submit(ctx, cfg, trigger, snapshot)
}

// submit пишет снимок с повторами.
// При исчерпании попыток снимок отбрасывается и не возвращается в очередь.
func (l *EventLogger) submit(ctx context.Context, cfg Config, trigger string, snapshot []*entity.Record) Result {
	defer l.queue.endFlush()

	l.metrics.QueueDepth(l.queue.len())

	err := l.write(ctx, cfg, port.WriteModeBatch, ErrBatchFlushFailed, func(ctx context.Context) error {
		return l.remote.WriteBatch(ctx, cfg.Collection(), snapshot)
	})
	l.metrics.BatchFlushed(trigger, len(snapshot), err == nil)

	if err != nil {
		l.logger.Warn("Batch dropped", "trigger", trigger, "size", len(snapshot), "error", err.Error())
		l.report(cfg, FlushEventName, err)
		return Failure(err.Error())
	}

	l.logger.Debug("Batch flushed", "trigger", trigger, "size", len(snapshot))
	return Ok()
}

// write проверяет готовность хранилища и выполняет op с повторами.
// Отмена ctx вызывающего не прерывает попытки: в очереди лежат и чужие записи.
func (l *EventLogger) write(ctx context.Context, cfg Config, mode string, kind error, op func(ctx context.Context) error) error {
	ctx = context.WithoutCancel(ctx)
	if err := l.remote.Ready(ctx); err != nil {
		return classify(fmt.Errorf("%w: %v", port.ErrSinkNotInitialized, err), kind, 0)
	}

	attempts := 0
	err := Retry(ctx, cfg.MaxRetries(), cfg.RetryDelay(), func(ctx context.Context) error {
		attempts++
		err := op(ctx)
		l.metrics.WriteAttempt(mode, err == nil)
		if err != nil {
			l.logger.Debug("Remote write attempt failed", "mode", mode, "attempt", attempts, "error", err.Error())
		}
		return err
	})

	return classify(err, kind, attempts)
}

// report передает ошибку глобальному обработчику. Паника обработчика не выходит наружу.
func (l *EventLogger) report(cfg Config, eventName string, err error) {
	callback := cfg.OnError()
	if callback == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("Error callback panicked", "event", eventName, "panic", r)
		}
	}()
	callback(eventName, err.Error())
}

func (l *EventLogger) complete(done chan<- Result, onComplete func(Result), res Result) {
	done <- res
	if onComplete == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("Completion callback panicked", "panic", r)
		}
	}()
	onComplete(res)
}

func (l *EventLogger) isClosed() bool {
	l.schedMu.Lock()
	defer l.schedMu.Unlock()
	return l.closed
}

func outcome(res Result) string {
	if res.Success {
		return "delivered"
	}
	return "batch_failed"
}

// ensureScheduler запускает планировщик, если пакетный режим включен и он еще не работает
func (l *EventLogger) ensureScheduler() {
	l.schedMu.Lock()
	defer l.schedMu.Unlock()

	if l.sched != nil || l.closed || !l.Config().BatchMode() {
		return
	}

	l.sched = newFlushScheduler(
		func() time.Duration { return l.Config().BatchTimeout() },
		func() bool { return l.Config().BatchMode() },
		l.onTimer,
		l.detachScheduler,
	)
	l.sched.start()
}

func (l *EventLogger) detachScheduler(s *flushScheduler) {
	l.schedMu.Lock()
	if l.sched == s {
		l.sched = nil
	}
	l.schedMu.Unlock()
}

// onTimer отправляет пакет, если с момента его начала прошел полный таймаут
func (l *EventLogger) onTimer() {
	cfg := l.Config()
	if !l.queue.dueForFlush(l.now(), cfg.BatchTimeout()) {
		return
	}
	l.flush(context.Background(), cfg, port.FlushTriggerTimer)
}

type userIDKey struct{}

// WithUserID помечает контекст идентификатором пользователя для локальной записи
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext возвращает идентификатор, заданный через WithUserID
func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}
