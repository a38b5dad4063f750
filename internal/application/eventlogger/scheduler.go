package eventlogger

import (
	"sync"
	"time"
)

// flushScheduler периодически проверяет, не пора ли отправить пакет по таймауту.
// Между проверками спит полный интервал и не просыпается раньше из-за новых событий.
type flushScheduler struct {
	interval func() time.Duration
	enabled  func() bool
	tick     func()
	onExit   func(*flushScheduler)

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newFlushScheduler(interval func() time.Duration, enabled func() bool, tick func(), onExit func(*flushScheduler)) *flushScheduler {
	return &flushScheduler{
		interval: interval,
		enabled:  enabled,
		tick:     tick,
		onExit:   onExit,
		stopCh:   make(chan struct{}),
	}
}

func (s *flushScheduler) start() {
	s.wg.Add(1)
	go s.loop()
}

// stop останавливает цикл и дожидается его завершения. Повторный вызов безопасен.
func (s *flushScheduler) stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *flushScheduler) loop() {
	defer s.wg.Done()

	for {
		// Интервал перечитывается на каждом цикле: конфигурация могла смениться
		timer := time.NewTimer(s.interval())
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		// Пакетный режим выключили: планировщик завершает себя сам
		if !s.enabled() {
			if s.onExit != nil {
				s.onExit(s)
			}
			return
		}

		s.tick()
	}
}
