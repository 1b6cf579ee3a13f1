package app

import (
	"context"
	"sync"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/service"
	"go.uber.org/zap"
)

type Sweeper interface {
	AdvanceLapsed(ctx context.Context) (service.SweepResult, error)
}

type NotificationDeliverer interface {
	DeliverPending(ctx context.Context) (int, error)
}

// Scheduler управляет фоновыми задачами: sweep просроченных записей и доставка уведомлений
type Scheduler struct {
	sweeper   Sweeper
	deliverer NotificationDeliverer // nil, если уведомления выключены
	interval  time.Duration
	logger    *zap.Logger
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewScheduler(sweeper Sweeper, deliverer NotificationDeliverer, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		sweeper:   sweeper,
		deliverer: deliverer,
		interval:  interval,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start запускает фоновые задачи
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background scheduler", zap.Duration("interval", s.interval))

	s.wg.Add(1)
	go s.runSweepTask(ctx)

	if s.deliverer != nil {
		s.wg.Add(1)
		go s.runDeliveryTask(ctx)
	}
}

// Stop останавливает задачи и ждёт завершения текущего прохода
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping background scheduler")
		close(s.stopChan)
	})
	s.wg.Wait()
}

func (s *Scheduler) runSweepTask(ctx context.Context) {
	defer s.wg.Done()

	// Первый проход сразу при старте
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			s.logger.Info("Lapse sweep task stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Lapse sweep task cancelled")
			return
		}
	}
}

// Итоги прохода пишет сам LapseSweeper, здесь только ошибки
func (s *Scheduler) sweep(ctx context.Context) {
	if _, err := s.sweeper.AdvanceLapsed(ctx); err != nil {
		s.logger.Error("Lapse sweep failed", zap.Error(err))
	}
}

// Уведомления опрашиваются чаще sweep'а, но не реже раза в минуту
func (s *Scheduler) deliveryInterval() time.Duration {
	if s.interval < time.Minute {
		return s.interval
	}
	return time.Minute
}

func (s *Scheduler) runDeliveryTask(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.deliveryInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if sent, err := s.deliverer.DeliverPending(ctx); err != nil {
				s.logger.Warn("Notification delivery interrupted", zap.Int("sent", sent), zap.Error(err))
			}
		case <-s.stopChan:
			s.logger.Info("Notification task stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}
