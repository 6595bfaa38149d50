package chathub

import (
	"context"
	"time"

	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/models"

	"go.uber.org/zap"
)

const (
	eventBuffer     = 1024
	publishTimeout  = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

// publish hands a lifecycle event to the publisher goroutine without blocking.
func (m *ManagerService) publish(ev models.ChatEvent) {
	select {
	case m.events <- ev:
	default:
		logger.Warn("lifecycle event dropped, publisher is behind", zap.String("type", ev.Type))
	}
}

// Run starts the publisher that forwards lifecycle events to storage (Redis Pub/Sub
// in production) for the notification layer. It returns immediately. Only Shutdown
// stops it, after the shutdown events are queued; cancelling ctx does not.
func (m *ManagerService) Run(ctx context.Context) {
	m.runOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		m.runCancel = cancel
		go m.publishLoop(ctx)
		logger.Info("hub publisher started")
	})
}

func (m *ManagerService) publishLoop(ctx context.Context) {
	defer close(m.runDone)
	for {
		select {
		case ev := <-m.events:
			m.forward(ev)
		case <-ctx.Done():
			// flush what is already queued
			for {
				select {
				case ev := <-m.events:
					m.forward(ev)
				default:
					return
				}
			}
		}
	}
}

func (m *ManagerService) forward(ev models.ChatEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := m.Storage.PublishEvent(ctx, ev); err != nil {
		logger.Warn("publish event failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

func (m *ManagerService) stopPublisher(ctx context.Context) {
	if m.runCancel == nil {
		return
	}
	m.runCancel()
	wait, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	select {
	case <-m.runDone:
	case <-wait.Done():
		logger.Warn("publisher did not stop in time")
	}
}
