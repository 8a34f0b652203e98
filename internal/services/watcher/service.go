// Package watcher converts external change signals into debounced status
// refreshes. It only guarantees a minimum interval between refreshes; the
// observation mechanism itself lives with the caller.
package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/Stonelukas/curator/internal/common"
	"github.com/Stonelukas/curator/internal/interfaces"
)

// Service coalesces change signals and drives tracker refreshes
type Service struct {
	tracker interfaces.StatusService
	config  *common.WatcherConfig
	logger  arbor.ILogger

	mu          sync.Mutex
	lastRefresh time.Time
	pending     bool
	stopCh      chan struct{}
	signalCh    chan struct{}
	started     bool
}

// NewService creates a change watcher
func NewService(tracker interfaces.StatusService, config *common.WatcherConfig, events interfaces.EventService, logger arbor.ILogger) *Service {
	s := &Service{
		tracker:  tracker,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		signalCh: make(chan struct{}, 1),
	}

	if events != nil {
		_ = events.Subscribe(interfaces.EventPageChanged, func(ctx context.Context, event interfaces.Event) error {
			s.Signal()
			return nil
		})
	}

	return s
}

// Start launches the debounce loop
func (s *Service) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.loop()
	s.logger.Info().
		Str("min_interval", s.config.MinRefreshInterval.String()).
		Msg("Change watcher started")
}

// Stop terminates the debounce loop
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.started = false
	close(s.stopCh)
}

// Signal notes that the observed page may have changed. Signals arriving
// faster than the minimum interval collapse into one refresh.
func (s *Service) Signal() {
	select {
	case s.signalCh <- struct{}{}:
	default:
	}
}

func (s *Service) loop() {
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.signalCh:
		}

		s.mu.Lock()
		wait := s.config.MinRefreshInterval - time.Since(s.lastRefresh)
		s.mu.Unlock()

		if wait > 0 {
			select {
			case <-s.stopCh:
				return
			case <-time.After(wait):
			}
			// Drain signals that arrived during the debounce window
			select {
			case <-s.signalCh:
			default:
			}
		}

		s.refresh()
	}
}

func (s *Service) refresh() {
	s.mu.Lock()
	s.lastRefresh = time.Now()
	s.mu.Unlock()

	if _, err := s.tracker.Refresh(context.Background()); err != nil {
		s.logger.Debug().Err(err).Msg("Watcher refresh skipped")
	}
}
