package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/kardianos/service"
	"go.uber.org/zap"
)

// ServiceName is the name the background scanner registers under
const ServiceName = "cptop-scan"

// Service runs scans on an interval. It implements service.Interface so it
// can be installed as a user-level background service.
type Service struct {
	scanner  *Scanner
	opts     Options
	interval time.Duration
	log      *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a service that scans every interval
func NewService(s *Scanner, opts Options, interval time.Duration) *Service {
	return &Service{scanner: s, opts: opts, interval: interval, log: s.log}
}

// ServiceConfig describes the installed service
func ServiceConfig(interval time.Duration, configPath string) *service.Config {
	args := []string{"scan", "service", "run", fmt.Sprintf("--interval=%s", interval)}
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	return &service.Config{
		Name:        ServiceName,
		DisplayName: "cptop scan service",
		Description: "Periodically ingests GitHub Copilot CLI logs for cptop",
		Arguments:   args,
		Option:      service.KeyValue{"UserService": true},
	}
}

func (s *Service) Start(service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.Loop(ctx)
	}()
	return nil
}

func (s *Service) Stop(service.Service) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	return nil
}

// Loop scans immediately and then on every tick until ctx is done
func (s *Service) Loop(ctx context.Context) {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	if _, err := s.scanner.Run(ctx, s.opts); err != nil && ctx.Err() == nil {
		s.log.Error("scan failed", zap.Error(err))
	}
}
