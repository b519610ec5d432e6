package cron

import (
	"log"

	rcron "github.com/robfig/cron/v3"
)

// Service schedules the recurring maintenance jobs. Thin wrapper around
// robfig/cron with second-granularity expressions.
type Service struct {
	cron *rcron.Cron
}

func NewService() *Service {
	return &Service{cron: rcron.New(rcron.WithSeconds())}
}

// Add registers fn under a six-field cron expression.
func (s *Service) Add(name, expr string, fn func()) error {
	_, err := s.cron.AddFunc(expr, func() {
		log.Printf("[cron] running %s", name)
		fn()
	})
	if err != nil {
		return err
	}
	log.Printf("[cron] registered %s (%s)", name, expr)
	return nil
}

func (s *Service) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
