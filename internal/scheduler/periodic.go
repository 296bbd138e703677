package scheduler

import (
	"fmt"

	"chatflow_backend/internal/jobs"
	"chatflow_backend/platform/config"
	"chatflow_backend/platform/logger"
)

// Registrar installs cron-driven jobs.
type Registrar interface {
	Register(spec, jobType string, payload any) (string, error)
}

// RegisterPeriodic installs re-engagement, cleanup and outbox dispatch. An
// empty spec disables that job.
func RegisterPeriodic(r Registrar, cfg config.ScheduleConfig, log *logger.Logger) error {
	entries := []struct {
		jobType string
		spec    string
	}{
		{jobs.TypeReengagement, cfg.GetReengagementSchedule()},
		{jobs.TypeCleanup, cfg.GetCleanupSchedule()},
		{jobs.TypeNotificationDue, cfg.GetOutboxSchedule()},
	}

	for _, e := range entries {
		if e.spec == "" {
			log.Info("periodic job disabled", "jobType", e.jobType)
			continue
		}
		id, err := r.Register(e.spec, e.jobType, struct{}{})
		if err != nil {
			return fmt.Errorf("register periodic %s: %w", e.jobType, err)
		}
		log.Info("periodic job registered", "jobType", e.jobType, "spec", e.spec, "entryId", id)
	}
	return nil
}
