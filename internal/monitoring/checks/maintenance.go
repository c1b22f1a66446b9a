package checks

import (
	"context"
	"strings"
	"time"

	"github.com/charlesng35/dbcache/internal/app/maintenance"
	"github.com/charlesng35/dbcache/internal/monitoring"
)

const defaultMaintenanceMaxAge = time.Hour

// JobReporter exposes maintenance job run history.
type JobReporter interface {
	Status() []maintenance.JobStatus
}

// Maintenance verifies that background jobs succeed and have run within maxAge.
// When maxAge is zero a one hour window is used.
func Maintenance(reporter JobReporter, maxAge time.Duration) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}

	return monitoring.NewCheck("maintenance", func(ctx context.Context) monitoring.ProbeResult {
		if reporter == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "maintenance disabled"}
		}

		jobs := reporter.Status()
		if len(jobs) == 0 {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "no maintenance runs yet"}
		}

		now := time.Now()
		status := monitoring.StatusUp
		var failures []string

		for _, job := range jobs {
			if job.ConsecutiveFailures > 0 {
				status = worstStatus(status, monitoring.StatusDegraded)
				failures = append(failures, job.Job+": "+job.LastError)
			}
			if now.Sub(job.LastRunAt) > maxAge {
				status = worstStatus(status, monitoring.StatusDegraded)
				failures = append(failures, job.Job+": stale run "+job.LastRunAt.UTC().Format(time.RFC3339))
			}
		}

		return monitoring.ProbeResult{
			Status:  status,
			Details: strings.Join(failures, "; "),
		}
	})
}

func worstStatus(current, candidate monitoring.ProbeStatus) monitoring.ProbeStatus {
	if current == monitoring.StatusDown || candidate == monitoring.StatusDown {
		return monitoring.StatusDown
	}
	if current == monitoring.StatusDegraded || candidate == monitoring.StatusDegraded {
		return monitoring.StatusDegraded
	}
	return monitoring.StatusUp
}
