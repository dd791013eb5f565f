package metricsjob

import (
	"context"
	"time"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/internal/store"
)

// Forecast is a linear projection of when a project's remaining
// (non-terminal) tasks will clear, derived from recent throughput. It is a
// read-only supplement, not a scheduling input.
type Forecast struct {
	ProjectID            string        `json:"project_id"`
	RemainingTasks        int          `json:"remaining_tasks"`
	RecentThroughputPerDay float64     `json:"recent_throughput_per_day"`
	ProjectedCompletion   *time.Time   `json:"projected_completion,omitempty"`
}

// ProjectCompletion estimates completion by dividing the count of tasks
// not yet in a terminal state (integrated, abandoned or cancelled) by the
// project's integration throughput over the trailing window.
func ProjectCompletion(ctx context.Context, s store.Store, projectID string, window time.Duration, now time.Time) (Forecast, error) {
	tasks, err := s.Tasks().ListByProject(ctx, projectID)
	if err != nil {
		return Forecast{}, err
	}
	remaining := 0
	for _, t := range tasks {
		if t.State != domain.TaskIntegrated && t.State != domain.TaskAbandoned && t.State != domain.TaskCancelled {
			remaining++
		}
	}

	integratedInWindow := 0
	var fromID int64 = 1
	const batch = 1000
	cutoff := now.Add(-window)
	for {
		events, err := s.Events().ListFrom(ctx, projectID, "task", domain.EventTaskStateTransitioned, fromID, batch)
		if err != nil {
			return Forecast{}, err
		}
		if len(events) == 0 {
			break
		}
		for _, e := range events {
			if e.CreatedAt.Before(cutoff) {
				fromID = e.ID + 1
				continue
			}
			if toState, ok := e.Payload["to_state"].(string); ok && domain.TaskState(toState) == domain.TaskIntegrated {
				integratedInWindow++
			}
			fromID = e.ID + 1
		}
	}

	days := window.Hours() / 24
	throughput := 0.0
	if days > 0 {
		throughput = float64(integratedInWindow) / days
	}

	f := Forecast{ProjectID: projectID, RemainingTasks: remaining, RecentThroughputPerDay: throughput}
	if throughput > 0 {
		daysRemaining := float64(remaining) / throughput
		eta := now.Add(time.Duration(daysRemaining * float64(24*time.Hour)))
		f.ProjectedCompletion = &eta
	}
	return f, nil
}
