package tracker

import "ClaimSync/internal/models"

var transitions = map[models.JobStatus][]models.JobStatus{
	models.JobPending:    {models.JobProcessing},
	models.JobProcessing: {models.JobCompleted, models.JobFailed, models.JobPartial},
	models.JobFailed:     {models.JobProcessing},
	models.JobPartial:    {models.JobProcessing},
	models.JobCompleted:  {models.JobProcessing},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to models.JobStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Outcome decides the final status of a run from its row counts. A run with
// no data rows at all completes.
func Outcome(imported, failed int) models.JobStatus {
	switch {
	case failed == 0:
		return models.JobCompleted
	case imported > 0:
		return models.JobPartial
	default:
		return models.JobFailed
	}
}
