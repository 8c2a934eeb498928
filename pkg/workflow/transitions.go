package workflow

import "github.com/dukex/jobflow/pkg/models"

var transitions = map[models.Status][]models.Status{
	models.StatusSubmitted: {
		models.StatusInterview,
		models.StatusOffer,
		models.StatusRejected,
		models.StatusWithdrawn,
	},
	models.StatusInterview: {models.StatusArchived},
	models.StatusOffer:     {models.StatusArchived},
	models.StatusRejected:  {models.StatusArchived},
	models.StatusWithdrawn: {models.StatusArchived},
}

// CanTransition reports whether the transition table allows from -> to.
func CanTransition(from, to models.Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}
