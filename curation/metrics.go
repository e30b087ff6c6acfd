package curation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var voteCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "curation_votes_cast",
	Help: "Number of reviewer votes recorded",
}, []string{"verdict"})

var outcomeCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "curation_post_transitions",
	Help: "Number of post status transitions committed",
}, []string{"status"})

var publishFailureCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "curation_publish_failures",
	Help: "Number of committed decisions whose publish side effects failed",
})

var duplicateActionCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "curation_duplicate_actions",
	Help: "Number of interactions rejected by the duplicate-action guard",
})

var submissionCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "curation_submissions_created",
	Help: "Number of confirmed submissions inserted",
})
