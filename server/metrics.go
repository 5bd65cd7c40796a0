package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tokensStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ragrelay",
		Name:      "tokens_streamed_total",
		Help:      "Answer tokens delivered to clients.",
	})

	// RetrievalFailures counts search calls that returned an error during
	// fan-out. Wired into the retrieval config at startup.
	RetrievalFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ragrelay",
		Name:      "retrieval_failures_total",
		Help:      "Failed search calls during retrieval fan-out.",
	}, []string{"database"})
)
