package catalog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var catalogOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "imagecat_catalog_ops_total",
	Help: "Catalog operations by operation and outcome.",
}, []string{"op", "outcome"})

var refcountQueries = promauto.NewCounter(prometheus.CounterOpts{
	Name: "imagecat_refcount_queries_total",
	Help: "Datacenter refcount aggregate queries issued.",
})

func observeOp(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	catalogOps.WithLabelValues(op, outcome).Inc()
}
