package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(buildInfo, cacheLookupsTotal, pgPoolConns) }

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "omnicoder_build_info",
			Help: "Always 1; labels carry the running version and commit.",
		},
		[]string{"version", "commit"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Reads answered by redis (hit) or by the backing store (miss).",
		},
		[]string{"cache", "result"},
	)

	pgPoolConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pg_pool_connections",
			Help: "pgxpool connections by state.",
		},
		[]string{"state"},
	)
)

func SetBuildInfo(version, commit string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit).Set(1)
}

func ObserveCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(norm(cache), result).Inc()
}

// SetPoolConns publishes a pgxpool.Stat snapshot.
func SetPoolConns(total, idle, acquired int32) {
	pgPoolConns.WithLabelValues("total").Set(float64(total))
	pgPoolConns.WithLabelValues("idle").Set(float64(idle))
	pgPoolConns.WithLabelValues("acquired").Set(float64(acquired))
}
