package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolCollector exports pgxpool statistics at scrape time.
type PoolCollector struct {
	pool        *pgxpool.Pool
	connections *prometheus.Desc
	acquires    *prometheus.Desc
	waits       *prometheus.Desc
}

// NewPoolCollector returns a collector for pool. Register it once per pool.
func NewPoolCollector(pool *pgxpool.Pool) *PoolCollector {
	return &PoolCollector{
		pool: pool,
		connections: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "db", "pool_connections"),
			"Number of database connections by state",
			[]string{"state"}, nil,
		),
		acquires: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "db", "pool_acquires_total"),
			"Connections acquired from the pool",
			nil, nil,
		),
		waits: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "db", "pool_empty_acquires_total"),
			"Acquires that had to wait for a free connection",
			nil, nil,
		),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.acquires
	ch <- c.waits
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.pool.Stat()

	for state, v := range map[string]int32{
		"in_use":       stats.AcquiredConns(),
		"idle":         stats.IdleConns(),
		"max":          stats.MaxConns(),
		"constructing": stats.ConstructingConns(),
	} {
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(v), state)
	}
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(stats.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.waits, prometheus.CounterValue, float64(stats.EmptyAcquireCount()))
}
