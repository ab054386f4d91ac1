package binlog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avrorouter_binlog_events_total",
		Help: "Binlog events processed, by event type.",
	}, []string{"type"})

	rowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avrorouter_rows_total",
		Help: "Row images written to container files, by table and event type.",
	}, []string{"table", "event_type"})

	blocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avrorouter_blocks_flushed_total",
		Help: "Container blocks flushed, by table.",
	}, []string{"table"})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avrorouter_pass_outcomes_total",
		Help: "Outcomes of passes over binlog files.",
	}, []string{"outcome"})

	tableErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avrorouter_table_errors_total",
		Help: "Events skipped because of table scoped errors, by table.",
	}, []string{"table"})

	positionGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "avrorouter_binlog_position",
		Help: "Offset of the next event in the current binlog file.",
	}, []string{"file"})
)
