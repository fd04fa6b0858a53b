package table

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tableBatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupstore_table_batch_total",
			Help: "Total number of table batches by outcome",
		},
		[]string{"table", "operation", "status"},
	)

	tableBatchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backupstore_table_batch_items_total",
			Help: "Total number of items written or deleted by committed table batches",
		},
		[]string{"table", "operation"},
	)
)

func recordBatch(table, operation string, items int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	tableBatchTotal.WithLabelValues(table, operation, status).Inc()
	if err == nil {
		tableBatchItemsTotal.WithLabelValues(table, operation).Add(float64(items))
	}
}
