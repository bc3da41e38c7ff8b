package metrics

// Ingest metric names.
const (
	IngestRecvLatency      = "bench.ingest.recv_latency_ms"
	IngestRequests         = "bench.ingest.requests"
	IngestOKs              = "bench.ingest.oks"
	IngestErrors           = "bench.ingest.errors"
	IngestUpsertedDocs     = "bench.ingest.upserted_docs"
	IngestUpsertedBytes    = "bench.ingest.upserted_bytes"
	IngestLatency          = "bench.ingest.latency_ms"
	IngestQueryByIDLatency = "bench.ingest.query_by_id_latency_ms"
	IngestFreshness        = "bench.ingest.freshness_latency_ms"
)

// Query metric names.
const (
	QueryRecvLatency = "bench.query.recv_latency_ms"
	QueryOKs         = "bench.query.oks"
	QueryErrors      = "bench.query.errors"
	QueryLatency     = "bench.query.latency_ms"
	QueryRecall      = "bench.query.recall"
)
