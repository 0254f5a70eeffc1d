package topics

const (
	// Ingestão (odds/predictions)
	IngestBatches = "ingest_batches"

	// Bets
	BetsRecorded = "bets_recorded"
)
