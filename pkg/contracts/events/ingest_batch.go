package events

import "time"

// IngestBatch descreve o resultado de um upsert em lote de odds ou predictions.
// É consumido pelo ingest-audit-worker e vira uma linha em core.ingest_audit.
type IngestBatch struct {
	Entity     string    `json:"entity"` // odds | predictions
	Source     string    `json:"source,omitempty"`
	Principal  string    `json:"principal"`
	Count      int       `json:"count"` // itens recebidos no request
	Inserted   int       `json:"inserted"`
	Updated    int       `json:"updated"`
	Status     string    `json:"status"` // ok | error
	Details    string    `json:"details,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	RequestID  string    `json:"request_id,omitempty"`
}
