package queue

const (
	TypePipelineRun    = "pipeline:run"
	TypeRefineRun      = "refine:run"
	TypeRetentionSweep = "retention:sweep"
)

type PipelineRunPayload struct {
	DocumentID string `json:"document_id"`
	TenantID   string `json:"tenant_id"`
}

type RefineRunPayload struct {
	DocumentID string `json:"document_id"`
	TenantID   string `json:"tenant_id"`
}
