package model

// Scope carries the tenant and user identity a workflow executes under.
// The orchestrator threads it through every engine and into every
// executor submission so downstream services can enforce isolation.
type Scope struct {
	TenantID string `json:"tenant_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}
