package types

// Event is a structured notification describing an accepted state change.
// Attributes are flat string pairs so downstream sinks (audit logs, indexers,
// webhooks) can consume them without schema knowledge.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
