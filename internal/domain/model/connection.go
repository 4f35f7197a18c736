package model

// ConnectionState is the collaborator-facing summary of a credential's
// health. Boundary code always resolves to one of these four values, even
// when the underlying call fails.
type ConnectionState string

const (
	ConnectionNotConfigured ConnectionState = "not_configured"
	ConnectionAppCreated    ConnectionState = "app_created"
	ConnectionInstalled     ConnectionState = "installed"
	ConnectionError         ConnectionState = "connection_error"
)

// ConnectionStatus carries the state plus a non-leaking human message and
// optional details (account slug, repository count). Raw provider error text
// is logged, never placed here.
type ConnectionStatus struct {
	State   ConnectionState   `json:"state"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}
