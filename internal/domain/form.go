package domain

// FormConfig binds a logical intake form to its outbound endpoints.
type FormConfig struct {
	// ID is the configuration entry's own stable identifier.
	ID string
	// FormID is the logical intake-source identifier submissions arrive with.
	FormID string
	Name   string
	// Enabled gates the whole form; disabled forms are never dispatched.
	Enabled   bool
	Endpoints []Endpoint
}
