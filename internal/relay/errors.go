package relay

import "fmt"

// ConfigurationError means the state file is missing or incomplete.
type ConfigurationError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s; populate the [twitter] section with your consumer and access token secrets (run `tweetstream init` for a template)",
		e.Path, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// CredentialsError means the provider did not accept the secrets.
type CredentialsError struct {
	Err error
}

func (e *CredentialsError) Error() string {
	return "unable to log in to twitter with supplied credentials; please double-check and try again"
}

func (e *CredentialsError) Unwrap() error { return e.Err }

// DependencyMissingError means a collaborator the runner needs was not
// provided.
type DependencyMissingError struct {
	Capability string
}

func (e *DependencyMissingError) Error() string {
	return fmt.Sprintf("%s is not available", e.Capability)
}

// DeliveryError means the destination refused an item. Items before it
// were delivered.
type DeliveryError struct {
	ItemID int64
	Msg    string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver tweet %d: %s", e.ItemID, e.Msg)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
