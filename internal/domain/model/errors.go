package model

import "fmt"

// CredentialError reports a missing or corrupted secret on a credential
// record. The store repairs corruption before returning one of these.
type CredentialError struct {
	CredentialID string
	Reason       string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential %s: %s", e.CredentialID, e.Reason)
}

// AuthError reports a signing or token-exchange failure.
type AuthError struct {
	CredentialID string
	Cause        error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failure for credential %s: %v", e.CredentialID, e.Cause)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// NotFoundError reports that no matching release, record, or package exists.
// "Not found" is an ordinary branch, not a control-flow exception.
type NotFoundError struct {
	Kind string // "release", "credential", "package"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// NetworkError reports a timeout, connection failure, or non-2xx response
// from the remote host.
type NetworkError struct {
	Op         string
	StatusCode int
	Cause      error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// ArchiveError reports a downloaded archive with a bad structure or a missing
// marker file.
type ArchiveError struct {
	Reason string
}

func (e *ArchiveError) Error() string { return "bad archive: " + e.Reason }

// InstallError reports which pipeline stage failed and why. Stage is one of
// the InstallStage values.
type InstallError struct {
	Stage InstallStage
	Cause error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install failed at %s: %v", e.Stage, e.Cause)
}

func (e *InstallError) Unwrap() error { return e.Cause }
