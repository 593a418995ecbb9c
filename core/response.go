package core

// Status is the outcome class of a completed authentication attempt.
type Status string

const (
	// StatusSuccess means the assertion verified and Identity is the
	// URL the user proved control of.
	StatusSuccess Status = "success"

	// StatusFailure means the assertion could not be verified; Message
	// says why.
	StatusFailure Status = "failure"

	// StatusCancel means the user declined at the provider.
	StatusCancel Status = "cancel"

	// StatusSetupNeeded means a checkid_immediate request needs user
	// interaction; SetupURL is where to send them.
	StatusSetupNeeded Status = "setup_needed"
)

// Response is the single tagged outcome of Consumer.Complete. Exactly
// one is produced per call, never a partial mix of variants.
type Response struct {
	Status     Status
	Identity   string
	Message    string
	SetupURL   string
	SignedArgs map[string]string
}

// Success builds a success response carrying the verified identity and
// the subset of arguments that were covered by the signature.
func Success(identity string, signedArgs map[string]string) Response {
	return Response{Status: StatusSuccess, Identity: identity, SignedArgs: signedArgs}
}

// Failure builds a failure response. identity may be empty when the
// failing attempt could not be attributed to one.
func Failure(identity, message string) Response {
	return Response{Status: StatusFailure, Identity: identity, Message: message}
}

// Cancel builds a cancellation response.
func Cancel(identity string) Response {
	return Response{Status: StatusCancel, Identity: identity}
}

// SetupNeeded builds an immediate-mode needs-interaction response.
func SetupNeeded(identity, setupURL string) Response {
	return Response{Status: StatusSetupNeeded, Identity: identity, SetupURL: setupURL}
}
