package core

// Endpoint is the result of identity discovery: where the provider
// lives and which identity it will assert. Discovery itself is outside
// this library; callers hand in an Endpoint from whatever discovery
// they run.
type Endpoint struct {
	// ClaimedID is the identity URL the user typed.
	ClaimedID string

	// ServerID is the identity the provider asserts, which differs
	// from ClaimedID when the user delegates to another provider.
	ServerID string

	// ServerURL is the provider endpoint both direct requests and
	// checkid redirects go to.
	ServerURL string
}
