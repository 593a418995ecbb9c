package ports

// TrustMatcher decides whether a return_to URL falls under a trust
// root. The server engine refuses to sign assertions for return_to
// URLs outside the requesting site's declared root.
type TrustMatcher interface {
	Matches(trustRoot, returnTo string) bool
}
