// Package trust implements return_to / trust_root matching for the
// provider engine.
package trust

import (
	"net/url"
	"strings"
)

// Matcher checks return_to URLs against trust roots. A root matches
// when schemes and ports agree, the host matches exactly (or by
// subdomain suffix for "*." roots), and the return_to path sits under
// the root's path.
type Matcher struct{}

// New creates a Matcher.
func New() *Matcher {
	return &Matcher{}
}

// Matches reports whether returnTo falls under trustRoot.
func (m *Matcher) Matches(trustRoot, returnTo string) bool {
	root, err := url.Parse(trustRoot)
	if err != nil {
		return false
	}
	target, err := url.Parse(returnTo)
	if err != nil {
		return false
	}

	if root.Scheme != "http" && root.Scheme != "https" {
		return false
	}
	if root.Scheme != target.Scheme {
		return false
	}
	if root.Port() != target.Port() {
		return false
	}

	if !hostMatches(root.Hostname(), target.Hostname()) {
		return false
	}

	rootPath := root.Path
	if rootPath == "" {
		rootPath = "/"
	}
	targetPath := target.Path
	if targetPath == "" {
		targetPath = "/"
	}
	return pathMatches(rootPath, targetPath)
}

func hostMatches(rootHost, targetHost string) bool {
	if !strings.HasPrefix(rootHost, "*.") {
		return rootHost == targetHost
	}

	suffix := rootHost[1:] // keep the leading dot
	if suffix == "." || suffix == "" {
		// A bare "*." trusts the whole internet; refuse it.
		return false
	}
	return strings.HasSuffix(targetHost, suffix) || targetHost == rootHost[2:]
}

func pathMatches(rootPath, targetPath string) bool {
	if rootPath == targetPath {
		return true
	}
	if !strings.HasSuffix(rootPath, "/") {
		rootPath += "/"
	}
	return strings.HasPrefix(targetPath, rootPath)
}
