package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/openid/server"
)

// AuthorizePolicy decides whether the current request is allowed to
// assert an identity. Interactive provider authentication is outside
// this library; deployments plug their own policy in.
type AuthorizePolicy func(c *gin.Context, identity string) bool

// AllowIdentities builds a policy that approves exactly the listed
// identity URLs.
func AllowIdentities(identities ...string) AuthorizePolicy {
	allowed := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		allowed[id] = struct{}{}
	}
	return func(_ *gin.Context, identity string) bool {
		_, ok := allowed[identity]
		return ok
	}
}

// OPHandlers contains the identity-provider HTTP handlers.
type OPHandlers struct {
	server *server.Server
	policy AuthorizePolicy
}

// NewOPHandlers creates provider handlers around the engine and an
// authorization policy.
func NewOPHandlers(srv *server.Server, policy AuthorizePolicy) *OPHandlers {
	return &OPHandlers{server: srv, policy: policy}
}

// Direct handles POSTed direct requests: associate and
// check_authentication. Replies are KV-form text/plain bodies.
func (h *OPHandlers) Direct(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form body"})
		return
	}
	form := c.Request.PostForm

	var resp *server.DirectResponse
	var err error
	switch form.Get("openid.mode") {
	case "associate":
		resp, err = h.server.Associate(c.Request.Context(), form)
	case "check_authentication":
		resp, err = h.server.CheckAuthentication(c.Request.Context(), form)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported openid.mode"})
		return
	}

	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "request failed"})
		return
	}
	c.Data(resp.Code, "text/plain; charset=utf-8", []byte(resp.Body))
}

// CheckID handles browser-carried checkid_setup and checkid_immediate
// requests.
func (h *OPHandlers) CheckID(c *gin.Context) {
	query := c.Request.URL.Query()
	authorized := h.policy(c, query.Get("openid.identity"))

	result, err := h.server.CheckID(c.Request.Context(), query, authorized)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "request failed"})
		return
	}

	switch result.Action {
	case server.ActionRedirect:
		c.Redirect(http.StatusFound, result.RedirectURL)
	case server.ActionNeedsAuth:
		// This deployment has no interactive login page; immediate
		// mode with a setup URL is the supported path.
		c.JSON(http.StatusNotImplemented, gin.H{"error": "interactive authentication required"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": result.Message})
	}
}
