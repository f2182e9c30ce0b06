package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/pricesync/internal/core"
	mw "github.com/JonMunkholm/pricesync/internal/web/middleware"
)

// withRequestMetadata carries the client address and User-Agent into the
// service for run logging.
func withRequestMetadata(r *http.Request) context.Context {
	ctx := core.ContextWithClientIP(r.Context(), mw.ClientIP(r))
	return core.ContextWithUserAgent(ctx, r.UserAgent())
}
