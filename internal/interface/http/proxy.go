package http

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/clinic-console/internal/infra/config"
)

// BackendProxy forwards /backend/* to the clinic REST API through the
// authorization transport, so local tools get bearer tokens and proactive
// refresh without holding credentials themselves.
type BackendProxy struct {
	proxy  *httputil.ReverseProxy
	logger *slog.Logger
}

// NewBackendProxy targets cfg.Backend.BaseURL.
func NewBackendProxy(cfg *config.Config, transport http.RoundTripper, logger *slog.Logger) (*BackendProxy, error) {
	target, err := url.Parse(strings.TrimRight(cfg.Backend.BaseURL, "/"))
	if err != nil {
		return nil, err
	}
	p := &BackendProxy{logger: logger.With("component", "http.proxy")}
	p.proxy = &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.Out.Header.Del("Authorization")
			r.Out.Header.Del("Cookie")
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			p.logger.Warn("backend proxy failed", "path", r.URL.Path, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":{"code":"network_error","message":"clinic backend unreachable"}}`))
		},
	}
	return p, nil
}

// Handle serves ANY /backend/*path.
func (p *BackendProxy) Handle(c *gin.Context) {
	req := c.Request.Clone(c.Request.Context())
	req.URL.Path = c.Param("path")
	req.URL.RawPath = ""
	p.proxy.ServeHTTP(c.Writer, req)
}
