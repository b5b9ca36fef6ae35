package providers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lepinkainen/coverfinder/internal/ratelimit"
	"github.com/lepinkainen/coverfinder/internal/testutil"
)

// testOptions points an adapter at a test server with an unthrottled limiter.
func testOptions(t *testing.T, handler http.Handler) (*httptest.Server, []Option) {
	t.Helper()
	server := testutil.NewIPv4TestServer(t, handler)
	return server, []Option{
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
		WithLimiter(ratelimit.New("test", 1000)),
	}
}
