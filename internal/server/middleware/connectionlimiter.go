package middleware

import (
	"log/slog"
	"net/http"

	"github.com/a-essam23/chirp-relay/pkg/config"
)

// IPConnectionCounter reports how many live connections an address holds.
type IPConnectionCounter func(ip string) int

// NewConnectionLimiter rejects upgrades from addresses that already hold
// config.MaxPerIP live connections. Clients open one connection per contact,
// so the limit should sit well above a typical contact list.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter IPConnectionCounter,
	config config.ConnectionLimitConfig,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.MaxPerIP <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			count := counter(reqMeta.IP)
			if count < config.MaxPerIP {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("IP connection limit reached", slog.String("ip", reqMeta.IP), slog.Int("count", count))
			http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
		})
	}
}
