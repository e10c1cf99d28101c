package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// NewRequestLogger logs each request on arrival and again when its handler
// returns. For /ws that second line marks the end of the websocket session.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			var ip string
			if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
				ip = reqMeta.IP
				start = reqMeta.ReceivedAt
			}

			logger.Info("Incoming HTTP request",
				slog.String("method", r.Method),
				slog.String("uri", r.RequestURI),
				slog.String("ip", ip),
			)
			next.ServeHTTP(w, r)
			logger.Debug("HTTP request finished",
				slog.String("uri", r.RequestURI),
				slog.String("ip", ip),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
