package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// basicAuth rejects requests without valid API user credentials.
func basicAuth(users UserChecker, s *Server) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || !users.TestUser(user, pass) {
				if ok {
					s.log.Info("Rejected credentials", zap.String("user", user))
				}
				w.Header().Set("WWW-Authenticate", `Basic realm="imgfeed"`)
				s.writeJSON(w, r, http.StatusUnauthorized, errorBody("authentication required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
