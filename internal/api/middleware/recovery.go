package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gorilla/mux"

	"pairarb/pkg/utils"
)

// Recovery перехватывает panic в обработчике, пишет stack trace
// и отвечает 500, не роняя сервер.
func Recovery(logger *utils.Logger) mux.MiddlewareFunc {
	if logger == nil {
		logger = utils.L()
	}
	log := logger.WithComponent("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic in handler",
						utils.String("method", r.Method),
						utils.String("path", r.URL.Path),
						utils.Any("panic", rec),
						utils.String("stack", string(debug.Stack())))

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error","code":"internal_error"}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
