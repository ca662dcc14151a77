package middleware

import (
	"log/slog"
	"net/http"

	apierrors "github.com/pribylovaa/taskboard-auth/internal/errors"
	"github.com/pribylovaa/taskboard-auth/internal/pkg/log"
)

// Recover перехватывает panic и пишет 500 в едином формате.
// Детали паники не утекают на клиент.
func Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}

					log.From(r.Context()).
						LogAttrs(r.Context(), slog.LevelError, "panic",
							slog.String("path", r.URL.Path),
							slog.Any("reason", rec),
						)
					apierrors.WriteMessage(w, r, http.StatusInternalServerError, apierrors.MsgInternal)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
