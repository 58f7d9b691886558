package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/linetally/peoplecount/internal/audit"
)

// AuditMiddleware auto-logs mutating control-plane requests (camera
// settings changes, reset, gallery clear/cleanup, login) so handlers don't
// each have to remember to call audit.Service themselves.
type AuditMiddleware struct {
	service *audit.Service
}

func NewAuditMiddleware(s *audit.Service) *AuditMiddleware {
	return &AuditMiddleware{service: s}
}

// LogRequest wraps authenticated routes and records POST/PUT/PATCH/DELETE
// requests (and the login endpoint) to the audit log after the handler runs.
func (m *AuditMiddleware) LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := &responseCapture{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		isMutating := r.Method == http.MethodPost || r.Method == http.MethodPut ||
			r.Method == http.MethodPatch || r.Method == http.MethodDelete
		isAuth := strings.HasPrefix(r.URL.Path, "/api/auth/")
		if !isMutating && !isAuth {
			return
		}

		actor := "anonymous"
		if ac, ok := GetAuthContext(r.Context()); ok {
			actor = ac.Username
		}

		detail, _ := json.Marshal(map[string]any{"status": ww.status})
		evt := audit.Event{
			Actor:  actor,
			Action: fmt.Sprintf("http.%s", strings.ToLower(r.Method)),
			Target: r.URL.Path,
			Detail: detail,
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.service.WriteEvent(ctx, evt); err != nil {
				log.Printf("audit: write event: %v", err)
			}
		}()
	})
}

type responseCapture struct {
	http.ResponseWriter
	status int
}

func (w *responseCapture) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
