package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/pysugar/filedesk/internal/db"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AdminGate guards the admin API. A request passes with the stored API key
// (Bearer or x-api-key) or with the admin password over basic auth.
type AdminGate struct {
	database     *gorm.DB
	passwordHash []byte
}

// NewAdminGate hashes password once. A value that is already a bcrypt hash
// is used as is; an empty password disables basic auth.
func NewAdminGate(database *gorm.DB, password string, cost int) (*AdminGate, error) {
	g := &AdminGate{database: database}
	if password == "" {
		return g, nil
	}
	if isBcryptHash(password) {
		if _, err := bcrypt.Cost([]byte(password)); err != nil {
			return nil, fmt.Errorf("admin password hash: %w", err)
		}
		g.passwordHash = []byte(password)
		return g, nil
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, fmt.Errorf("hashing admin password: %w", err)
	}
	g.passwordHash = hash
	return g, nil
}

// Middleware rejects requests without valid admin credentials.
func (g *AdminGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expectedKey := db.GetAPIKey(g.database)
		if expectedKey == "" && g.passwordHash == nil {
			// Nothing configured yet (first run).
			next.ServeHTTP(w, r)
			return
		}

		if expectedKey != "" {
			if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && keyEqual(token, expectedKey) {
				next.ServeHTTP(w, r)
				return
			}
			if keyEqual(r.Header.Get("x-api-key"), expectedKey) {
				next.ServeHTTP(w, r)
				return
			}
		}

		if g.passwordHash != nil {
			if _, pass, ok := r.BasicAuth(); ok &&
				bcrypt.CompareHashAndPassword(g.passwordHash, []byte(pass)) == nil {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="filedesk"`)
		}

		writeJSONError(w, http.StatusUnauthorized, "authentication_error", "Invalid API key or admin password")
	})
}

func keyEqual(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func writeJSONError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error": {"message": %q, "type": %q}}`, message, errType)
}
