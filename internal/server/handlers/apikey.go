package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/pysugar/filedesk/internal/db"
	"gorm.io/gorm"
)

// GetAPIKeyHandler returns the admin API key, masked unless ?reveal=true.
func GetAPIKeyHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := db.GetAPIKey(database)
		reveal, _ := strconv.ParseBool(r.URL.Query().Get("reveal"))
		if !reveal {
			apiKey = maskAPIKey(apiKey)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"api_key": apiKey,
			"masked":  !reveal,
		})
	}
}

// RegenerateAPIKeyHandler replaces the admin API key. The new key is shown
// once in the response.
func RegenerateAPIKeyHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := db.RegenerateAPIKey(database)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"api_key": apiKey,
			"masked":  false,
		})
	}
}

func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 10 {
		return "***"
	}
	return apiKey[:6] + strings.Repeat("*", len(apiKey)-10) + apiKey[len(apiKey)-4:]
}
