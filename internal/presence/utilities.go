package presence

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/scribly/presence/internal/app/logger/logging"
)

func renderJSON(w http.ResponseWriter, _ *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Could not render the JSON response", logging.Error(err))
	}
}
