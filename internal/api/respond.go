package api

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/hiresignal/jobscout/internal/pipeline"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func sortHealth(records []pipeline.SourceHealth) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].SourceID < records[j].SourceID
	})
}
