package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/information-sharing-networks/stp-demo/internal/version"
)

type VersionResponse struct {
	Service   string `json:"service" example:"stp-vendor"`
	Version   string `json:"version" example:"v0.3.0"`
	BuildDate string `json:"build_date" example:"2026-01-28T10:00:00Z"`
	GitCommit string `json:"git_commit" example:"4f2a9c1"`
}

// HandleVersion godoc
//
//	@Summary		Get version information
//	@Description	Returns the version and build information for the service
//	@Tags			Common
//	@Produce		json
//	@Success		200	{object}	VersionResponse	"Version information"
//	@Router			/version [get]
func HandleVersion(service string) http.HandlerFunc {
	v := version.Get()
	response := VersionResponse{
		Service:   service,
		Version:   v.Version,
		BuildDate: v.BuildDate,
		GitCommit: v.GitCommit,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			http.Error(w, "Failed to encode version", http.StatusInternalServerError)
			return
		}
	}
}
