package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linetally/peoplecount/internal/crypto"
	"github.com/linetally/peoplecount/internal/store"
)

// cameraSettingsRequest is the wire shape for create/update; Credential is
// the plaintext secret (RTSP password, API key) and is never echoed back
// (spec §6, "Current config (passwords omitted)").
type cameraSettingsRequest struct {
	SourceKind             string  `json:"source_kind"`
	Address                string  `json:"address"`
	Credential             string  `json:"credential,omitempty"`
	LineX                  int     `json:"line_x"`
	DirectionIn            string  `json:"direction_in"`
	HysteresisPx           float64 `json:"hysteresis_px"`
	AreaChangeThreshold    float64 `json:"area_change_threshold"`
	MaxAgeSeconds          int     `json:"max_age_seconds"`
	CleanupIntervalSeconds int     `json:"cleanup_interval_seconds"`
	ConfidenceThreshold    float64 `json:"confidence_threshold"`
	IOUThreshold           float64 `json:"iou_threshold"`
	ResizeWidth            int     `json:"resize_width"`
	ModelID                string  `json:"model_id"`
	ReIDEnabled            bool    `json:"reid_enabled"`
	ReIDSimilarity         float64 `json:"reid_similarity_threshold"`
	ReIDMaxPersons         int     `json:"reid_max_persons"`
	ReIDUpdateEmbedding    bool    `json:"reid_update_embeddings"`
	ReIDGalleryPath        string  `json:"reid_gallery_path"`
	TimeZone               string  `json:"timezone"`
}

func (req cameraSettingsRequest) validate() *apiError {
	if req.SourceKind == "" || req.Address == "" {
		return &apiError{Code: "invalid_config", Message: "source_kind and address are required"}
	}
	if req.LineX < 0 {
		return &apiError{Code: "invalid_config", Message: "line_x must be non-negative"}
	}
	if req.DirectionIn == "" {
		return &apiError{Code: "invalid_config", Message: "direction_in is required"}
	}
	if req.ConfidenceThreshold < 0 || req.ConfidenceThreshold > 1 {
		return &apiError{Code: "invalid_config", Message: "confidence_threshold must be in [0,1]"}
	}
	if req.IOUThreshold < 0 || req.IOUThreshold > 1 {
		return &apiError{Code: "invalid_config", Message: "iou_threshold must be in [0,1]"}
	}
	return nil
}

// GetCameraSettings returns the current config with credentials omitted
// (spec §6, GET /api/camera/settings).
func (s *Server) GetCameraSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.Settings.Get(r.Context())
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "not_found", "camera not configured", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to load settings", "")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// CreateCameraSettings provisions the singleton config from scratch; all
// fields are required (spec §6, POST /api/camera/settings).
func (s *Server) CreateCameraSettings(w http.ResponseWriter, r *http.Request) {
	var req cameraSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", "")
		return
	}
	if req.Credential == "" {
		writeError(w, http.StatusBadRequest, "invalid_config", "credential is required on create", "")
		return
	}
	s.upsertSettings(w, r, req)
}

// UpdateCameraSettings replaces the singleton config. An empty credential
// means "keep previous" (spec §6, PUT /api/camera/settings/{id}). {id} is
// accepted for REST symmetry but the store holds a single row.
func (s *Server) UpdateCameraSettings(w http.ResponseWriter, r *http.Request) {
	_ = chi.URLParam(r, "id")

	var req cameraSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", "")
		return
	}
	s.upsertSettings(w, r, req)
}

func (s *Server) upsertSettings(w http.ResponseWriter, r *http.Request, req cameraSettingsRequest) {
	if apiErr := req.validate(); apiErr != nil {
		writeJSON(w, http.StatusBadRequest, apiErr)
		return
	}

	cfg := store.CameraSettings{
		SourceKind:             req.SourceKind,
		Address:                req.Address,
		LineX:                  req.LineX,
		DirectionIn:            req.DirectionIn,
		HysteresisPx:           req.HysteresisPx,
		AreaChangeThreshold:    req.AreaChangeThreshold,
		MaxAgeSeconds:          req.MaxAgeSeconds,
		CleanupIntervalSeconds: req.CleanupIntervalSeconds,
		ConfidenceThreshold:    req.ConfidenceThreshold,
		IOUThreshold:           req.IOUThreshold,
		ResizeWidth:            req.ResizeWidth,
		ModelID:                req.ModelID,
		ReIDEnabled:            req.ReIDEnabled,
		ReIDSimilarity:         req.ReIDSimilarity,
		ReIDMaxPersons:         req.ReIDMaxPersons,
		ReIDUpdateEmbedding:    req.ReIDUpdateEmbedding,
		ReIDGalleryPath:        req.ReIDGalleryPath,
		TimeZone:               req.TimeZone,
	}

	if req.Credential != "" {
		sealed, err := sealCredentialIfConfigured(s, req.Credential)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to seal credential", "")
			return
		}
		cfg.CredentialCipher = sealed
	} else if existing, err := s.Settings.Get(r.Context()); err == nil {
		cfg.CredentialCipher = existing.CredentialCipher
	}

	if err := s.Settings.Upsert(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to save settings", "")
		return
	}

	if err := s.Reconfigurer.Apply(r.Context(), cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: "invalid_config", Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

type switchRequest struct {
	Source string `json:"source"`
}

// SwitchCamera changes the active source without touching the rest of the
// config (spec §6, POST /api/camera/switch).
func (s *Server) SwitchCamera(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := decodeJSON(r, &req); err != nil || req.Source == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "source is required", "")
		return
	}
	if err := s.Reconfigurer.Switch(r.Context(), req.Source); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: "invalid_config", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "switching"})
}

func sealCredentialIfConfigured(s *Server, plaintext string) ([]byte, error) {
	if s.Keyring == nil {
		return []byte(plaintext), nil
	}
	return crypto.SealCredential(s.Keyring, []byte(plaintext))
}
