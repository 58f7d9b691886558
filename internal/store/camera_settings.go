package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CameraSettings is the live, hot-reloadable Counting configuration record
// (spec §3). It is a singleton row (id = 1). CredentialCipher holds the
// source credential sealed via internal/crypto when a master keyring is
// configured, and the plaintext otherwise; cmd/server unseals it when it
// builds a frame source from the row.
type CameraSettings struct {
	SourceKind             string  `json:"source_kind"`
	Address                string  `json:"address"`
	CredentialCipher       []byte  `json:"-"`
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

// SettingsStore manages the singleton camera_settings row.
type SettingsStore struct {
	db DBTX
}

func NewSettingsStore(db DBTX) *SettingsStore {
	return &SettingsStore{db: db}
}

// Get reads the current settings row. ErrNotFound means the seed migration
// hasn't run / cmd/seed-admin hasn't been invoked yet.
func (s *SettingsStore) Get(ctx context.Context) (*CameraSettings, error) {
	const query = `
		SELECT source_kind, address, credential_cipher, line_x, direction_in,
		       hysteresis_px, area_change_threshold, max_age_seconds, cleanup_interval_seconds,
		       confidence_threshold, iou_threshold, resize_width, model_id,
		       reid_enabled, reid_similarity_threshold, reid_max_persons, reid_update_embeddings,
		       reid_gallery_path, timezone
		FROM camera_settings WHERE id = 1`

	var c CameraSettings
	var cred []byte
	err := s.db.QueryRowContext(ctx, query).Scan(
		&c.SourceKind, &c.Address, &cred, &c.LineX, &c.DirectionIn,
		&c.HysteresisPx, &c.AreaChangeThreshold, &c.MaxAgeSeconds, &c.CleanupIntervalSeconds,
		&c.ConfidenceThreshold, &c.IOUThreshold, &c.ResizeWidth, &c.ModelID,
		&c.ReIDEnabled, &c.ReIDSimilarity, &c.ReIDMaxPersons, &c.ReIDUpdateEmbedding,
		&c.ReIDGalleryPath, &c.TimeZone,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get camera settings: %w", err)
	}
	c.CredentialCipher = cred
	return &c, nil
}

// Upsert writes the singleton row, creating it on first use (spec's config
// seeding path) or replacing it wholesale on every subsequent PUT.
func (s *SettingsStore) Upsert(ctx context.Context, c CameraSettings) error {
	const query = `
		INSERT INTO camera_settings (
			id, source_kind, address, credential_cipher, line_x, direction_in,
			hysteresis_px, area_change_threshold, max_age_seconds, cleanup_interval_seconds,
			confidence_threshold, iou_threshold, resize_width, model_id,
			reid_enabled, reid_similarity_threshold, reid_max_persons, reid_update_embeddings,
			reid_gallery_path, timezone, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, now())
		ON CONFLICT (id) DO UPDATE SET
			source_kind = EXCLUDED.source_kind,
			address = EXCLUDED.address,
			credential_cipher = EXCLUDED.credential_cipher,
			line_x = EXCLUDED.line_x,
			direction_in = EXCLUDED.direction_in,
			hysteresis_px = EXCLUDED.hysteresis_px,
			area_change_threshold = EXCLUDED.area_change_threshold,
			max_age_seconds = EXCLUDED.max_age_seconds,
			cleanup_interval_seconds = EXCLUDED.cleanup_interval_seconds,
			confidence_threshold = EXCLUDED.confidence_threshold,
			iou_threshold = EXCLUDED.iou_threshold,
			resize_width = EXCLUDED.resize_width,
			model_id = EXCLUDED.model_id,
			reid_enabled = EXCLUDED.reid_enabled,
			reid_similarity_threshold = EXCLUDED.reid_similarity_threshold,
			reid_max_persons = EXCLUDED.reid_max_persons,
			reid_update_embeddings = EXCLUDED.reid_update_embeddings,
			reid_gallery_path = EXCLUDED.reid_gallery_path,
			timezone = EXCLUDED.timezone,
			updated_at = now()`

	_, err := s.db.ExecContext(ctx, query,
		c.SourceKind, c.Address, c.CredentialCipher, c.LineX, c.DirectionIn,
		c.HysteresisPx, c.AreaChangeThreshold, c.MaxAgeSeconds, c.CleanupIntervalSeconds,
		c.ConfidenceThreshold, c.IOUThreshold, c.ResizeWidth, c.ModelID,
		c.ReIDEnabled, c.ReIDSimilarity, c.ReIDMaxPersons, c.ReIDUpdateEmbedding,
		c.ReIDGalleryPath, c.TimeZone,
	)
	if err != nil {
		return fmt.Errorf("store: upsert camera settings: %w", err)
	}
	return nil
}
