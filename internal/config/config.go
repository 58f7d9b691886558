// Package config loads process-level defaults from the PC_ environment and
// config/default.yaml. The live counting configuration (camera, line
// geometry, tuning) is a separate, hot-reloadable record owned by
// internal/store — this package only seeds its first row and configures
// ambient infrastructure (DB, Redis, JWT, cadences).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Root is the process-level configuration, read once at startup.
type Root struct {
	DB       DBConfig       `yaml:"db"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	NATS     NATSConfig     `yaml:"nats"`
	Bus      BusConfig      `yaml:"bus"`
	Camera   CameraDefaults `yaml:"camera"`
	HTTPPort string         `yaml:"http_port"`
}

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

type AuthConfig struct {
	JWTSigningKey string        `yaml:"jwt_signing_key"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"` // base subject; events publish to "<subject>.events", stats to "<subject>.stats"
}

// BusConfig controls the periodic stats/analytics broadcast cadences (§4.6/4.7/4.8).
type BusConfig struct {
	StatsInterval     time.Duration `yaml:"stats_interval"`
	AnalyticsInterval time.Duration `yaml:"analytics_interval"`
	SubscriberBuffer  int           `yaml:"subscriber_buffer"`
	IdleTimeout       time.Duration `yaml:"subscription_idle_timeout"`
}

// CameraDefaults seed the first camera_settings row when the table is empty.
type CameraDefaults struct {
	SourceKind          string  `yaml:"source_kind"`
	Address             string  `yaml:"address"`
	LineX               int     `yaml:"line_x"` // 0 means "frame width / 2 at startup"
	DirectionIn         string  `yaml:"direction_in"`
	HysteresisPx        float64 `yaml:"hysteresis_px"`
	AreaChangeThreshold float64 `yaml:"area_change_threshold"`
	MaxAgeSeconds       int     `yaml:"max_age_seconds"`
	CleanupIntervalSec  int     `yaml:"cleanup_interval_seconds"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	IOUThreshold        float64 `yaml:"iou_threshold"`
	ResizeWidth         int     `yaml:"resize_width"`
	ModelID             string  `yaml:"model_id"`
	ReIDEnabled         bool    `yaml:"reid_enabled"`
	ReIDSimilarity      float64 `yaml:"reid_similarity_threshold"`
	ReIDMaxPersons      int     `yaml:"reid_max_persons"`
	ReIDUpdateEmbedding bool    `yaml:"reid_update_embeddings"`
	ReIDGalleryPath     string  `yaml:"reid_gallery_path"`
	TimeZone            string  `yaml:"timezone"` // server-local TZ name for analytics boundaries (§4.8, §9)
}

// Load reads config/default.yaml (if present) then overlays PC_-prefixed
// environment variables, matching the teacher's yaml-plus-env hybrid in
// cmd/server/main.go.
func Load(path string) (*Root, error) {
	r := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, r); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(r)
	return r, nil
}

func defaults() *Root {
	return &Root{
		DB: DBConfig{Host: "localhost", Port: "5432", User: "postgres", Name: "peoplecount", SSLMode: "disable"},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Auth: AuthConfig{
			JWTSigningKey: "dev-secret-do-not-use-in-prod",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
		},
		NATS: NATSConfig{Subject: "peoplecount"},
		Bus: BusConfig{
			StatsInterval:     2 * time.Second,
			AnalyticsInterval: 30 * time.Second,
			SubscriberBuffer:  32,
			IdleTimeout:       5 * time.Minute,
		},
		Camera: CameraDefaults{
			SourceKind:          "device",
			Address:             "0",
			DirectionIn:         "L->R",
			HysteresisPx:        10,
			AreaChangeThreshold: 0.1,
			MaxAgeSeconds:       30,
			CleanupIntervalSec:  5,
			ConfidenceThreshold: 0.5,
			IOUThreshold:        0.45,
			ResizeWidth:         640,
			ModelID:             "yolov8n-person",
			ReIDSimilarity:      0.65,
			ReIDMaxPersons:      500,
			ReIDGalleryPath:     "data/reid_gallery.json",
			TimeZone:            "Local",
		},
		HTTPPort: "8080",
	}
}

func applyEnvOverrides(r *Root) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	str("PC_DB_HOST", &r.DB.Host)
	str("PC_DB_PORT", &r.DB.Port)
	str("PC_DB_USER", &r.DB.User)
	str("PC_DB_PASSWORD", &r.DB.Password)
	str("PC_DB_NAME", &r.DB.Name)
	str("PC_DB_SSLMODE", &r.DB.SSLMode)
	str("PC_REDIS_ADDR", &r.Redis.Addr)
	str("PC_REDIS_PASSWORD", &r.Redis.Password)
	str("PC_JWT_SIGNING_KEY", &r.Auth.JWTSigningKey)
	str("PC_NATS_URL", &r.NATS.URL)
	str("PC_CAMERA_SOURCE_KIND", &r.Camera.SourceKind)
	str("PC_CAMERA_ADDRESS", &r.Camera.Address)
	str("PC_TIMEZONE", &r.Camera.TimeZone)
	str("PC_HTTP_PORT", &r.HTTPPort)
	dur("PC_BUS_STATS_INTERVAL", &r.Bus.StatsInterval)
	dur("PC_BUS_ANALYTICS_INTERVAL", &r.Bus.AnalyticsInterval)
	dur("PC_BUS_IDLE_TIMEOUT", &r.Bus.IdleTimeout)

	if v := os.Getenv("PC_CAMERA_LINE_X"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			r.Camera.LineX = n
		}
	}
}
