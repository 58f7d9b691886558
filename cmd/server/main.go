// Command server runs the people-counting service: it wires the frame
// source, detector+tracker, counting engine, event store, in-process bus
// and the HTTP/WS control plane together and serves them until terminated.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/linetally/peoplecount/internal/analytics"
	"github.com/linetally/peoplecount/internal/api"
	"github.com/linetally/peoplecount/internal/audit"
	"github.com/linetally/peoplecount/internal/auth"
	"github.com/linetally/peoplecount/internal/bus"
	"github.com/linetally/peoplecount/internal/config"
	"github.com/linetally/peoplecount/internal/counting"
	"github.com/linetally/peoplecount/internal/crypto"
	"github.com/linetally/peoplecount/internal/frameio"
	"github.com/linetally/peoplecount/internal/metrics"
	"github.com/linetally/peoplecount/internal/platform/paths"
	"github.com/linetally/peoplecount/internal/ratelimit"
	"github.com/linetally/peoplecount/internal/reid"
	"github.com/linetally/peoplecount/internal/session"
	"github.com/linetally/peoplecount/internal/store"
	"github.com/linetally/peoplecount/internal/tokens"
	"github.com/linetally/peoplecount/internal/vision"
	"github.com/linetally/peoplecount/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config/default.yaml (defaults under PC_DATA_ROOT)")
	flag.Parse()

	if err := paths.EnsureDirs(); err != nil {
		log.Fatalf("server: ensure data dirs: %v", err)
	}

	cfg, err := config.Load(paths.ResolveConfigPath(*configPath))
	if err != nil {
		log.Fatalf("server: load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DB.DSN())
	if err != nil {
		log.Fatalf("server: open db: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("server: ping db: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
	defer redisClient.Close()

	keyring := crypto.NewKeyring()
	if err := keyring.LoadFromEnv(); err != nil {
		log.Printf("server: credential keyring unavailable, camera credentials will be stored in plaintext: %v", err)
		keyring = nil
	}

	loc, err := time.LoadLocation(cfg.Camera.TimeZone)
	if err != nil {
		log.Printf("server: unknown timezone %q, falling back to local: %v", cfg.Camera.TimeZone, err)
		loc = time.Local
	}

	eventStore := store.NewEventStore(db)
	settingsStore := store.NewSettingsStore(db)
	adminStore := store.NewAdminStore(db)
	auditService := audit.NewService(db)
	analyzer := analytics.New(eventStore, loc)

	msgBus := bus.New(cfg.Bus.SubscriberBuffer)
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			log.Printf("server: nats connect failed, continuing without secondary sink: %v", err)
		} else {
			defer nc.Close()
			msgBus.AttachNATS(nc, cfg.NATS.Subject)
		}
	}

	camSettings, err := loadOrSeedCameraSettings(context.Background(), settingsStore, cfg.Camera)
	if err != nil {
		log.Fatalf("server: load camera settings: %v", err)
	}

	deps, err := buildDeps(camSettings, keyring, nil, false)
	if err != nil {
		log.Fatalf("server: build initial pipeline: %v", err)
	}

	if in, out, err := eventStore.Totals(context.Background()); err != nil {
		log.Printf("server: failed to restore counts from store: %v", err)
	} else {
		deps.Engine.RestoreCounts(in, out)
	}

	w := worker.New(deps, eventStore, msgBus)

	recfg := &reconfigurer{worker: w, keyring: keyring}

	collector := metrics.NewCollector(metrics.StatusProvider{
		CameraStatus: func() string { return string(w.Status().CameraStatus) },
		FPS:          func() float64 { return w.Status().FPS },
		ActiveTracks: func() int { return w.Status().ActiveTracks },
		Counts: func() (int64, int64) {
			s := w.EngineStats()
			return s.InCount, s.OutCount
		},
		SubscriberCount: msgBus.SubscriberCount,
		GalleryPersons: func() int {
			g := w.CurrentGallery()
			if g == nil {
				return 0
			}
			return len(g.List())
		},
	})

	tokenManager := tokens.NewManager(cfg.Auth.JWTSigningKey, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	sessionManager := session.NewManager(cfg.Redis.Addr, cfg.Redis.Password)
	blacklist := auth.NewRedisBlacklist(redisClient)
	limiter := ratelimit.NewLimiter(redisClient, cfg.Auth.JWTSigningKey)

	srv := &api.Server{
		Worker:                  w,
		Bus:                     msgBus,
		Events:                  eventStore,
		Settings:                settingsStore,
		Admins:                  adminStore,
		Analyzer:                analyzer,
		Audit:                   auditService,
		Tokens:                  tokenManager,
		Sessions:                sessionManager,
		Blacklist:               blacklist,
		Keyring:                 keyring,
		Gallery:                 w.CurrentGallery,
		Reconfigurer:            recfg,
		SubscriptionIdleTimeout: cfg.Bus.IdleTimeout,
	}

	router := srv.NewRouter(api.NewRateLimitMiddleware(limiter))

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}
	metricsServer := &http.Server{
		Addr:    ":" + metricsPort(),
		Handler: collector.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := w.Run(ctx); err != nil {
			log.Printf("server: worker exited: %v", err)
		}
	}()
	go w.RunBroadcasters(ctx, cfg.Bus.StatsInterval, cfg.Bus.AnalyticsInterval,
		func() any { return w.EngineStats() },
		func(ctx context.Context) (any, error) { return analyzer.GrowthTrend(ctx) },
	)
	go collector.Start(ctx, 2*time.Second)
	if g := w.CurrentGallery(); g != nil {
		go func() {
			if err := g.WatchSnapshot(ctx); err != nil {
				log.Printf("server: gallery snapshot watcher stopped: %v", err)
			}
		}()
	}

	go func() {
		log.Printf("server: metrics listening on %s", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("server: metrics server error: %v", err)
		}
	}()

	go func() {
		log.Printf("server: control plane listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: http server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("server: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	w.Stop()
	if g := w.CurrentGallery(); g != nil {
		if err := g.Flush(); err != nil {
			log.Printf("server: final gallery flush failed: %v", err)
		}
	}
}

func metricsPort() string {
	if p := os.Getenv("PC_METRICS_PORT"); p != "" {
		return p
	}
	return "9100"
}

// loadOrSeedCameraSettings returns the persisted singleton row, seeding it
// from the process config's camera defaults on first run.
func loadOrSeedCameraSettings(ctx context.Context, st *store.SettingsStore, defaults config.CameraDefaults) (store.CameraSettings, error) {
	cfg, err := st.Get(ctx)
	if err == nil {
		return *cfg, nil
	}
	if err != store.ErrNotFound {
		return store.CameraSettings{}, err
	}

	seeded := store.CameraSettings{
		SourceKind:             defaults.SourceKind,
		Address:                defaults.Address,
		LineX:                  defaults.LineX,
		DirectionIn:            defaults.DirectionIn,
		HysteresisPx:           defaults.HysteresisPx,
		AreaChangeThreshold:    defaults.AreaChangeThreshold,
		MaxAgeSeconds:          defaults.MaxAgeSeconds,
		CleanupIntervalSeconds: defaults.CleanupIntervalSec,
		ConfidenceThreshold:    defaults.ConfidenceThreshold,
		IOUThreshold:           defaults.IOUThreshold,
		ResizeWidth:            defaults.ResizeWidth,
		ModelID:                defaults.ModelID,
		ReIDEnabled:            defaults.ReIDEnabled,
		ReIDSimilarity:         defaults.ReIDSimilarity,
		ReIDMaxPersons:         defaults.ReIDMaxPersons,
		ReIDUpdateEmbedding:    defaults.ReIDUpdateEmbedding,
		ReIDGalleryPath:        defaults.ReIDGalleryPath,
		TimeZone:               defaults.TimeZone,
	}
	if err := st.Upsert(ctx, seeded); err != nil {
		return store.CameraSettings{}, fmt.Errorf("seed camera settings: %w", err)
	}
	return seeded, nil
}

// reconfigurationOpenTimeout bounds how long Apply/Switch wait for a new
// source to prove it opens before rejecting the request (spec §9 "build a
// new source, validate it opens, only then swap").
const reconfigurationOpenTimeout = 8 * time.Second

// reconfigurer implements api.Reconfigurer: it turns a persisted
// CameraSettings row into a fresh frame source / detector / gallery and
// swaps it into the running worker (spec §4.7 "Reconfiguration").
type reconfigurer struct {
	worker  *worker.Worker
	keyring *crypto.Keyring
}

func (r *reconfigurer) Apply(ctx context.Context, cs store.CameraSettings) error {
	newDeps, err := buildDeps(cs, r.keyring, r.worker.CurrentEngine(), true)
	if err != nil {
		return err
	}
	newDeps.Engine.UpdateConfig(engineConfig(cs))
	r.worker.Reconfigure(newDeps)
	return nil
}

// Switch rebuilds only the frame source, keeping the current
// detector/engine/gallery generation untouched (spec §6, POST
// /api/camera/switch "without touching the rest of the config"). The new
// source must prove it opens before it replaces the running one (spec §7
// "malformed URL" / "unreachable address" must be rejected, prior config
// stays live).
func (r *reconfigurer) Switch(ctx context.Context, source string) error {
	engine := r.worker.CurrentEngine()
	gallery := r.worker.CurrentGallery()

	kind := "rtsp"
	if u, err := url.Parse(source); err == nil && u.Scheme != "" {
		kind = u.Scheme
	} else if _, convErr := strconv.Atoi(source); convErr == nil {
		kind = "device"
	}

	newSource := frameio.NewGoCVSource(frameio.Config{Kind: kind, Address: source})
	if err := validateSource(newSource); err != nil {
		return fmt.Errorf("switch camera: %w", err)
	}

	newDetector := vision.NewHOGDetector(vision.Config{
		ConfidenceThreshold: 0.5,
		IOUThreshold:        0.45,
		CutPatches:          gallery != nil,
	})

	r.worker.Reconfigure(worker.Deps{
		Source:   newSource,
		Detector: newDetector,
		Engine:   engine,
		Gallery:  gallery,
		ConfigID: time.Now().Unix(),
	})
	return nil
}

// validateSource opens src with a bounded timeout to confirm the configured
// address is actually reachable, then closes it — the worker opens its own
// long-lived handle once the generation it belongs to is swapped in. A
// malformed address (bad device index, unparseable URL) or an unreachable
// one surfaces here as an error instead of silently becoming "offline"
// after the swap has already discarded the previous generation.
func validateSource(src frameio.Source) error {
	ctx, cancel := context.WithTimeout(context.Background(), reconfigurationOpenTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		err := src.Open(ctx)
		_ = src.Close()
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("source did not open within %s", reconfigurationOpenTimeout)
	}
}

// buildDeps constructs one worker generation from a CameraSettings row.
// reuseEngine, when non-nil, is kept so counts and track state survive a
// config-only reconfiguration; a nil value (first boot) creates a fresh one.
// validate controls whether the new source must prove it opens before
// buildDeps returns: true for a live reconfiguration (where a prior
// generation is already running and must not be torn down for a bad
// config), false for initial startup (where the worker's own backoff loop
// is the right place to retry a camera that isn't up yet, spec §4.1/§7).
func buildDeps(cs store.CameraSettings, keyring *crypto.Keyring, reuseEngine *counting.Engine, validate bool) (worker.Deps, error) {
	address, err := resolveSourceAddress(cs, keyring)
	if err != nil {
		return worker.Deps{}, fmt.Errorf("resolve source address: %w", err)
	}

	var gallery *reid.Gallery
	if cs.ReIDEnabled {
		galleryPath, err := paths.SafeJoin(paths.ResolveDataRoot(), "gallery", cs.ReIDGalleryPath)
		if err != nil {
			galleryPath = cs.ReIDGalleryPath
		}
		gallery = reid.NewGallery(reid.GalleryConfig{
			MaxPersons:          cs.ReIDMaxPersons,
			SimilarityThreshold: cs.ReIDSimilarity,
			UpdateEmbedding:     cs.ReIDUpdateEmbedding,
			SnapshotPath:        galleryPath,
		}, reid.HistogramEmbedder{})
	}

	engine := reuseEngine
	if engine == nil {
		engine = counting.New(engineConfig(cs), gallery)
	}

	source := frameio.NewGoCVSource(frameio.Config{
		Kind:        cs.SourceKind,
		Address:     address,
		ResizeWidth: cs.ResizeWidth,
	})
	detector := vision.NewHOGDetector(vision.Config{
		ConfidenceThreshold: cs.ConfidenceThreshold,
		IOUThreshold:        cs.IOUThreshold,
		ResizeWidth:         cs.ResizeWidth,
		CutPatches:          cs.ReIDEnabled,
	})

	if validate {
		if err := validateSource(source); err != nil {
			return worker.Deps{}, fmt.Errorf("validate new source: %w", err)
		}
	}

	return worker.Deps{
		Source:   source,
		Detector: detector,
		Engine:   engine,
		Gallery:  gallery,
		ConfigID: time.Now().Unix(),
	}, nil
}

func engineConfig(cs store.CameraSettings) counting.Config {
	lineX := cs.LineX
	if lineX <= 0 {
		lineX = cs.ResizeWidth / 2
	}
	if lineX <= 0 {
		lineX = 320
	}
	return counting.Config{
		LineX:               float64(lineX),
		DirectionIn:         counting.DirectionMapping(cs.DirectionIn),
		HysteresisPx:        cs.HysteresisPx,
		AreaChangeThreshold: cs.AreaChangeThreshold,
		MaxAge:              time.Duration(cs.MaxAgeSeconds) * time.Second,
		CleanupInterval:     time.Duration(cs.CleanupIntervalSeconds) * time.Second,
		ReIDEnabled:         cs.ReIDEnabled,
	}
}

// resolveSourceAddress decrypts the stored credential (if any) and folds it
// into the source address as URL userinfo for network sources; device
// indices carry no credential.
func resolveSourceAddress(cs store.CameraSettings, keyring *crypto.Keyring) (string, error) {
	if len(cs.CredentialCipher) == 0 {
		return cs.Address, nil
	}

	var plaintext []byte
	var err error
	if keyring != nil {
		plaintext, err = crypto.OpenCredential(keyring, cs.CredentialCipher)
		if err != nil {
			return "", err
		}
	} else {
		plaintext = cs.CredentialCipher
	}

	u, parseErr := url.Parse(cs.Address)
	if parseErr != nil || u.Host == "" {
		return cs.Address, nil
	}
	u.User = url.UserPassword(u.User.Username(), string(plaintext))
	return u.String(), nil
}
