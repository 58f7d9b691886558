package reid

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/linetally/peoplecount/internal/counting"
)

const trackHistoryLen = 8

// entry is one gallery record: a person's running appearance embedding plus
// the bookkeeping the counting engine needs to import on re-link (spec §4.4).
type entry struct {
	PersonID          string              `json:"person_id"`
	Embedding         []float64           `json:"embedding"`
	FirstSeen         time.Time           `json:"first_seen"`
	LastSeen          time.Time           `json:"last_seen"`
	AppearanceCount   int                 `json:"appearance_count"`
	CountedDirections map[string]struct{} `json:"counted_directions"`
	TrackIDsSeen      []int               `json:"track_ids_seen"`
}

func (e *entry) remember(trackID int) {
	for _, id := range e.TrackIDsSeen {
		if id == trackID {
			return
		}
	}
	e.TrackIDsSeen = append(e.TrackIDsSeen, trackID)
	if len(e.TrackIDsSeen) > trackHistoryLen {
		e.TrackIDsSeen = e.TrackIDsSeen[len(e.TrackIDsSeen)-trackHistoryLen:]
	}
}

// Gallery is a bounded, LRU-evicted store of person embeddings implementing
// counting.ReIDSubsystem. It is safe for concurrent use: the counting engine
// calls Link/RecordCrossing/Reset from its single owning goroutine, while the
// control plane (C7) may concurrently list or clear persons for the
// /api/reid/* endpoints.
type Gallery struct {
	mu sync.Mutex

	cache    *lru.Cache[string, *entry]
	embedder Embedder
	next     int

	similarityThreshold float64
	updateEmbedding     bool

	snapshotPath string
	lastWrite    time.Time
}

// GalleryConfig controls gallery sizing and matching tuning, sourced from the
// Counting configuration's reid_* fields (spec §3).
type GalleryConfig struct {
	MaxPersons          int
	SimilarityThreshold float64
	UpdateEmbedding     bool
	SnapshotPath        string // empty disables persistence
}

func NewGallery(cfg GalleryConfig, embedder Embedder) *Gallery {
	maxPersons := cfg.MaxPersons
	if maxPersons <= 0 {
		maxPersons = 500
	}
	cache, _ := lru.New[string, *entry](maxPersons)
	g := &Gallery{
		cache:               cache,
		embedder:            embedder,
		similarityThreshold: cfg.SimilarityThreshold,
		updateEmbedding:     cfg.UpdateEmbedding,
		snapshotPath:        cfg.SnapshotPath,
	}
	if g.snapshotPath != "" {
		if err := g.load(); err != nil && !os.IsNotExist(err) {
			log.Printf("reid: failed to load gallery snapshot %s: %v", g.snapshotPath, err)
		}
	}
	return g
}

// Link matches obs against the gallery by cosine similarity, or mints a new
// person_id when nothing matches closely enough (spec §4.4). It implements
// counting.ReIDSubsystem.
func (g *Gallery) Link(obs counting.Observation) (string, map[counting.Direction]struct{}, bool) {
	if obs.Patch == nil {
		return "", nil, false
	}
	vec, err := g.embedder.Embed(obs.Patch)
	if err != nil {
		log.Printf("reid: embedding failed for track %d: %v", obs.TrackID, err)
		return "", nil, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if best, ok := g.bestMatch(vec); ok {
		if g.updateEmbedding {
			best.Embedding = ema(best.Embedding, vec, 0.3)
		}
		best.LastSeen = obs.Timestamp
		best.AppearanceCount++
		best.remember(obs.TrackID)
		g.markDirty()
		return best.PersonID, importedDirections(best.CountedDirections), true
	}

	id := g.mintID()
	e := &entry{
		PersonID:          id,
		Embedding:         vec,
		FirstSeen:         obs.Timestamp,
		LastSeen:          obs.Timestamp,
		AppearanceCount:   1,
		CountedDirections: make(map[string]struct{}),
		TrackIDsSeen:      []int{obs.TrackID},
	}
	g.cache.Add(id, e)
	g.markDirty()
	return id, nil, true
}

func (g *Gallery) bestMatch(vec []float64) (*entry, bool) {
	var best *entry
	var bestSim float64
	for _, id := range g.cache.Keys() {
		e, ok := g.cache.Peek(id)
		if !ok {
			continue
		}
		sim := CosineSimilarity(vec, e.Embedding)
		if sim >= g.similarityThreshold && sim > bestSim {
			best, bestSim = e, sim
		}
	}
	if best == nil {
		return nil, false
	}
	g.cache.Get(best.PersonID) // touch for LRU recency
	return best, true
}

func (g *Gallery) mintID() string {
	g.next++
	return fmt.Sprintf("P%04d", g.next)
}

// RecordCrossing implements counting.ReIDSubsystem.
func (g *Gallery) RecordCrossing(personID string, d counting.Direction) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.cache.Get(personID)
	if !ok {
		return
	}
	e.CountedDirections[string(d)] = struct{}{}
	g.markDirty()
}

// Reset implements counting.ReIDSubsystem. clearGallery also discards
// embeddings; otherwise only the per-person counted-direction bookkeeping is
// cleared so reappearing persons can be recounted after a counter reset.
func (g *Gallery) Reset(clearGallery bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if clearGallery {
		g.cache.Purge()
		g.next = 0
		g.markDirty()
		return
	}
	for _, id := range g.cache.Keys() {
		if e, ok := g.cache.Peek(id); ok {
			e.CountedDirections = make(map[string]struct{})
		}
	}
	g.markDirty()
}

// Person is the read-only view returned by the control plane's
// /api/reid/persons endpoint.
type Person struct {
	PersonID        string    `json:"person_id"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	AppearanceCount int       `json:"appearance_count"`
	TrackIDsSeen    []int     `json:"track_ids_seen"`
}

// List returns a snapshot of all persons currently in the gallery, most
// recently seen first.
func (g *Gallery) List() []Person {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Person, 0, g.cache.Len())
	for _, id := range g.cache.Keys() {
		e, ok := g.cache.Peek(id)
		if !ok {
			continue
		}
		out = append(out, Person{
			PersonID:        e.PersonID,
			FirstSeen:       e.FirstSeen,
			LastSeen:        e.LastSeen,
			AppearanceCount: e.AppearanceCount,
			TrackIDsSeen:    append([]int(nil), e.TrackIDsSeen...),
		})
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Get returns a single person by id, for the control plane's
// /api/reid/persons/{id} endpoint.
func (g *Gallery) Get(personID string) (Person, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.cache.Peek(personID)
	if !ok {
		return Person{}, false
	}
	return Person{
		PersonID:        e.PersonID,
		FirstSeen:       e.FirstSeen,
		LastSeen:        e.LastSeen,
		AppearanceCount: e.AppearanceCount,
		TrackIDsSeen:    append([]int(nil), e.TrackIDsSeen...),
	}, true
}

// Cleanup evicts persons not seen within maxAge, mirroring the counting
// engine's track cleanup (spec §4.4 "gallery retention").
func (g *Gallery) Cleanup(now time.Time, maxAge time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	var evicted int
	for _, id := range g.cache.Keys() {
		e, ok := g.cache.Peek(id)
		if !ok {
			continue
		}
		if now.Sub(e.LastSeen) > maxAge {
			g.cache.Remove(id)
			evicted++
		}
	}
	if evicted > 0 {
		g.markDirty()
	}
	return evicted
}

func importedDirections(m map[string]struct{}) map[counting.Direction]struct{} {
	if len(m) == 0 {
		return nil
	}
	out := make(map[counting.Direction]struct{}, len(m))
	for k := range m {
		out[counting.Direction(k)] = struct{}{}
	}
	return out
}

func ema(old, next []float64, alpha float64) []float64 {
	if len(old) != len(next) {
		return next
	}
	blended := make([]float64, len(old))
	for i := range old {
		blended[i] = (1-alpha)*old[i] + alpha*next[i]
	}
	return normalize(blended)
}

// markDirty records that the gallery changed; Flush performs the actual
// write so callers can batch it (e.g. once per cleanup tick) instead of
// hitting disk on every crossing.
func (g *Gallery) markDirty() {
	g.lastWrite = time.Time{}
}

// Flush writes the gallery to its snapshot path, if persistence is enabled.
// Must be called without g.mu held.
func (g *Gallery) Flush() error {
	if g.snapshotPath == "" {
		return nil
	}
	g.mu.Lock()
	entries := make([]*entry, 0, g.cache.Len())
	for _, id := range g.cache.Keys() {
		if e, ok := g.cache.Peek(id); ok {
			entries = append(entries, e)
		}
	}
	next := g.next
	g.mu.Unlock()

	data, err := json.MarshalIndent(struct {
		Next    int      `json:"next"`
		Entries []*entry `json:"entries"`
	}{next, entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("reid: marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(g.snapshotPath), 0o755); err != nil {
		return fmt.Errorf("reid: snapshot dir: %w", err)
	}
	if err := os.WriteFile(g.snapshotPath, data, 0o644); err != nil {
		return fmt.Errorf("reid: write snapshot: %w", err)
	}
	g.lastWrite = time.Now()
	return nil
}

func (g *Gallery) load() error {
	data, err := os.ReadFile(g.snapshotPath)
	if err != nil {
		return err
	}
	var snap struct {
		Next    int      `json:"next"`
		Entries []*entry `json:"entries"`
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("reid: parse snapshot: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache.Purge()
	for _, e := range snap.Entries {
		g.cache.Add(e.PersonID, e)
	}
	g.next = snap.Next
	return nil
}

// WatchSnapshot reloads the gallery whenever the snapshot file is replaced
// out-of-band (an operator drops a prior export back onto reid_gallery_path
// while the service is running). It ignores writes the gallery itself just
// performed. Runs until ctx is cancelled; cmd/server starts it in its own
// goroutine at startup, for the gallery built at boot.
func (g *Gallery) WatchSnapshot(ctx context.Context) error {
	if g.snapshotPath == "" {
		<-ctx.Done()
		return nil
	}
	dir := filepath.Dir(g.snapshotPath)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("reid: new watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("reid: watch %s: %w", dir, err)
	}

	target := filepath.Clean(g.snapshotPath)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watcher.Errors:
			log.Printf("reid: snapshot watcher error: %v", err)
		case ev := <-watcher.Events:
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			info, err := os.Stat(g.snapshotPath)
			if err != nil {
				continue
			}
			if info.ModTime().Sub(g.lastWrite) <= time.Second {
				continue // our own write, or a stat race right after it
			}
			if err := g.load(); err != nil {
				log.Printf("reid: reload snapshot %s: %v", g.snapshotPath, err)
			} else {
				log.Printf("reid: reloaded gallery snapshot from %s", g.snapshotPath)
			}
		}
	}
}
