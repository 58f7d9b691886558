package reid

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/linetally/peoplecount/internal/counting"
)

// fixedEmbedder returns a preset vector per patch content, so tests can
// drive similarity without decoding real images.
type fixedEmbedder struct {
	vectors map[string][]float64
}

func (f fixedEmbedder) Embed(patch []byte) ([]float64, error) {
	if v, ok := f.vectors[string(patch)]; ok {
		return v, nil
	}
	return nil, errors.New("no fixture for patch")
}

func newTestGallery(t *testing.T, threshold float64, vectors map[string][]float64) *Gallery {
	t.Helper()
	return NewGallery(GalleryConfig{MaxPersons: 10, SimilarityThreshold: threshold, UpdateEmbedding: true}, fixedEmbedder{vectors: vectors})
}

func TestGallery_LinkMintsNewPersonOnFirstSight(t *testing.T) {
	g := newTestGallery(t, 0.8, map[string][]float64{"a": {1, 0, 0}})

	id, imported, ok := g.Link(counting.Observation{TrackID: 1, Patch: []byte("a"), Timestamp: time.Now()})
	assert.True(t, ok)
	assert.Equal(t, "P0001", id)
	assert.Empty(t, imported)
}

func TestGallery_LinkTracksFirstSeenAndAppearanceCount(t *testing.T) {
	g := newTestGallery(t, 0.9, map[string][]float64{
		"a":  {1, 0, 0},
		"a2": {0.99, 0.14, 0}, // close to "a", should re-link
	})

	first := time.Now()
	id, _, _ := g.Link(counting.Observation{TrackID: 1, Patch: []byte("a"), Timestamp: first})
	person, ok := g.Get(id)
	assert.True(t, ok)
	assert.Equal(t, first, person.FirstSeen)
	assert.Equal(t, 1, person.AppearanceCount)

	second := first.Add(time.Minute)
	g.Link(counting.Observation{TrackID: 2, Patch: []byte("a2"), Timestamp: second})
	person, ok = g.Get(id)
	assert.True(t, ok)
	assert.Equal(t, first, person.FirstSeen, "first_seen does not move on re-link")
	assert.Equal(t, 2, person.AppearanceCount, "appearance_count increments on every match")
}

func TestGallery_LinkMatchesSimilarEmbeddingToSamePerson(t *testing.T) {
	g := newTestGallery(t, 0.9, map[string][]float64{
		"a":  {1, 0, 0},
		"a2": {0.99, 0.14, 0}, // close to "a", should match
	})

	id1, _, _ := g.Link(counting.Observation{TrackID: 1, Patch: []byte("a"), Timestamp: time.Now()})
	g.RecordCrossing(id1, counting.DirIn)

	id2, imported, ok := g.Link(counting.Observation{TrackID: 2, Patch: []byte("a2"), Timestamp: time.Now()})
	assert.True(t, ok)
	assert.Equal(t, id1, id2, "similar embedding should re-link to the same person")
	assert.Contains(t, imported, counting.DirIn)
}

func TestGallery_LinkMintsDistinctPersonWhenDissimilar(t *testing.T) {
	g := newTestGallery(t, 0.9, map[string][]float64{
		"a": {1, 0, 0},
		"b": {0, 1, 0}, // orthogonal, similarity 0
	})

	id1, _, _ := g.Link(counting.Observation{TrackID: 1, Patch: []byte("a"), Timestamp: time.Now()})
	id2, imported, ok := g.Link(counting.Observation{TrackID: 2, Patch: []byte("b"), Timestamp: time.Now()})

	assert.True(t, ok)
	assert.NotEqual(t, id1, id2)
	assert.Empty(t, imported)
}

func TestGallery_LinkWithoutPatchFails(t *testing.T) {
	g := newTestGallery(t, 0.8, nil)
	_, _, ok := g.Link(counting.Observation{TrackID: 1, Timestamp: time.Now()})
	assert.False(t, ok)
}

func TestGallery_ResetWithoutClearPreservesEmbeddingsButNotDirections(t *testing.T) {
	g := newTestGallery(t, 0.9, map[string][]float64{"a": {1, 0, 0}})
	id, _, _ := g.Link(counting.Observation{TrackID: 1, Patch: []byte("a"), Timestamp: time.Now()})
	g.RecordCrossing(id, counting.DirIn)

	g.Reset(false)

	_, imported, ok := g.Link(counting.Observation{TrackID: 2, Patch: []byte("a"), Timestamp: time.Now()})
	assert.True(t, ok)
	assert.Empty(t, imported, "reset clears counted directions even when the gallery itself is preserved")
	assert.Equal(t, 1, len(g.List()))
}

func TestGallery_ResetWithClearPurgesGallery(t *testing.T) {
	g := newTestGallery(t, 0.9, map[string][]float64{"a": {1, 0, 0}})
	g.Link(counting.Observation{TrackID: 1, Patch: []byte("a"), Timestamp: time.Now()})

	g.Reset(true)

	assert.Empty(t, g.List())
}

func TestGallery_CleanupEvictsStalePersons(t *testing.T) {
	g := newTestGallery(t, 0.9, map[string][]float64{"a": {1, 0, 0}})
	now := time.Now()
	g.Link(counting.Observation{TrackID: 1, Patch: []byte("a"), Timestamp: now})

	evicted := g.Cleanup(now.Add(time.Hour), time.Minute)
	assert.Equal(t, 1, evicted)
	assert.Empty(t, g.List())
}

func TestCosineSimilarity_OrthogonalIsZero(t *testing.T) {
	assert.InDelta(t, 0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, 1, CosineSimilarity([]float64{1, 0}, []float64{1, 0}), 1e-9)
}
