// Package dedup implements the three stage duplicate detection pipeline:
// vector candidate recall, MinHash near-exact confirmation, and an LLM
// semantic check for the ambiguous middle band.
package dedup

import (
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hivemind/hivemind/pkg/models"
)

const (
	// lshBands * lshRows must equal the permutation count. 4 bands of 32
	// rows puts the S-curve inflection near Jaccard 0.95.
	lshBands = 4
	lshRows  = 32

	shingleSize = 3
)

// minhashSeed fixes the permutation parameters so signatures are stable
// across restarts and rebuilds.
const minhashSeed = 0x68697665 // "hive"

// MinHashIndex maintains MinHash signatures and an LSH band table over
// current knowledge items. Safe for concurrent use.
type MinHashIndex struct {
	mu          sync.RWMutex
	numPerms    int
	threshold   float64
	coeffA      []uint64
	coeffB      []uint64
	signatures  map[uuid.UUID][]uint64
	bands       map[string][]uuid.UUID
	memberBands map[uuid.UUID][]string
}

// NewMinHashIndex builds an empty index. numPerms must be divisible by the
// band count; 128 is the production setting.
func NewMinHashIndex(numPerms int, threshold float64) *MinHashIndex {
	if numPerms <= 0 || numPerms%lshBands != 0 {
		numPerms = 128
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 0.95
	}
	rng := rand.New(rand.NewSource(minhashSeed))
	idx := &MinHashIndex{
		numPerms:    numPerms,
		threshold:   threshold,
		coeffA:      make([]uint64, numPerms),
		coeffB:      make([]uint64, numPerms),
		signatures:  map[uuid.UUID][]uint64{},
		bands:       map[string][]uuid.UUID{},
		memberBands: map[uuid.UUID][]string{},
	}
	for i := 0; i < numPerms; i++ {
		idx.coeffA[i] = rng.Uint64() | 1 // odd, so the map is a bijection mod 2^64
		idx.coeffB[i] = rng.Uint64()
	}
	return idx
}

func shingles(content string) map[uint64]bool {
	words := strings.Fields(strings.ToLower(content))
	out := map[uint64]bool{}
	if len(words) < shingleSize {
		h := fnv.New64a()
		h.Write([]byte(strings.Join(words, " ")))
		out[h.Sum64()] = true
		return out
	}
	for i := 0; i+shingleSize <= len(words); i++ {
		h := fnv.New64a()
		h.Write([]byte(strings.Join(words[i:i+shingleSize], " ")))
		out[h.Sum64()] = true
	}
	return out
}

// Signature computes the MinHash signature of content.
func (m *MinHashIndex) Signature(content string) []uint64 {
	sig := make([]uint64, m.numPerms)
	for i := range sig {
		sig[i] = ^uint64(0)
	}
	for sh := range shingles(content) {
		for i := 0; i < m.numPerms; i++ {
			v := m.coeffA[i]*sh + m.coeffB[i]
			if v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

// EstimateJaccard approximates the Jaccard similarity of two contents from
// signature agreement.
func (m *MinHashIndex) EstimateJaccard(a, b string) float64 {
	return jaccardFromSignatures(m.Signature(a), m.Signature(b))
}

func jaccardFromSignatures(a, b []uint64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	same := 0
	for i := range a {
		if a[i] == b[i] {
			same++
		}
	}
	return float64(same) / float64(len(a))
}

func bandKeys(sig []uint64) []string {
	rows := len(sig) / lshBands
	keys := make([]string, 0, lshBands)
	for b := 0; b < lshBands; b++ {
		h := fnv.New64a()
		for r := 0; r < rows; r++ {
			v := sig[b*rows+r]
			h.Write([]byte{
				byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
				byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56),
			})
		}
		var sb strings.Builder
		sb.WriteByte(byte('0' + b))
		sb.WriteByte(':')
		sum := h.Sum64()
		for i := 0; i < 8; i++ {
			sb.WriteByte(byte(sum >> (8 * i)))
		}
		keys = append(keys, sb.String())
	}
	return keys
}

// Add indexes one item's content.
func (m *MinHashIndex) Add(id uuid.UUID, content string) {
	sig := m.Signature(content)
	keys := bandKeys(sig)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
	m.signatures[id] = sig
	m.memberBands[id] = keys
	for _, k := range keys {
		m.bands[k] = append(m.bands[k], id)
	}
}

// Remove drops an item from the index. Unknown ids are a no-op.
func (m *MinHashIndex) Remove(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
}

func (m *MinHashIndex) removeLocked(id uuid.UUID) {
	keys, ok := m.memberBands[id]
	if !ok {
		return
	}
	for _, k := range keys {
		members := m.bands[k]
		for i, member := range members {
			if member == id {
				m.bands[k] = append(members[:i], members[i+1:]...)
				break
			}
		}
		if len(m.bands[k]) == 0 {
			delete(m.bands, k)
		}
	}
	delete(m.signatures, id)
	delete(m.memberBands, id)
}

// Rebuild replaces the index contents with the given items.
func (m *MinHashIndex) Rebuild(items []models.KnowledgeItem) {
	m.mu.Lock()
	m.signatures = map[uuid.UUID][]uint64{}
	m.bands = map[string][]uuid.UUID{}
	m.memberBands = map[uuid.UUID][]string{}
	m.mu.Unlock()
	for i := range items {
		m.Add(items[i].ID, items[i].Content)
	}
}

// Match is a near-duplicate hit with its estimated Jaccard similarity.
type Match struct {
	ID      uuid.UUID
	Jaccard float64
}

// Query returns indexed items whose estimated Jaccard similarity to content
// meets the index threshold, best first.
func (m *MinHashIndex) Query(content string) []Match {
	sig := m.Signature(content)
	keys := bandKeys(sig)

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[uuid.UUID]bool{}
	var out []Match
	for _, k := range keys {
		for _, id := range m.bands[k] {
			if seen[id] {
				continue
			}
			seen[id] = true
			j := jaccardFromSignatures(sig, m.signatures[id])
			if j >= m.threshold {
				out = append(out, Match{ID: id, Jaccard: j})
			}
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Jaccard > out[j-1].Jaccard; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Len reports the number of indexed items.
func (m *MinHashIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.signatures)
}
