package moderate

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/corona10/goimagehash"
)

// hashMatchDistance is the Hamming distance between two dHash values below
// which images are considered perceptually identical.
const hashMatchDistance = 10

// hashBits is the length of a dHash.
const hashBits = 64

// HashIndex holds perceptual hashes of known images (previously published
// uploads, takedown lists) for near-duplicate lookup. Safe for concurrent use.
type HashIndex struct {
	mu      sync.RWMutex
	entries []hashEntry
}

type hashEntry struct {
	ref  string
	hash *goimagehash.ImageHash
}

// NewHashIndex returns an empty index.
func NewHashIndex() *HashIndex {
	return &HashIndex{}
}

// Add registers hash under sourceRef.
func (x *HashIndex) Add(sourceRef string, hash *goimagehash.ImageHash) {
	if hash == nil {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = append(x.entries, hashEntry{ref: sourceRef, hash: hash})
}

// AddImage inspects data and registers its dHash. It reports whether the image
// could be hashed.
func (x *HashIndex) AddImage(sourceRef string, data []byte) bool {
	info, err := InspectImage(data)
	if err != nil || info.DHash == nil {
		return false
	}
	x.Add(sourceRef, info.DHash)
	return true
}

// AddDir registers every decodable image file directly inside dir, keyed by
// "file:<name>". Unreadable or undecodable files are skipped.
func (x *HashIndex) AddDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("hash index: %w", err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			slog.Debug("moderate: hash index skip", "file", e.Name(), "error", err.Error())
			continue
		}
		if x.AddImage("file:"+e.Name(), data) {
			n++
		}
	}
	return n, nil
}

// Len returns the number of registered hashes.
func (x *HashIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Lookup returns every registered image within the match distance of hash,
// most similar first. Similarity is 1 - distance/64.
func (x *HashIndex) Lookup(hash *goimagehash.ImageHash) []Match {
	if x == nil || hash == nil {
		return nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	var out []Match
	for _, e := range x.entries {
		dist, err := hash.Distance(e.hash)
		if err != nil || dist >= hashMatchDistance {
			continue
		}
		out = append(out, Match{
			SourceRef:  e.ref,
			Similarity: 1 - float64(dist)/hashBits,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	return out
}
