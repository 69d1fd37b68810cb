package vector

import (
	"hash/fnv"
	"math"
	"strings"
)

// Dim is the embedding width used across the store. Small on purpose:
// the corpus is short analysis summaries, not documents.
const Dim = 64

// Embed maps text to a unit vector via hashed trigrams. It is deterministic
// and needs no model call, which keeps similarity search available offline.
// Callers that have a real embedding provider can bypass it.
func Embed(text string) []float32 {
	vec := make([]float32, Dim)
	s := strings.ToLower(text)
	if len(s) < 3 {
		s = s + strings.Repeat("_", 3-len(s))
	}

	for i := 0; i+3 <= len(s); i++ {
		h := fnv.New32a()
		h.Write([]byte(s[i : i+3]))
		sum := h.Sum32()
		idx := sum % Dim
		if sum&(1<<31) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
