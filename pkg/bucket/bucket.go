// Package bucket maps (seed, identifier) pairs to stable pseudo-random scores.
package bucket

import (
	"github.com/cespare/xxhash/v2"
)

// granularity of the returned score: 1/1000th of a percent.
const buckets = 100000

// Score hashes the entity seed and user identifier into a stable number in
// [0, 100). The same inputs always yield the same score across processes and
// restarts; different seeds give independent distributions for the same
// identifier. The empty string is a valid identifier.
func Score(seedKey, identifier string) float64 {
	h := xxhash.Sum64String(seedKey + ":" + identifier)
	return float64(h%buckets) / float64(buckets/100)
}
