// Package rng derives the pseudo-random streams used by chains and paths.
//
// A stream is a pure function of (seed, id): chain i of a run seeded with
// (seed, id) draws from New(seed, id+i) no matter which goroutine runs it or
// when, so output is reproducible under any scheduling.
package rng

import (
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// New returns the stream for (seed, id).
func New(seed, id uint32) *rand.Rand {
	hi := splitmix64(uint64(seed)<<32 | uint64(id))
	lo := splitmix64(hi ^ 0x6a09e667f3bcc909)
	return rand.New(rand.NewPCG(hi, lo))
}

// Chain returns the stream for the i-th chain or path of a run.
func Chain(seed, id uint32, i int) *rand.Rand {
	return New(seed, id+uint32(i))
}

// TimeSeed returns a seed derived from the wall clock, for callers that ask
// for a random seed.
func TimeSeed() uint32 {
	return uint32(splitmix64(uint64(time.Now().UnixNano())))
}

// Uniform returns a uniform distribution on (lo, hi) drawing from r.
func Uniform(r *rand.Rand, lo, hi float64) distuv.Uniform {
	return distuv.Uniform{Min: lo, Max: hi, Src: r}
}

// StdNormal returns a standard normal distribution drawing from r.
func StdNormal(r *rand.Rand) distuv.Normal {
	return distuv.Normal{Mu: 0, Sigma: 1, Src: r}
}

// FillNormal fills dst with independent standard normal draws.
func FillNormal(r *rand.Rand, dst []float64) {
	n := StdNormal(r)
	for i := range dst {
		dst[i] = n.Rand()
	}
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
