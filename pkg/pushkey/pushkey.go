package pushkey

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"
)

// Alphabet is in ASCII order so that byte-wise string comparison of keys
// matches the numeric order of their digits.
const Alphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

const (
	timeDigits = 8
	randDigits = 12

	// Length of every generated key
	Length = timeDigits + randDigits
)

// Generator issues chronologically sortable keys. It is safe for
// concurrent use; all callers share one "last issued" state so keys are
// totally ordered.
type Generator struct {
	mu       sync.Mutex
	now      func() time.Time
	random   func(n int) []byte
	lastTime int64
	lastRand [randDigits]byte
}

// New returns a Generator reading the wall clock
func New() *Generator {
	return &Generator{now: time.Now, random: randomDigits}
}

// NewWithClock returns a Generator reading now. Useful in tests.
func NewWithClock(now func() time.Time) *Generator {
	return &Generator{now: now, random: randomDigits}
}

var defaultGenerator = New()

// Next returns a key from the package-level generator
func Next() string {
	return defaultGenerator.Next()
}

// Next returns a key strictly greater than every key this generator has
// issued before.
//
// Within one millisecond the random suffix is incremented as a base-64
// counter. If all twelve digits are already at the maximum, the
// generator borrows the next millisecond and draws a fresh suffix, so the
// embedded timestamp may run ahead of the clock by a few milliseconds
// under extreme load. The same borrowing applies when the clock moves
// backwards.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UnixMilli()
	switch {
	case now > g.lastTime:
		g.lastTime = now
		g.fillRandom()
	case !g.increment():
		g.lastTime++
		g.fillRandom()
	}

	var out [Length]byte
	t := g.lastTime
	for i := timeDigits - 1; i >= 0; i-- {
		out[i] = Alphabet[t%64]
		t /= 64
	}
	for i := 0; i < randDigits; i++ {
		out[timeDigits+i] = Alphabet[g.lastRand[i]]
	}
	return string(out[:])
}

// increment adds one to the random suffix with carry and reports false
// when the counter overflowed.
func (g *Generator) increment() bool {
	for i := randDigits - 1; i >= 0; i-- {
		if g.lastRand[i] < 63 {
			g.lastRand[i]++
			return true
		}
		g.lastRand[i] = 0
	}
	return false
}

func (g *Generator) fillRandom() {
	copy(g.lastRand[:], g.random(randDigits))
}

func randomDigits(n int) []byte {
	out := make([]byte, n)
	max := big.NewInt(64)
	for i := range out {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("pushkey: entropy source failed: " + err.Error())
		}
		out[i] = byte(v.Int64())
	}
	return out
}

// Time extracts the millisecond timestamp encoded in key
func Time(key string) (time.Time, bool) {
	if len(key) != Length {
		return time.Time{}, false
	}
	var ms int64
	for i := 0; i < timeDigits; i++ {
		d := indexOf(key[i])
		if d < 0 {
			return time.Time{}, false
		}
		ms = ms*64 + int64(d)
	}
	return time.UnixMilli(ms), true
}

func indexOf(c byte) int {
	for i := 0; i < len(Alphabet); i++ {
		if Alphabet[i] == c {
			return i
		}
	}
	return -1
}
