package manager

import (
	"strings"
	"sync"
	"time"

	"github.com/cuemby/cord/pkg/metrics"
	"github.com/google/uuid"
)

// identityPrefix marks anonymous identities
const identityPrefix = "u_"

// Identity is an anonymous identity handed to a client
type Identity struct {
	ID       string
	IssuedAt time.Time
	LastSeen time.Time
}

// IdentityIssuer hands out anonymous identities and remembers the ones
// seen during this process's lifetime
type IdentityIssuer struct {
	identities map[string]*Identity
	mu         sync.RWMutex
}

// NewIdentityIssuer creates an empty issuer
func NewIdentityIssuer() *IdentityIssuer {
	return &IdentityIssuer{
		identities: make(map[string]*Identity),
	}
}

// Issue returns existingID when it is a well-formed identity and a fresh
// one otherwise. reused reports which case applied.
func (ii *IdentityIssuer) Issue(existingID string) (id string, reused bool) {
	now := time.Now()

	ii.mu.Lock()
	defer ii.mu.Unlock()

	if ValidIdentity(existingID) {
		if ident, ok := ii.identities[existingID]; ok {
			ident.LastSeen = now
		} else {
			ii.identities[existingID] = &Identity{ID: existingID, IssuedAt: now, LastSeen: now}
		}
		metrics.IdentitiesIssuedTotal.WithLabelValues("reused").Inc()
		return existingID, true
	}

	id = newIdentity()
	ii.identities[id] = &Identity{ID: id, IssuedAt: now, LastSeen: now}
	metrics.IdentitiesIssuedTotal.WithLabelValues("new").Inc()
	return id, false
}

// Lookup returns a known identity
func (ii *IdentityIssuer) Lookup(id string) (*Identity, bool) {
	ii.mu.RLock()
	defer ii.mu.RUnlock()
	ident, ok := ii.identities[id]
	if !ok {
		return nil, false
	}
	cp := *ident
	return &cp, true
}

// Count returns the number of identities seen
func (ii *IdentityIssuer) Count() int {
	ii.mu.RLock()
	defer ii.mu.RUnlock()
	return len(ii.identities)
}

// ValidIdentity reports whether id looks like an identity this server
// could have issued
func ValidIdentity(id string) bool {
	if !strings.HasPrefix(id, identityPrefix) || len(id) == len(identityPrefix) {
		return false
	}
	for _, r := range id[len(identityPrefix):] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func newIdentity() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return identityPrefix + hex[:20]
}
