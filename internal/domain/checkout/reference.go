package checkout

import (
	"crypto/rand"
	"strconv"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

const (
	referenceSuffixLen  = 6
	referenceMaxRetries = 8
)

// ReferenceGenerator produces human-presentable mobile-money references of
// the form PREFIX + unix millis + 6 random uppercase characters. References
// already handed out by this process are remembered in a bloom filter so a
// collision is regenerated before it reaches the store. A false positive
// only costs another draw.
type ReferenceGenerator struct {
	prefix string
	now    func() time.Time
	suffix func() string

	mu   sync.Mutex
	seen *bloom.BloomFilter
}

// NewReferenceGenerator creates a generator sized for capacity references.
func NewReferenceGenerator(prefix string, capacity uint) *ReferenceGenerator {
	if capacity == 0 {
		capacity = 1 << 20
	}
	return &ReferenceGenerator{
		prefix: prefix,
		now:    time.Now,
		suffix: randomSuffix,
		seen:   bloom.NewWithEstimates(capacity, 1e-6),
	}
}

// Next returns a reference this process has not issued before.
func (g *ReferenceGenerator) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for range referenceMaxRetries {
		ref := g.prefix + strconv.FormatInt(g.now().UnixMilli(), 10) + g.suffix()
		if !g.seen.TestOrAddString(ref) {
			return ref, nil
		}
	}
	return "", errors.New("unable to allocate unique payment reference")
}

// randomSuffix draws from the uppercase base32 alphabet.
func randomSuffix() string {
	return rand.Text()[:referenceSuffixLen]
}
