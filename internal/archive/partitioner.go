package archive

import (
	"fmt"

	"github.com/openjudiciary/ecourts-archiver/internal/clock"
)

// DefaultPartSizeLimit is the sealing threshold for container parts: 1 GiB.
const DefaultPartSizeLimit int64 = 1 << 30

// Partitioner decides when the active container part for a key must be
// sealed and what the next part is called. Sealing is size-only; a key with
// trickle writes keeps one open part until the caller closes it.
type Partitioner struct {
	limit int64
	clock clock.Clock
}

// NewPartitioner builds a Partitioner with the given size limit. A zero or
// negative limit falls back to DefaultPartSizeLimit.
func NewPartitioner(limit int64, clk clock.Clock) *Partitioner {
	if limit <= 0 {
		limit = DefaultPartSizeLimit
	}
	return &Partitioner{limit: limit, clock: clk}
}

// Limit returns the configured size threshold in bytes.
func (p *Partitioner) Limit() int64 {
	return p.limit
}

// ShouldSeal reports whether a part of the given size must be sealed.
// Entries are never split, so a part may exceed the limit by at most the
// size of the entry that crossed it.
func (p *Partitioner) ShouldSeal(size int64) bool {
	return size >= p.limit
}

// NextPartName names the key's next container part. The first part gets the
// canonical name (orders.tar / metadata.tar); later parts get a compact
// UTC-timestamp name ordered after every part the record already lists.
// Names never collide with recorded parts, so retries and replays cannot
// overwrite a sealed part.
func (p *Partitioner) NextPartName(key Key, record *IndexRecord) string {
	canonical := key.CanonicalName()
	if record == nil || len(record.Parts) == 0 {
		return canonical
	}
	if _, taken := record.PartByName(canonical); !taken {
		return canonical
	}

	stamp := p.clock.Now().UTC().Format("20060102T150405")
	name := fmt.Sprintf("part-%s.tar", stamp)
	for seq := 1; ; seq++ {
		if _, taken := record.PartByName(name); !taken {
			return name
		}
		// Same-second rotation: disambiguate with a sequence suffix.
		name = fmt.Sprintf("part-%s-%02d.tar", stamp, seq)
	}
}
