package archive_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openjudiciary/ecourts-archiver/internal/archive"
)

func TestShouldSealAtThreshold(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	p := archive.NewPartitioner(1000, clk)

	assert.False(t, p.ShouldSeal(0))
	assert.False(t, p.ShouldSeal(999))
	assert.True(t, p.ShouldSeal(1000))
	assert.True(t, p.ShouldSeal(5000))
}

func TestDefaultLimit(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(time.Now())
	p := archive.NewPartitioner(0, clk)
	assert.Equal(t, archive.DefaultPartSizeLimit, p.Limit())
}

func TestNextPartNameCanonicalFirst(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	p := archive.NewPartitioner(0, clk)
	key := testKey(archive.TypeOrders)

	assert.Equal(t, "orders.tar", p.NextPartName(key, nil))

	empty := archive.NewIndexRecord(key, clk.Now())
	assert.Equal(t, "orders.tar", p.NextPartName(key, empty))
}

func TestNextPartNameTimestampedAndUnique(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	clk := newFakeClock(base)
	p := archive.NewPartitioner(0, clk)
	key := testKey(archive.TypeOrders)

	record := archive.NewIndexRecord(key, base)
	record.ApplyPart(archive.Part{
		Name: "orders.tar", Files: []string{"a.pdf"}, FileCount: 1, Size: 1, CreatedAt: base,
	}, base)

	first := p.NextPartName(key, record)
	assert.Equal(t, "part-20250301T100000.tar", first)

	// Same clock second: the name must still not collide with a recorded
	// part.
	record.ApplyPart(archive.Part{
		Name: first, Files: []string{"b.pdf"}, FileCount: 1, Size: 1, CreatedAt: base,
	}, base)
	second := p.NextPartName(key, record)
	assert.Equal(t, "part-20250301T100000-01.tar", second)

	// Later seals sort after earlier ones.
	clk.Advance(time.Minute)
	third := p.NextPartName(key, record)
	assert.Equal(t, "part-20250301T100100.tar", third)
	assert.Greater(t, third, first)
}
