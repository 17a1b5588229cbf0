package system_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openjudiciary/ecourts-archiver/internal/clock/system"
)

func TestNowIsUTC(t *testing.T) {
	t.Parallel()

	c := system.New()
	now := c.Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.WithinDuration(t, time.Now(), now, 2*time.Second)
}
