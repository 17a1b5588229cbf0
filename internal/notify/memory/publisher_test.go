package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjudiciary/ecourts-archiver/internal/notify/memory"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	p := memory.New()
	id, err := p.Publish(context.Background(), "archive-events", map[string]any{"event": "part_sealed"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id)

	id, err = p.Publish(context.Background(), "archive-events", "second")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id)

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "archive-events", msgs[0].Topic)
	assert.Equal(t, "second", msgs[1].Payload)
}
