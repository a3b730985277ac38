package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "topic-a", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "topic-b", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "topic-a", msgs[0].Topic)
	assert.Equal(t, "topic-b", msgs[1].Topic)

	msgs[0].Topic = "modified"
	assert.Equal(t, "topic-a", pub.Messages()[0].Topic, "Messages must return a copy")
}

func TestPublisherRejectsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Publish(ctx, "topic", "payload")
	require.ErrorIs(t, err, context.Canceled)
}
