package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublisherPublishesJSON(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, srv := newTestClient(t)
	_, err := client.CreateTopic(ctx, "job-status")
	require.NoError(t, err)

	pub := New(client, "job-status")
	defer pub.Close()

	id, err := pub.Publish(ctx, "", map[string]string{"job_id": "job-1", "status": "completed"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "application/json", msgs[0].Attributes["content_type"])
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	assert.Equal(t, "completed", decoded["status"])
}

func TestPublisherRequiresTopic(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	pub := New(client, "")
	_, err := pub.Publish(context.Background(), "", "payload")
	require.Error(t, err)
}

func TestPublisherWithoutClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "t").Publish(context.Background(), "", "payload")
	require.Error(t, err)
}

func TestPublisherRejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	_, err := New(client, "t").Publish(context.Background(), "", make(chan int))
	require.Error(t, err)
}
