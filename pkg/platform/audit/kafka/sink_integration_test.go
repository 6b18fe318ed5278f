//go:build integration

package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "custodia/pkg/platform/audit"
	"custodia/pkg/testutil/containers"
)

func TestSinkProducesEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rp := containers.NewRedpandaContainer(t)
	defer func() { _ = rp.Container.Terminate(context.Background()) }()

	sink, err := New(ctx, []string{rp.Broker}, "")
	require.NoError(t, err)
	defer sink.Close()

	event := audit.Event{
		Category:  audit.CategorySecurity,
		Timestamp: time.Now().UTC(),
		Subject:   "42",
		Action:    string(audit.EventRecoveryCompleted),
		Actor:     "0xnewowner",
		NewOwner:  "0xnewowner",
		RequestID: "req-123",
	}
	require.NoError(t, sink.Append(ctx, event))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Broker),
		kgo.ConsumeTopics(DefaultTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.Len(t, records, 1)

	assert.Equal(t, []byte("42"), records[0].Key)

	var got map[string]string
	require.NoError(t, json.Unmarshal(records[0].Value, &got))
	assert.Equal(t, "recovery_completed", got["action"])
	assert.Equal(t, "0xnewowner", got["new_owner"])
	assert.Equal(t, "security", got["category"])
	assert.Equal(t, "req-123", got["request_id"])
}
