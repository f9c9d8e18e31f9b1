package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ormkit/messaging"
)

func TestSyncTransport_PublishInline(t *testing.T) {
	tpt := NewSyncTransport()
	evt := messaging.NewEvent("main", "User", messaging.ActionUpdated, map[string]any{"id": 1})
	assert.Error(t, tpt.Publish(context.Background(), evt))

	require.NoError(t, tpt.Start(context.Background()))
	var got []string
	require.NoError(t, tpt.Subscribe("User.*", messaging.NewHandler("rec", func(_ context.Context, m messaging.IMessage) error {
		got = append(got, m.GetType())
		return nil
	})))
	require.NoError(t, tpt.PublishAll(context.Background(), []messaging.IMessage{
		evt,
		messaging.NewEvent("main", "Note", messaging.ActionCreated, nil),
	}))
	assert.Equal(t, []string{"User.updated"}, got)
	assert.True(t, tpt.Stats().Running)

	require.NoError(t, tpt.Close())
	assert.False(t, tpt.Stats().Running)
}

func TestSyncTransport_JoinsHandlerErrors(t *testing.T) {
	tpt := NewSyncTransport()
	require.NoError(t, tpt.Start(context.Background()))
	fail := messaging.NewHandler("fail", func(context.Context, messaging.IMessage) error { return assert.AnError })
	require.NoError(t, tpt.Subscribe("*", fail))
	require.NoError(t, tpt.Subscribe("User.created", fail))

	err := tpt.Publish(context.Background(), messaging.NewEvent("main", "User", messaging.ActionCreated, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "2 errors")
}
