package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ormkit/config"
	"ormkit/errors"
	"ormkit/messaging"
	"ormkit/messaging/transport/memory"
	"ormkit/messaging/transport/natsjetstream"
	"ormkit/messaging/transport/redisstreams"
)

func TestOpen(t *testing.T) {
	tpt, err := Open(nil)
	require.NoError(t, err)
	assert.IsType(t, &memory.Transport{}, tpt)

	tpt, err = Open(&config.Events{Transport: config.TransportMemory, Workers: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, tpt.Stats().WorkerCount)

	tpt, err = Open(&config.Events{Transport: config.TransportRedis, URL: "localhost:6379"})
	require.NoError(t, err)
	assert.IsType(t, &redisstreams.Transport{}, tpt)
	require.NoError(t, tpt.Close())

	_, err = Open(&config.Events{Transport: config.TransportRedis})
	assert.True(t, errors.IsConfiguration(err))

	tpt, err = Open(&config.Events{Transport: config.TransportNATS})
	require.NoError(t, err)
	assert.IsType(t, &natsjetstream.Transport{}, tpt)

	_, err = Open(&config.Events{Transport: "kafka"})
	assert.True(t, errors.IsConfiguration(err))
}

func TestNewBus_Memory(t *testing.T) {
	bus, err := NewBus(context.Background(), &config.Events{Transport: config.TransportMemory})
	require.NoError(t, err)
	defer bus.Transport().Close()

	got := make(chan string, 1)
	require.NoError(t, bus.Subscribe(context.Background(), "*", messaging.NewHandler("rec", func(_ context.Context, m messaging.IMessage) error {
		got <- m.GetType()
		return nil
	})))
	require.NoError(t, bus.Publish(context.Background(), messaging.NewEvent("main", "User", messaging.ActionCreated, nil)))
	assert.Equal(t, "User.created", <-got)
}
