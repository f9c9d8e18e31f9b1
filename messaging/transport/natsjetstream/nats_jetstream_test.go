package natsjetstream

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ormkit/messaging"
)

func TestSubjectMapping(t *testing.T) {
	tpt := NewTransport(Config{SubjectPrefix: "app.events"})

	assert.Equal(t, "app.events.User.created", tpt.subject("User.created"))
	assert.Equal(t, "app.events.>", tpt.subjectFor(messaging.Wildcard))
	assert.Equal(t, "app.events.User.*", tpt.subjectFor("User.*"))
	assert.Equal(t, "ormkit-User_all", tpt.durable("User.*"))
	assert.Equal(t, "ormkit-all", tpt.durable("*"))
}

func TestStreamConfig(t *testing.T) {
	sc := NewTransport(Config{MaxAge: time.Hour, Replicas: 3}).streamConfig()
	assert.Equal(t, DefaultStream, sc.Name)
	assert.Equal(t, []string{DefaultSubjectPrefix + ">"}, sc.Subjects)
	assert.Equal(t, nats.LimitsPolicy, sc.Retention)
	assert.Equal(t, time.Hour, sc.MaxAge)
	assert.Equal(t, 3, sc.Replicas)

	sc = NewTransport(Config{Retention: "WorkQueue"}).streamConfig()
	assert.Equal(t, nats.WorkQueuePolicy, sc.Retention)
}

func TestTransport_NotRunning(t *testing.T) {
	tpt := NewTransport(Config{})
	err := tpt.Publish(context.Background(), messaging.NewEvent("main", "User", messaging.ActionCreated, nil))
	require.Error(t, err)

	h := messaging.NewHandler("noop", func(context.Context, messaging.IMessage) error { return nil })
	require.NoError(t, tpt.Subscribe("User.*", h))
	assert.Equal(t, []string{"User.*"}, tpt.Stats().Patterns)
	require.NoError(t, tpt.Unsubscribe("User.*", h))
	assert.Equal(t, 0, tpt.Stats().HandlerCount)
	assert.NoError(t, tpt.Close())
}
