package relay_test

import (
	"testing"
	"time"

	sessionerrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/jrsteele09/go-dashboard-session/relay"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversToOtherEndpointsOnly(t *testing.T) {
	hub := relay.NewHub()
	tabA := hub.Channel("admin-activity")
	tabB := hub.Channel("admin-activity")
	other := hub.Channel("user-activity")

	var gotA, gotB, gotOther []relay.Message
	tabA.Subscribe(func(m relay.Message) { gotA = append(gotA, m) })
	tabB.Subscribe(func(m relay.Message) { gotB = append(gotB, m) })
	other.Subscribe(func(m relay.Message) { gotOther = append(gotOther, m) })

	at := time.Date(2026, 2, 2, 8, 30, 0, 0, time.UTC)
	require.NoError(t, tabA.Broadcast(relay.ActivityMessage(at, "tab-a")))

	require.Empty(t, gotA)
	require.Empty(t, gotOther)
	require.Len(t, gotB, 1)
	require.Equal(t, relay.TypeActivity, gotB[0].Type)
	require.Equal(t, "tab-a", gotB[0].Source)
	require.True(t, at.Equal(gotB[0].Time()))
}

func TestHubUnsubscribeAndClose(t *testing.T) {
	hub := relay.NewHub()
	tabA := hub.Channel("admin-activity")
	tabB := hub.Channel("admin-activity")

	count := 0
	unsubscribe := tabB.Subscribe(func(relay.Message) { count++ })
	require.NoError(t, tabA.Broadcast(relay.ActivityMessage(time.Now(), "a")))
	unsubscribe()
	require.NoError(t, tabA.Broadcast(relay.ActivityMessage(time.Now(), "a")))
	require.Equal(t, 1, count)

	require.NoError(t, tabA.Close())
	require.ErrorIs(t, tabA.Broadcast(relay.ActivityMessage(time.Now(), "a")), sessionerrors.ErrRelayClosed)
}

func TestNoopRelay(t *testing.T) {
	r := relay.Noop()
	called := false
	unsubscribe := r.Subscribe(func(relay.Message) { called = true })
	require.NoError(t, r.Broadcast(relay.ActivityMessage(time.Now(), "a")))
	unsubscribe()
	require.NoError(t, r.Close())
	require.False(t, called)
}
