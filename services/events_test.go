package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherFansOut(t *testing.T) {
	a := &recordingListener{}
	b := &recordingListener{}
	d := NewDispatcher(a)
	d.Subscribe(b)

	d.PointsAwarded(PointsAwardedEvent{AccountID: "alice", Delta: 10, At: time.Now()})

	assert.Len(t, a.pointsEvents, 1)
	assert.Len(t, b.pointsEvents, 1)
}

func TestEventFeedFiltersByAccountAndCursor(t *testing.T) {
	feed := NewEventFeed(16)
	now := time.Now()

	feed.OnPointsAwarded(PointsAwardedEvent{AccountID: "alice", Delta: 10, At: now})
	feed.OnPointsAwarded(PointsAwardedEvent{AccountID: "bob", Delta: 5, At: now})
	feed.OnCompetitionEnded(CompetitionEndedEvent{Slug: "cup", At: now})

	// alice sees her own event plus the account-less broadcast.
	events := feed.Since("alice", 0)
	require.Len(t, events, 2)
	assert.Equal(t, "points_awarded", events[0].Type)
	assert.Equal(t, "competition_ended", events[1].Type)

	// The cursor excludes already-delivered events.
	events = feed.Since("alice", events[0].Seq)
	require.Len(t, events, 1)
	assert.Equal(t, "competition_ended", events[0].Type)
}

func TestEventFeedDeliversSameTimestampEvents(t *testing.T) {
	feed := NewEventFeed(16)

	// Two distinct events sharing a wall-clock instant must both survive
	// a cursor advance.
	at := time.Now()
	feed.OnPointsAwarded(PointsAwardedEvent{AccountID: "alice", Delta: 10, At: at})
	feed.OnPointsAwarded(PointsAwardedEvent{AccountID: "alice", Delta: 20, At: at})

	events := feed.Since("alice", 0)
	require.Len(t, events, 2)
	assert.Less(t, events[0].Seq, events[1].Seq)

	remaining := feed.Since("alice", events[0].Seq)
	require.Len(t, remaining, 1)
	payload, ok := remaining[0].Payload.(PointsAwardedEvent)
	require.True(t, ok)
	assert.Equal(t, int64(20), payload.Delta)
}

func TestEventFeedDropsOldestWhenFull(t *testing.T) {
	feed := NewEventFeed(2)

	for i := 0; i < 3; i++ {
		feed.OnPointsAwarded(PointsAwardedEvent{
			AccountID: "alice",
			Delta:     int64(i),
			At:        time.Now(),
		})
	}

	events := feed.Since("alice", 0)
	require.Len(t, events, 2)
	payload, ok := events[0].Payload.(PointsAwardedEvent)
	require.True(t, ok)
	assert.Equal(t, int64(1), payload.Delta)
}
