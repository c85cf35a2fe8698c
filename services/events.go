package services

import (
	"sync"
	"time"

	"reward-engine/models"
)

// Engine events replace the implicit hook dispatch of the original system:
// the awarder and the schedulers publish typed events, listeners subscribe
// explicitly at wiring time.

type PointsAwardedEvent struct {
	AccountID   string    `json:"account_id"`
	Category    string    `json:"category"`
	TriggerName string    `json:"trigger_name"`
	Delta       int64     `json:"delta"`
	NewBalance  int64     `json:"new_balance"`
	At          time.Time `json:"at"`
}

type RankChangedEvent struct {
	AccountID string          `json:"account_id"`
	Category  string          `json:"category"`
	From      models.RankTier `json:"from"`
	To        models.RankTier `json:"to"`
	At        time.Time       `json:"at"`
}

type AchievementUnlockedEvent struct {
	AccountID     string    `json:"account_id"`
	AchievementID string    `json:"achievement_id"`
	RewardPoints  int64     `json:"reward_points"`
	At            time.Time `json:"at"`
}

type CompetitionEndedEvent struct {
	CompetitionID string                    `json:"competition_id"`
	Slug          string                    `json:"slug"`
	Standings     []models.ParticipantScore `json:"standings"`
	At            time.Time                 `json:"at"`
}

// EventListener receives engine events. Implementations must not block;
// events are delivered synchronously after the owning transaction commits.
type EventListener interface {
	OnPointsAwarded(PointsAwardedEvent)
	OnRankChanged(RankChangedEvent)
	OnAchievementUnlocked(AchievementUnlockedEvent)
	OnCompetitionEnded(CompetitionEndedEvent)
}

// NoopListener is a base for listeners that only care about some events.
type NoopListener struct{}

func (NoopListener) OnPointsAwarded(PointsAwardedEvent)             {}
func (NoopListener) OnRankChanged(RankChangedEvent)                 {}
func (NoopListener) OnAchievementUnlocked(AchievementUnlockedEvent) {}
func (NoopListener) OnCompetitionEnded(CompetitionEndedEvent)       {}

// Dispatcher fans events out to registered listeners.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners []EventListener
}

func NewDispatcher(listeners ...EventListener) *Dispatcher {
	return &Dispatcher{listeners: listeners}
}

// Subscribe registers an additional listener. Intended for wiring at
// startup, not concurrent runtime mutation.
func (d *Dispatcher) Subscribe(l EventListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

func (d *Dispatcher) snapshot() []EventListener {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]EventListener(nil), d.listeners...)
}

func (d *Dispatcher) PointsAwarded(e PointsAwardedEvent) {
	for _, l := range d.snapshot() {
		l.OnPointsAwarded(e)
	}
}

func (d *Dispatcher) RankChanged(e RankChangedEvent) {
	for _, l := range d.snapshot() {
		l.OnRankChanged(e)
	}
}

func (d *Dispatcher) AchievementUnlocked(e AchievementUnlockedEvent) {
	for _, l := range d.snapshot() {
		l.OnAchievementUnlocked(e)
	}
}

func (d *Dispatcher) CompetitionEnded(e CompetitionEndedEvent) {
	for _, l := range d.snapshot() {
		l.OnCompetitionEnded(e)
	}
}

// EngineEvent is the wire form used by the SSE stream. Seq is a feed-local
// monotonic sequence; streams cursor on it rather than on wall-clock time,
// which can collide.
type EngineEvent struct {
	Seq       uint64      `json:"seq"`
	Type      string      `json:"type"`
	AccountID string      `json:"account_id,omitempty"`
	Payload   interface{} `json:"payload"`
	At        time.Time   `json:"at"`
}

// EventFeed is an in-memory ring buffer of recent engine events backing the
// SSE stream. It drops the oldest events once full; the stream is a
// best-effort notification channel, the ledger remains the durable record.
type EventFeed struct {
	NoopListener

	mu     sync.RWMutex
	buf    []EngineEvent
	size   int
	cursor uint64
}

func NewEventFeed(size int) *EventFeed {
	if size <= 0 {
		size = 256
	}
	return &EventFeed{size: size}
}

func (f *EventFeed) push(e EngineEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor++
	e.Seq = f.cursor
	f.buf = append(f.buf, e)
	if len(f.buf) > f.size {
		f.buf = f.buf[len(f.buf)-f.size:]
	}
}

// Cursor returns the sequence of the newest buffered event. A stream opened
// at this cursor sees only events pushed afterwards.
func (f *EventFeed) Cursor() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cursor
}

func (f *EventFeed) OnPointsAwarded(e PointsAwardedEvent) {
	f.push(EngineEvent{Type: "points_awarded", AccountID: e.AccountID, Payload: e, At: e.At})
}

func (f *EventFeed) OnRankChanged(e RankChangedEvent) {
	f.push(EngineEvent{Type: "rank_changed", AccountID: e.AccountID, Payload: e, At: e.At})
}

func (f *EventFeed) OnAchievementUnlocked(e AchievementUnlockedEvent) {
	f.push(EngineEvent{Type: "achievement_unlocked", AccountID: e.AccountID, Payload: e, At: e.At})
}

func (f *EventFeed) OnCompetitionEnded(e CompetitionEndedEvent) {
	f.push(EngineEvent{Type: "competition_ended", Payload: e, At: e.At})
}

// Since returns buffered events for accountID with a sequence past afterSeq.
// Events with no account (competition endings) are delivered to every stream.
func (f *EventFeed) Since(accountID string, afterSeq uint64) []EngineEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []EngineEvent
	for _, e := range f.buf {
		if e.Seq <= afterSeq {
			continue
		}
		if e.AccountID != "" && e.AccountID != accountID {
			continue
		}
		out = append(out, e)
	}
	return out
}
