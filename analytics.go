package main

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Event types for analytics tracking
const (
	EvtLobbyDispatch = "lobby_dispatch"
	EvtMatchStart    = "match_start"
	EvtMatchEnd      = "match_end"
	EvtPlayerDeath   = "player_death"
)

const (
	analyticsBatchSize     = 50
	analyticsFlushInterval = 5 * time.Second
)

// AnalyticsEvent represents a single trackable event
type AnalyticsEvent struct {
	Type      string
	SessionID string
	Data      string // JSON metadata (optional)
	Timestamp time.Time
}

// Analytics persists match results and lifecycle events off the tick
// goroutine. A nil *Analytics drops everything.
type Analytics struct {
	store   *Store
	events  chan AnalyticsEvent
	matches chan MatchRecord
	stop    chan struct{}
	wg      sync.WaitGroup
	logger  *log.Logger

	// Live metrics (atomic-safe via mutex)
	mu              sync.RWMutex
	concurrentPeers int
	activeSessions  int
}

// NewAnalytics creates and starts the background writer
func NewAnalytics(store *Store, logger *log.Logger) *Analytics {
	a := &Analytics{
		store:   store,
		events:  make(chan AnalyticsEvent, 1024),
		matches: make(chan MatchRecord, 64),
		stop:    make(chan struct{}),
		logger:  logger,
	}
	a.wg.Add(1)
	go a.writer()
	return a
}

// Track enqueues an event for async persistence (non-blocking)
func (a *Analytics) Track(evtType, sessionID, data string) {
	if a == nil {
		return
	}
	select {
	case a.events <- AnalyticsEvent{
		Type:      evtType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}:
	default:
		// Channel full, drop event rather than blocking the game loop
	}
}

// RecordMatch enqueues a finished match (non-blocking)
func (a *Analytics) RecordMatch(rec MatchRecord) {
	if a == nil {
		return
	}
	select {
	case a.matches <- rec:
	default:
		a.logger.Warn("match record dropped, writer busy", "session", rec.SessionID)
	}
}

// SetConcurrentPeers updates live connection count metric
func (a *Analytics) SetConcurrentPeers(n int) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.concurrentPeers = n
	a.mu.Unlock()
}

// SetActiveSessions updates live session count metric
func (a *Analytics) SetActiveSessions(n int) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.activeSessions = n
	a.mu.Unlock()
}

// GetLiveMetrics returns current live metrics
func (a *Analytics) GetLiveMetrics() (int, int) {
	if a == nil {
		return 0, 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.concurrentPeers, a.activeSessions
}

// Stop flushes pending writes and shuts down the writer
func (a *Analytics) Stop() {
	if a == nil {
		return
	}
	close(a.stop)
	a.wg.Wait()
}

// writer is the background goroutine that batches events and writes matches
func (a *Analytics) writer() {
	defer a.wg.Done()

	batch := make([]AnalyticsEvent, 0, analyticsBatchSize)
	ticker := time.NewTicker(analyticsFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case evt := <-a.events:
			batch = append(batch, evt)
			if len(batch) >= analyticsBatchSize {
				a.flush(batch)
				batch = batch[:0]
			}
		case rec := <-a.matches:
			a.writeMatch(rec)
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-a.stop:
			// Drain remaining work
			for {
				select {
				case evt := <-a.events:
					batch = append(batch, evt)
					continue
				case rec := <-a.matches:
					a.writeMatch(rec)
					continue
				default:
				}
				break
			}
			if len(batch) > 0 {
				a.flush(batch)
			}
			return
		}
	}
}

func (a *Analytics) writeMatch(rec MatchRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.RecordMatch(ctx, rec); err != nil {
		a.logger.Error("record match", "session", rec.SessionID, "err", err)
	}
}

// flush writes a batch of events to the database
func (a *Analytics) flush(events []AnalyticsEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.InsertEvents(ctx, events); err != nil {
		a.logger.Error("flush events", "count", len(events), "err", err)
	}
}
