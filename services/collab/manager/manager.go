// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manager routes users to document sessions and persists them.
//
// # Description
//
// DocumentManager owns the registry of live sessions and the user to
// document routing table. It loads sessions from the snapshot store (and
// replays newer operations from the operation log), mirrors every accepted
// edit to the operation log, writes periodic and on-leave snapshots, and
// evicts idle empty sessions with a background sweep.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Lock order is manager
// mutex, then session mutex. Sessions never call back into the manager.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianCollab/pkg/validation"
	"github.com/AleutianAI/AleutianCollab/services/collab/datatypes"
	"github.com/AleutianAI/AleutianCollab/services/collab/delta"
	"github.com/AleutianAI/AleutianCollab/services/collab/geometry"
	"github.com/AleutianAI/AleutianCollab/services/collab/observability"
	"github.com/AleutianAI/AleutianCollab/services/collab/session"
	"github.com/AleutianAI/AleutianCollab/services/collab/storage"
)

// maxConcurrentFlushes bounds the snapshot writes Shutdown runs at once.
const maxConcurrentFlushes = 16

// Stats summarizes the manager for the stats endpoint.
type Stats struct {
	Sessions  int             `json:"sessions"`
	Users     int             `json:"users"`
	Documents []session.State `json:"documents"`
}

// Option configures a DocumentManager.
type Option func(*DocumentManager)

// WithOperationStore enables the operation log. Without it, edits after the
// last snapshot are lost on restart.
func WithOperationStore(store storage.OperationStore) Option {
	return func(m *DocumentManager) {
		m.operations = store
	}
}

// WithMetrics records Prometheus metrics.
func WithMetrics(metrics *observability.CollabMetrics) Option {
	return func(m *DocumentManager) {
		m.metrics = metrics
	}
}

// WithLogger sets the logger for the manager and its sessions.
func WithLogger(logger *slog.Logger) Option {
	return func(m *DocumentManager) {
		m.logger = logger
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *DocumentManager) {
		m.now = now
	}
}

// DocumentManager is the registry of live document sessions.
type DocumentManager struct {
	cfg        Config
	snapshots  storage.SnapshotStore
	operations storage.OperationStore
	metrics    *observability.CollabMetrics
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*session.Session
	userDocs map[string]string
	closed   bool

	// edits is held shared by every edit from lookup to afterCommit.
	// Shutdown takes it exclusively once closed is set, so no edit lands
	// after the final flush.
	edits sync.RWMutex

	loads   singleflight.Group
	saver   *snapshotter
	sweeper *sweepScheduler
	bg      sync.WaitGroup
}

// New creates a manager.
//
// # Inputs
//
//   - cfg: Lifecycle settings. Zero fields take DefaultConfig values.
//   - snapshots: Where snapshots are written. Nil keeps them in memory.
//   - opts: WithOperationStore, WithMetrics, WithLogger, WithClock.
//
// # Outputs
//
//   - *DocumentManager: Ready to use. Call Start to run the cleanup sweep
//     and Shutdown to flush.
func New(cfg Config, snapshots storage.SnapshotStore, opts ...Option) *DocumentManager {
	if snapshots == nil {
		snapshots = storage.NewMemorySnapshotStore()
	}
	m := &DocumentManager{
		cfg:       cfg.withDefaults(),
		snapshots: snapshots,
		logger:    slog.Default(),
		now:       time.Now,
		sessions:  make(map[string]*session.Session),
		userDocs:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.saver = newSnapshotter(m.snapshots, m.metrics, m.logger)
	m.sweeper = newSweepScheduler(m.cfg.CleanupInterval, m.sweep, m.logger)
	return m
}

// Start runs the cleanup sweep until ctx is cancelled or Shutdown is called.
func (m *DocumentManager) Start(ctx context.Context) error {
	return m.sweeper.Start(ctx)
}

// =============================================================================
// Sessions
// =============================================================================

// GetOrCreateSession returns the live session for docID, loading it if
// needed.
//
// # Description
//
// Concurrent callers for the same docID share one load. When
// initialContent is nil the latest snapshot is loaded and every contiguous
// operation newer than it is replayed from the operation log. When
// initialContent is set it seeds a fresh session at version 0, replacing
// the stored snapshot and clearing the operation log. An unknown document
// starts empty at version 0.
//
// # Outputs
//
//   - *session.Session: The live session.
//   - error: ErrManagerClosed, or a store error.
func (m *DocumentManager) GetOrCreateSession(ctx context.Context, docID string, initialContent *string) (*session.Session, error) {
	if err := validation.ValidateDocumentID(docID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if s, ok := m.sessions[docID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	v, err, _ := m.loads.Do(docID, func() (any, error) {
		m.mu.Lock()
		if s, ok := m.sessions[docID]; ok {
			m.mu.Unlock()
			return s, nil
		}
		m.mu.Unlock()

		s, err := m.loadSession(ctx, docID, initialContent)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return nil, ErrManagerClosed
		}
		m.sessions[docID] = s
		m.updateGaugesLocked()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Session), nil
}

// loadSession builds a session from initialContent or from the stores.
func (m *DocumentManager) loadSession(ctx context.Context, docID string, initialContent *string) (*session.Session, error) {
	ctx, span := startLoadSpan(ctx, docID, initialContent != nil)
	defer span.End()

	opts := []session.Option{
		session.WithMaxHistory(m.cfg.MaxHistorySize),
		session.WithLogger(m.logger),
		session.WithClock(m.now),
	}

	if initialContent != nil {
		s := session.New(docID, datatypes.Snapshot{Content: *initialContent}, opts...)
		err := m.reseed(ctx, s)
		setLoadSpanResult(span, 0, 0, err)
		if err != nil {
			return nil, err
		}
		m.logger.Info("session created with initial content", "document_id", docID)
		return s, nil
	}

	snap, err := m.snapshots.Load(ctx, docID)
	if err != nil {
		err = fmt.Errorf("load snapshot %s: %w", docID, err)
		setLoadSpanResult(span, 0, 0, err)
		return nil, err
	}
	seed := datatypes.Snapshot{}
	if snap != nil {
		seed = *snap
		m.saver.markLoaded(docID, snap.Version)
	}
	s := session.New(docID, seed, opts...)

	recovered := m.recover(ctx, s)
	setLoadSpanResult(span, s.Version(), recovered, nil)
	m.logger.Info("session loaded",
		"document_id", docID,
		"from_snapshot", snap != nil,
		"version", s.Version(),
		"recovered_operations", recovered)
	return s, nil
}

// reseed makes s the stored state of its document. Operations logged by an
// earlier document with the same ID are dropped first, otherwise a later
// load would replay them onto the new content.
func (m *DocumentManager) reseed(ctx context.Context, s *session.Session) error {
	docID := s.ID()
	if m.operations != nil {
		if err := m.operations.Delete(ctx, docID); err != nil {
			return fmt.Errorf("clear operation log %s: %w", docID, err)
		}
	}
	if _, err := m.saver.save(ctx, docID, s.Snapshot(), observability.TriggerSeed); err != nil {
		return err
	}
	return nil
}

// recover replays logged operations newer than the session's version. It
// stops at the first gap or failure; the session stays at the last good
// version.
func (m *DocumentManager) recover(ctx context.Context, s *session.Session) int {
	if m.operations == nil {
		return 0
	}
	ops, err := m.operations.GetOperationsSince(ctx, s.ID(), s.Version())
	if err != nil {
		m.logger.Warn("operation log unavailable, starting from snapshot",
			"document_id", s.ID(), "error", err)
		return 0
	}

	n := 0
	for _, op := range ops {
		if err := s.Replay(op); err != nil {
			m.logger.Warn("operation log replay stopped",
				"document_id", s.ID(),
				"version", s.Version(),
				"op_version", op.Version,
				"error", err)
			break
		}
		n++
	}
	m.metrics.RecordRecovered(n)
	return n
}

// JoinSession routes userID to docID.
//
// # Description
//
// A user already routed elsewhere leaves that document first. The session
// is loaded or created, the user is added (receiving init while everyone
// else receives user-joined), and the routing table is updated. Adding
// happens under the manager lock so the sweep cannot evict the session
// between load and join.
//
// # Outputs
//
//   - *session.Session: The joined session.
//   - error: ErrManagerClosed or a store read error.
func (m *DocumentManager) JoinSession(ctx context.Context, docID, userID string, conn session.ClientConnection, initialContent *string) (*session.Session, error) {
	if err := validation.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if _, ok := m.GetUserDocument(userID); ok {
		if err := m.LeaveSession(ctx, userID); err != nil {
			m.logger.Warn("leaving previous document failed", "user_id", userID, "error", err)
		}
	}

	for {
		s, err := m.GetOrCreateSession(ctx, docID, initialContent)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrManagerClosed
		}
		if m.sessions[docID] != s {
			// Evicted between load and join.
			m.mu.Unlock()
			continue
		}
		s.AddUser(userID, conn)
		m.userDocs[userID] = docID
		m.updateGaugesLocked()
		m.mu.Unlock()
		return s, nil
	}
}

// LeaveSession removes userID from its document. When the session becomes
// empty its snapshot is written before returning. Leaving when not routed
// is a no-op.
func (m *DocumentManager) LeaveSession(ctx context.Context, userID string) error {
	m.mu.Lock()
	docID, ok := m.userDocs[userID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.userDocs, userID)
	s := m.sessions[docID]
	closed := m.closed
	m.updateGaugesLocked()
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	// After Shutdown the final snapshot is already written.
	if empty := s.RemoveUser(userID); !empty || closed {
		return nil
	}
	if _, err := m.saver.save(ctx, docID, s.Snapshot(), observability.TriggerLeave); err != nil {
		m.logger.Error("snapshot on leave failed", "document_id", docID, "error", err)
		return err
	}
	return nil
}

// GetSession returns the live session for docID.
func (m *DocumentManager) GetSession(docID string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[docID]
	return s, ok
}

// HasActiveSession reports whether docID is loaded.
func (m *DocumentManager) HasActiveSession(docID string) bool {
	_, ok := m.GetSession(docID)
	return ok
}

// GetUserDocument returns the document userID is routed to.
func (m *DocumentManager) GetUserDocument(userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docID, ok := m.userDocs[userID]
	return docID, ok
}

// TotalUserCount returns the number of routed users.
func (m *DocumentManager) TotalUserCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.userDocs)
}

// Stats returns a summary of every live session, sorted by document ID.
func (m *DocumentManager) Stats() Stats {
	m.mu.Lock()
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	users := len(m.userDocs)
	m.mu.Unlock()

	docs := make([]session.State, 0, len(sessions))
	for _, s := range sessions {
		docs = append(docs, s.State())
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocumentID < docs[j].DocumentID })
	return Stats{Sessions: len(docs), Users: users, Documents: docs}
}

// sessionFor returns the session userID is routed to.
func (m *DocumentManager) sessionFor(userID string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	docID, ok := m.userDocs[userID]
	if !ok {
		return nil, ErrNotInSession
	}
	s, ok := m.sessions[docID]
	if !ok {
		return nil, ErrNotInSession
	}
	return s, nil
}

// beginEdit looks up userID's session for a state-changing call. The
// returned func must be called once the edit has been persisted.
func (m *DocumentManager) beginEdit(userID string) (*session.Session, func(), error) {
	m.edits.RLock()
	s, err := m.sessionFor(userID)
	if err != nil {
		m.edits.RUnlock()
		return nil, nil, err
	}
	return s, m.edits.RUnlock, nil
}

func (m *DocumentManager) updateGaugesLocked() {
	m.metrics.SetSessions(len(m.sessions), len(m.userDocs))
}

// =============================================================================
// Edits
// =============================================================================

// HandleOperation applies a delta from userID to its document.
//
// # Description
//
// Delegates to Session.ApplyDelta. An accepted edit is mirrored to the
// operation log, and when its version is a multiple of SnapshotInterval a
// snapshot is written in the background. Persistence failures are logged
// and never fail the edit.
//
// # Outputs
//
//   - session.Result: The accepted version and the rebased delta.
//   - error: ErrNotInSession or any session rejection.
func (m *DocumentManager) HandleOperation(ctx context.Context, userID string, req datatypes.DeltaRequest) (session.Result, error) {
	start := m.now()
	s, done, err := m.beginEdit(userID)
	if err != nil {
		m.metrics.RecordEdit("delta", Reason(err), 0)
		return session.Result{}, err
	}
	defer done()

	res, err := s.ApplyDelta(userID, req)
	m.metrics.RecordEdit("delta", Reason(err), m.now().Sub(start).Seconds())
	if err != nil {
		return session.Result{}, err
	}
	m.afterCommit(ctx, s, userID, res, nil)
	return res, nil
}

// HandleEdit applies a positional insert or delete. The position is
// resolved against the target's length at baseVersion and the resulting
// delta goes through HandleOperation's path.
func (m *DocumentManager) HandleEdit(ctx context.Context, userID, targetID string, baseVersion, position int, op delta.Op) (session.Result, error) {
	start := m.now()
	s, done, err := m.beginEdit(userID)
	if err != nil {
		m.metrics.RecordEdit("edit", Reason(err), 0)
		return session.Result{}, err
	}
	defer done()

	res, err := m.applyPositional(s, userID, targetID, baseVersion, position, op)
	m.metrics.RecordEdit("edit", Reason(err), m.now().Sub(start).Seconds())
	if err != nil {
		return session.Result{}, err
	}
	m.afterCommit(ctx, s, userID, res, nil)
	return res, nil
}

func (m *DocumentManager) applyPositional(s *session.Session, userID, targetID string, baseVersion, position int, op delta.Op) (session.Result, error) {
	length, err := s.TargetLengthAt(targetID, baseVersion)
	if err != nil {
		return session.Result{}, err
	}
	d, err := delta.PositionToDelta(position, op, length)
	if err != nil {
		return session.Result{}, fmt.Errorf("%w: %w", session.ErrMalformedDelta, err)
	}
	return s.ApplyDelta(userID, datatypes.DeltaRequest{
		TargetID:    targetID,
		BaseVersion: baseVersion,
		Ops:         d.Ops,
	})
}

// Undo reverts userID's last edit on targetID.
func (m *DocumentManager) Undo(ctx context.Context, userID, targetID string) (session.Result, error) {
	start := m.now()
	s, done, err := m.beginEdit(userID)
	if err != nil {
		m.metrics.RecordEdit("undo", Reason(err), 0)
		return session.Result{}, err
	}
	defer done()

	res, err := s.Undo(userID, targetID)
	m.metrics.RecordEdit("undo", Reason(err), m.now().Sub(start).Seconds())
	if err != nil {
		return session.Result{}, err
	}
	m.afterCommit(ctx, s, userID, res, nil)
	return res, nil
}

// CreateNote adds a sticky note to userID's document.
func (m *DocumentManager) CreateNote(ctx context.Context, userID, targetID, text string, note geometry.Note) (session.Result, error) {
	start := m.now()
	s, done, err := m.beginEdit(userID)
	if err != nil {
		m.metrics.RecordEdit("create_note", Reason(err), 0)
		return session.Result{}, err
	}
	defer done()

	res, err := s.CreateNote(userID, targetID, text, note)
	m.metrics.RecordEdit("create_note", Reason(err), m.now().Sub(start).Seconds())
	if err != nil {
		return session.Result{}, err
	}
	m.afterCommit(ctx, s, userID, res, &note)
	return res, nil
}

// HandleGeometry moves or resizes a sticky note. Geometry is not versioned
// and is persisted by the next snapshot only.
func (m *DocumentManager) HandleGeometry(_ context.Context, userID string, req datatypes.TransformRequest) (geometry.Note, error) {
	s, done, err := m.beginEdit(userID)
	if err != nil {
		return geometry.Note{}, err
	}
	defer done()
	return s.ApplyGeometry(userID, req)
}

// UpdateCursor relays userID's caret to the rest of its document.
func (m *DocumentManager) UpdateCursor(userID string, cursor datatypes.Cursor) error {
	s, err := m.sessionFor(userID)
	if err != nil {
		return err
	}
	return s.UpdateCursor(userID, cursor)
}

// Resync sends userID a fresh init message.
func (m *DocumentManager) Resync(userID string) error {
	s, err := m.sessionFor(userID)
	if err != nil {
		return err
	}
	return s.Resync(userID)
}

// Sync builds a catch-up answer for a client that last saw sinceVersion.
//
// # Description
//
// With compact set, every entry on targetID newer than sinceVersion is
// composed into one delta. Otherwise the raw entries on every target are
// returned in version order.
//
// # Outputs
//
//   - datatypes.SyncMessage: Ready to send.
//   - error: ErrNotInSession, session.ErrVersionAhead or
//     session.ErrStaleBase when the range is no longer retained.
func (m *DocumentManager) Sync(userID string, sinceVersion int, targetID string, compact bool) (datatypes.SyncMessage, error) {
	s, err := m.sessionFor(userID)
	if err != nil {
		return datatypes.SyncMessage{}, err
	}

	if compact {
		d, version, err := s.ComposedSince(sinceVersion, targetID)
		if err != nil {
			return datatypes.SyncMessage{}, err
		}
		return datatypes.SyncMessage{Type: datatypes.TypeSync, Version: version, TargetID: targetID, Delta: &d}, nil
	}

	if current := s.Version(); sinceVersion > current {
		return datatypes.SyncMessage{}, fmt.Errorf("%w: %d > %d", session.ErrVersionAhead, sinceVersion, current)
	}
	entries := s.GetDeltasSince(sinceVersion)
	if len(entries) > 0 && entries[0].Version != sinceVersion+1 {
		return datatypes.SyncMessage{}, fmt.Errorf("%w: %d", session.ErrStaleBase, sinceVersion)
	}
	return datatypes.SyncMessage{
		Type:    datatypes.TypeSync,
		Version: sinceVersion + len(entries),
		Entries: entries,
	}, nil
}

// afterCommit mirrors an accepted edit to the operation log and schedules
// an interval snapshot.
func (m *DocumentManager) afterCommit(ctx context.Context, s *session.Session, userID string, res session.Result, note *geometry.Note) {
	docID := s.ID()

	if m.operations != nil {
		err := m.operations.Save(ctx, datatypes.StoredOperation{
			DocumentID: docID,
			Version:    res.Version,
			Delta:      res.Delta,
			Author:     userID,
			TargetID:   res.TargetID,
			Timestamp:  m.now(),
			Note:       note,
		})
		m.metrics.RecordOperationLogWrite(err == nil)
		if err != nil {
			m.logger.Error("operation log write failed",
				"document_id", docID, "version", res.Version, "error", err)
		}
	}

	if res.Version%m.cfg.SnapshotInterval != 0 {
		return
	}
	snap := s.Snapshot()
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.SaveTimeout)
		defer cancel()
		if _, err := m.saver.save(saveCtx, docID, snap, observability.TriggerInterval); err != nil {
			m.logger.Error("interval snapshot failed", "document_id", docID, "error", err)
		}
	}()
}

// =============================================================================
// Persistence & Lifecycle
// =============================================================================

// SaveDocument writes the current snapshot of a live document.
func (m *DocumentManager) SaveDocument(ctx context.Context, docID string) error {
	s, ok := m.GetSession(docID)
	if !ok {
		return fmt.Errorf("document %q: %w", docID, ErrNotInSession)
	}
	_, err := m.saver.save(ctx, docID, s.Snapshot(), observability.TriggerManual)
	return err
}

// sweep evicts every empty session idle for at least SessionTimeout. It
// does not save: the last leave already did.
func (m *DocumentManager) sweep(_ context.Context) int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for docID, s := range m.sessions {
		if s.UserCount() > 0 || now.Sub(s.LastActivity()) < m.cfg.SessionTimeout {
			continue
		}
		delete(m.sessions, docID)
		m.saver.forget(docID)
		evicted++
		m.logger.Info("evicted idle session", "document_id", docID)
	}
	if evicted > 0 {
		m.metrics.RecordEvicted(evicted)
		m.updateGaugesLocked()
	}
	return evicted
}

// Shutdown stops the sweep, waits for background snapshot writes and then
// snapshots every live session concurrently.
//
// # Outputs
//
//   - error: ctx's error if it expires first, otherwise the joined store
//     errors. Calling Shutdown again returns nil.
func (m *DocumentManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make(map[string]*session.Session, len(m.sessions))
	for id, s := range m.sessions {
		sessions[id] = s
	}
	m.mu.Unlock()

	m.edits.Lock()
	//nolint:staticcheck // empty section waits out edits already in flight
	m.edits.Unlock()

	m.sweeper.Stop()

	waited := make(chan struct{})
	go func() {
		m.bg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return fmt.Errorf("waiting for background snapshots: %w", ctx.Err())
	}

	m.logger.Info("flushing sessions", "count", len(sessions))

	// One failed save must not cancel the others, so the group has no
	// context and every error is collected.
	var (
		errMu sync.Mutex
		errs  []error
		g     errgroup.Group
	)
	g.SetLimit(maxConcurrentFlushes)
	for docID, s := range sessions {
		g.Go(func() error {
			_, err := m.saver.save(ctx, docID, s.Snapshot(), observability.TriggerShutdown)
			if err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
			return err
		})
	}
	flushErr := g.Wait()

	for _, s := range sessions {
		s.CloseConnections()
	}
	if flushErr != nil {
		return errors.Join(errs...)
	}
	return nil
}
