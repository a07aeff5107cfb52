// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session owns the authoritative state of one collaboratively edited
// document and implements the rebase-apply-broadcast protocol.
//
// # Description
//
// A Session holds a version counter, the content of every target (the main
// body under the empty ID plus any sticky notes), the connected users and a
// bounded log of accepted edits. Incoming deltas composed against an older
// version are transformed over every newer entry on the same target before
// being applied, so all clients converge on the same text in the order the
// session accepted the edits.
//
// # Thread Safety
//
// Every exported method is safe for concurrent use. One mutex covers the
// whole rebase, apply, append, broadcast sequence, which makes the session's
// acceptance order the broadcast order.
package session

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianCollab/services/collab/datatypes"
	"github.com/AleutianAI/AleutianCollab/services/collab/delta"
	"github.com/AleutianAI/AleutianCollab/services/collab/geometry"
	"github.com/AleutianAI/AleutianCollab/services/collab/history"
)

// MainTarget is the content key of the main document body.
const MainTarget = ""

// User is one member of a session.
type User struct {
	Connection ClientConnection
	UserID     string
	// Version is the last version this user's edits were acknowledged at.
	Version  int
	JoinedAt time.Time
	Cursor   *datatypes.Cursor
}

// Result describes an accepted edit.
type Result struct {
	Version  int
	Delta    delta.Delta
	TargetID string
}

// State is a point-in-time summary of a session.
type State struct {
	DocumentID   string    `json:"documentId"`
	Version      int       `json:"version"`
	UserCount    int       `json:"userCount"`
	Users        []string  `json:"users"`
	Targets      int       `json:"targets"`
	HistoryLen   int       `json:"historyLen"`
	LastActivity time.Time `json:"lastActivity"`
}

// Option configures a Session.
type Option func(*Session)

// WithMaxHistory bounds the number of retained history entries.
func WithMaxHistory(n int) Option {
	return func(s *Session) {
		s.history = history.NewLog(n)
	}
}

// WithLogger sets the logger. The document ID is attached to every record.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// Session is the authoritative in-memory state of one document.
type Session struct {
	mu sync.Mutex

	id           string
	version      int
	content      map[string]string
	notes        map[string]geometry.Note
	users        map[string]*User
	history      *history.Log
	lastActivity time.Time

	logger *slog.Logger
	now    func() time.Time
}

// New creates a session seeded from snap.
//
// # Inputs
//
//   - documentID: The document this session owns.
//   - snap: Initial content and version. A zero Snapshot starts an empty
//     document at version 0.
//   - opts: WithMaxHistory, WithLogger, WithClock.
//
// # Outputs
//
//   - *Session: Ready-to-use session with no users.
func New(documentID string, snap datatypes.Snapshot, opts ...Option) *Session {
	s := &Session{
		id:      documentID,
		version: snap.Version,
		content: map[string]string{MainTarget: snap.Content},
		notes:   make(map[string]geometry.Note, len(snap.Notes)),
		users:   make(map[string]*User),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for id, text := range snap.Targets {
		if id != MainTarget {
			s.content[id] = text
		}
	}
	maps.Copy(s.notes, snap.Notes)

	for _, opt := range opts {
		opt(s)
	}
	if s.history == nil {
		s.history = history.NewLog(history.DefaultCapacity)
	}
	s.logger = s.logger.With("document_id", documentID)
	s.lastActivity = s.now()
	return s
}

// ID returns the document ID.
func (s *Session) ID() string {
	return s.id
}

// =============================================================================
// Membership
// =============================================================================

// AddUser registers userID at the current version.
//
// # Description
//
// Sends the new user an init message with the full content, then notifies
// every other member with user-joined. Re-adding a user replaces the previous
// membership record and connection.
//
// # Inputs
//
//   - userID: The joining user.
//   - conn: The user's connection. Sends to a closed connection are dropped.
func (s *Session) AddUser(userID string, conn ClientConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[userID] = &User{
		Connection: conn,
		UserID:     userID,
		Version:    s.version,
		JoinedAt:   s.now(),
	}
	s.lastActivity = s.now()

	if conn.IsOpen() {
		conn.Send(s.initMessageLocked(false))
	}
	s.broadcastLocked(userID, func(c ClientConnection) { c.SendUserJoined(userID) })

	s.logger.Info("user joined", "user_id", userID, "version", s.version, "users", len(s.users))
}

// RemoveUser deletes userID's membership and broadcasts user-left.
//
// # Outputs
//
//   - bool: True if the session now has no members.
func (s *Session) RemoveUser(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return len(s.users) == 0
	}
	delete(s.users, userID)
	s.lastActivity = s.now()

	s.broadcastLocked(userID, func(c ClientConnection) { c.SendUserLeft(userID) })
	s.logger.Info("user left", "user_id", userID, "users", len(s.users))
	return len(s.users) == 0
}

// CloseConnections closes every member's connection without removing the
// memberships. Used on shutdown, after the final snapshot.
func (s *Session) CloseConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Connection != nil {
			u.Connection.Close()
		}
	}
}

// Resync sends userID a fresh init message. Used after ErrStaleBase.
func (s *Session) Resync(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrInvalidUser
	}
	u.Version = s.version
	if u.Connection.IsOpen() {
		u.Connection.Send(s.initMessageLocked(true))
	}
	return nil
}

// UpdateCursor stores the user's caret and relays it to everyone else.
func (s *Session) UpdateCursor(userID string, cursor datatypes.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrInvalidUser
	}
	u.Cursor = &cursor
	s.broadcastLocked(userID, func(c ClientConnection) { c.SendCursorUpdate(userID, cursor) })
	return nil
}

// =============================================================================
// Text edits
// =============================================================================

// ApplyDelta accepts a client edit.
//
// # Description
//
// Validates membership and target, parses the ops, rebases them over every
// retained entry on the same target newer than BaseVersion, applies the
// result, bumps the version, records the entry and broadcasts the rebased
// delta to every other member.
//
// # Inputs
//
//   - userID: The author. Must be a member.
//   - req: Target, base version and raw ops.
//
// # Outputs
//
//   - Result: The new version and the delta actually applied.
//   - error: ErrInvalidUser, ErrInvalidTarget, ErrMalformedDelta,
//     ErrVersionAhead or ErrStaleBase. Nothing is mutated on error.
func (s *Session) ApplyDelta(userID string, req datatypes.DeltaRequest) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return Result{}, ErrInvalidUser
	}
	if _, ok := s.content[req.TargetID]; !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidTarget, req.TargetID)
	}

	d, err := delta.Parse(req.Ops)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrMalformedDelta, err)
	}

	rebased, err := s.rebaseLocked(d, req.BaseVersion, req.TargetID)
	if err != nil {
		return Result{}, err
	}

	entry, err := s.commitLocked(userID, req.TargetID, rebased)
	if err != nil {
		return Result{}, err
	}

	s.broadcastLocked(userID, func(c ClientConnection) {
		c.SendDelta(entry.Delta, entry.Version, userID, entry.TargetID)
	})
	return Result{Version: entry.Version, Delta: entry.Delta, TargetID: entry.TargetID}, nil
}

// rebaseLocked transforms d, composed at baseVersion, over every newer entry
// on targetID.
func (s *Session) rebaseLocked(d delta.Delta, baseVersion int, targetID string) (delta.Delta, error) {
	switch {
	case baseVersion > s.version:
		s.logger.Warn("rejecting delta from the future",
			"base_version", baseVersion, "version", s.version)
		return delta.Delta{}, fmt.Errorf("%w: base %d, document %d", ErrVersionAhead, baseVersion, s.version)
	case baseVersion < 0:
		return delta.Delta{}, fmt.Errorf("%w: negative base version %d", ErrMalformedDelta, baseVersion)
	case baseVersion == s.version:
		return d, nil
	case baseVersion < s.version-s.history.Len():
		return delta.Delta{}, fmt.Errorf("%w: base %d, oldest retained %d",
			ErrStaleBase, baseVersion, s.version-s.history.Len()+1)
	}

	concurrent := history.Deltas(s.history.SinceOnTarget(baseVersion, targetID))
	return delta.TransformAgainstSequence(d, concurrent), nil
}

// commitLocked applies d to targetID and records it as the next version.
func (s *Session) commitLocked(userID, targetID string, d delta.Delta) (history.Entry, error) {
	before := s.content[targetID]
	after, err := delta.Apply(before, d)
	if err != nil {
		return history.Entry{}, fmt.Errorf("%w: %w", ErrMalformedDelta, err)
	}
	inverse, err := delta.Invert(d, before)
	if err != nil {
		return history.Entry{}, fmt.Errorf("%w: %w", ErrMalformedDelta, err)
	}

	if got, want := utf8.RuneCountInString(after), utf8.RuneCountInString(before)+delta.GetLengthChange(d); got != want {
		return history.Entry{}, fmt.Errorf("%w: length %d after apply, expected %d", ErrMalformedDelta, got, want)
	}

	s.version++
	s.content[targetID] = after
	entry := history.NewEntry(d, inverse, s.version, userID, targetID, s.now())
	s.history.Append(entry)
	if u, ok := s.users[userID]; ok {
		u.Version = s.version
	}
	s.lastActivity = entry.Timestamp

	s.logger.Debug("delta applied",
		"user_id", userID,
		"target_id", targetID,
		"version", s.version,
		"length_change", delta.GetLengthChange(d))
	return entry, nil
}

// Undo reverts the user's most recent retained edit on targetID.
//
// # Description
//
// The stored inverse of that edit is transformed over every later entry on
// the same target and then committed as a new edit, so undo is itself
// versioned and broadcast like any other delta. Undoing twice in a row
// reverts the undo.
//
// # Outputs
//
//   - Result: The new version and the applied inverse.
//   - error: ErrInvalidUser, ErrInvalidTarget or ErrNothingToUndo.
func (s *Session) Undo(userID, targetID string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return Result{}, ErrInvalidUser
	}
	if _, ok := s.content[targetID]; !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidTarget, targetID)
	}

	last, ok := s.history.LastBy(userID, targetID)
	if !ok {
		return Result{}, ErrNothingToUndo
	}
	later := history.Deltas(s.history.SinceOnTarget(last.Version, targetID))
	inverse := delta.TransformAgainstSequence(last.Inverse(), later)

	entry, err := s.commitLocked(userID, targetID, inverse)
	if err != nil {
		return Result{}, err
	}
	s.broadcastLocked(userID, func(c ClientConnection) {
		c.SendDelta(entry.Delta, entry.Version, userID, entry.TargetID)
	})
	return Result{Version: entry.Version, Delta: entry.Delta, TargetID: targetID}, nil
}

// CreateNote adds a sticky-note target holding text.
//
// # Description
//
// Creation is a versioned edit: the initial text is recorded as an insert
// entry on the new target so that replaying history reproduces it. Other
// members receive a note-created message.
//
// # Outputs
//
//   - Result: The new version and the initial insert.
//   - error: ErrInvalidUser, ErrInvalidTarget for the empty ID, or
//     ErrTargetExists.
func (s *Session) CreateNote(userID, targetID, text string, note geometry.Note) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return Result{}, ErrInvalidUser
	}
	if targetID == MainTarget {
		return Result{}, fmt.Errorf("%w: note ID must not be empty", ErrInvalidTarget)
	}
	if _, ok := s.content[targetID]; ok {
		return Result{}, fmt.Errorf("%w: %q", ErrTargetExists, targetID)
	}

	s.content[targetID] = ""
	entry, err := s.commitLocked(userID, targetID, delta.New(delta.Insert{Text: text}))
	if err != nil {
		delete(s.content, targetID)
		return Result{}, err
	}
	s.notes[targetID] = note

	msg := datatypes.NoteCreatedMessage{
		Type:     datatypes.TypeNote,
		TargetID: targetID,
		Text:     text,
		Note:     note,
		Version:  entry.Version,
		Author:   userID,
	}
	s.broadcastLocked(userID, func(c ClientConnection) { c.Send(msg) })
	return Result{Version: entry.Version, Delta: entry.Delta, TargetID: targetID}, nil
}

// Replay applies an operation recovered from the operation log. It does not
// broadcast and does not require the author to be a member.
//
// # Outputs
//
//   - error: ErrOutOfOrder unless op.Version is exactly the next version,
//     ErrMalformedDelta if the delta does not fit.
func (s *Session) Replay(op datatypes.StoredOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if op.Version != s.version+1 {
		return fmt.Errorf("%w: have %d, got %d", ErrOutOfOrder, s.version, op.Version)
	}

	_, exists := s.content[op.TargetID]
	if !exists {
		if op.Note == nil {
			return fmt.Errorf("%w: %q", ErrInvalidTarget, op.TargetID)
		}
		s.content[op.TargetID] = ""
	}
	if _, err := s.commitLocked(op.Author, op.TargetID, op.Delta); err != nil {
		if !exists {
			delete(s.content, op.TargetID)
		}
		return err
	}
	if op.Note != nil {
		s.notes[op.TargetID] = *op.Note
	}
	return nil
}

// =============================================================================
// Geometry
// =============================================================================

// ApplyGeometry moves or resizes a sticky note.
//
// # Description
//
// Spatial edits are last-writer-wins: they are applied as received, do not
// bump the text version and are never rebased. Other members receive a
// transform message carrying the resulting box.
//
// # Outputs
//
//   - geometry.Note: The note after the transform.
//   - error: ErrInvalidUser, ErrInvalidTarget or ErrMalformedTransform.
func (s *Session) ApplyGeometry(userID string, req datatypes.TransformRequest) (geometry.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return geometry.Note{}, ErrInvalidUser
	}
	note, ok := s.notes[req.TargetID]
	if !ok {
		return geometry.Note{}, fmt.Errorf("%w: no note %q", ErrInvalidTarget, req.TargetID)
	}
	if err := req.Transform.Validate(); err != nil {
		return geometry.Note{}, fmt.Errorf("%w: %w", ErrMalformedTransform, err)
	}

	t := geometry.Normalize(req.Transform)
	note = geometry.ApplyTransform(note, t)
	s.notes[req.TargetID] = note
	s.lastActivity = s.now()

	msg := datatypes.TransformMessage{
		Type:      datatypes.TypeTransform,
		UserID:    userID,
		TargetID:  req.TargetID,
		Transform: t,
		Note:      note,
	}
	s.broadcastLocked(userID, func(c ClientConnection) { c.Send(msg) })
	return note, nil
}

// =============================================================================
// Catch-up
// =============================================================================

// GetDeltasSince returns every retained entry newer than version.
func (s *Session) GetDeltasSince(version int) []history.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Since(version)
}

// ComposedSince collapses every entry on targetID newer than version into one
// delta.
//
// # Outputs
//
//   - delta.Delta: Applying it to the target as of version yields the
//     current text.
//   - int: The current version.
//   - error: ErrVersionAhead or ErrStaleBase.
func (s *Session) ComposedSince(version int, targetID string) (delta.Delta, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRetainedLocked(version); err != nil {
		return delta.Delta{}, 0, err
	}
	composed := delta.Delta{}
	for _, e := range s.history.SinceOnTarget(version, targetID) {
		composed = delta.Compose(composed, e.Delta)
	}
	return composed, s.version, nil
}

// TargetLengthAt returns the rune length targetID had at a retained version.
// Positional edits use it to build a delta against their base version.
func (s *Session) TargetLengthAt(targetID string, version int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	text, ok := s.content[targetID]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTarget, targetID)
	}
	if err := s.checkRetainedLocked(version); err != nil {
		return 0, err
	}
	n := utf8.RuneCountInString(text)
	for _, e := range s.history.SinceOnTarget(version, targetID) {
		n -= delta.GetLengthChange(e.Delta)
	}
	return n, nil
}

func (s *Session) checkRetainedLocked(version int) error {
	if version > s.version {
		return fmt.Errorf("%w: %d > %d", ErrVersionAhead, version, s.version)
	}
	if version < s.version-s.history.Len() {
		return fmt.Errorf("%w: %d", ErrStaleBase, version)
	}
	return nil
}

// =============================================================================
// Accessors
// =============================================================================

// Version returns the current version.
func (s *Session) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Content returns the main document body.
func (s *Session) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content[MainTarget]
}

// TargetContent returns the text of one target.
func (s *Session) TargetContent(targetID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.content[targetID]
	return text, ok
}

// Note returns the geometry of one sticky note.
func (s *Session) Note(targetID string) (geometry.Note, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[targetID]
	return n, ok
}

// Snapshot captures content and version consistently.
func (s *Session) Snapshot() datatypes.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() datatypes.Snapshot {
	snap := datatypes.Snapshot{
		Content:   s.content[MainTarget],
		Version:   s.version,
		Timestamp: s.now(),
	}
	if len(s.content) > 1 {
		snap.Targets = make(map[string]string, len(s.content)-1)
		for id, text := range s.content {
			if id != MainTarget {
				snap.Targets[id] = text
			}
		}
	}
	if len(s.notes) > 0 {
		snap.Notes = maps.Clone(s.notes)
	}
	return snap
}

// UserCount returns the number of members.
func (s *Session) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// HasUser reports whether userID is a member.
func (s *Session) HasUser(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[userID]
	return ok
}

// User returns a copy of a member record.
func (s *Session) User(userID string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// LastActivity returns when the session last changed.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// State returns a summary for stats endpoints.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		DocumentID:   s.id,
		Version:      s.version,
		UserCount:    len(s.users),
		Users:        s.userIDsLocked(),
		Targets:      len(s.content),
		HistoryLen:   s.history.Len(),
		LastActivity: s.lastActivity,
	}
}

// =============================================================================
// Internal
// =============================================================================

func (s *Session) userIDsLocked() []string {
	return slices.Sorted(maps.Keys(s.users))
}

func (s *Session) initMessageLocked(resynced bool) datatypes.InitMessage {
	snap := s.snapshotLocked()
	return datatypes.InitMessage{
		Type:     datatypes.TypeInit,
		Content:  snap.Content,
		Targets:  snap.Targets,
		Notes:    snap.Notes,
		Version:  snap.Version,
		Users:    s.userIDsLocked(),
		Resynced: resynced,
	}
}

// broadcastLocked calls send for every open connection except the one
// belonging to exclude.
func (s *Session) broadcastLocked(exclude string, send func(ClientConnection)) {
	for id, u := range s.users {
		if id == exclude || u.Connection == nil || !u.Connection.IsOpen() {
			continue
		}
		send(u.Connection)
	}
}
