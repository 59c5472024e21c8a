// Package session holds the device's installation and session state and
// writes it back to non-volatile storage only when it changed.
package session

import (
	"errors"
	"fmt"
	"log/slog"

	errs "github.com/alexjbarnes/devicelink/internal/errors"
	"github.com/alexjbarnes/devicelink/internal/state"
)

//go:generate mockgen -source=session.go -destination=mock_slot_test.go -package=session

// Field widths in bytes, carried over from the fixed flash layout.
const (
	InstallationIDWidth = 36
	SessionTokenWidth   = 40
	LastPushTimeWidth   = 40
)

// Slot is the single non-volatile record the store persists to.
// *state.State satisfies this interface.
type Slot interface {
	Read() (state.Record, error)
	Write(rec state.Record) error
}

// Snapshot is a copy of the session fields at one point in time.
type Snapshot struct {
	InstallationID string
	SessionToken   string
	LastPushTime   string
}

// Store owns the session fields and a dirty flag. Setters only mark the
// store dirty when a value actually changes; Persist is a no-op while the
// store is clean so flash is not rewritten needlessly.
//
// Store is not safe for concurrent use. The client drives it from a single
// caller.
type Store struct {
	slot   Slot
	logger *slog.Logger

	installationID string
	sessionToken   string
	lastPushTime   string
	dirty          bool
}

// New returns an empty store backed by slot. Call Restore to load the
// persisted fields.
func New(slot Slot, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{slot: slot, logger: logger}
}

// Restore loads the persisted record. A missing, unassigned, corrupt or
// unreadable record leaves every field empty. Restore never fails.
func (s *Store) Restore() {
	s.installationID = ""
	s.sessionToken = ""
	s.lastPushTime = ""
	s.dirty = false

	rec, err := s.slot.Read()
	if err != nil {
		if errors.Is(err, errs.ErrNotAssigned) {
			s.logger.Debug("session restore: nothing is stored")
		} else {
			s.logger.Warn("session restore: treating record as empty", slog.String("error", err.Error()))
		}

		return
	}

	s.installationID = clip(rec.InstallationID, InstallationIDWidth)
	s.sessionToken = clip(rec.SessionToken, SessionTokenWidth)
	s.lastPushTime = clip(rec.LastPushTime, LastPushTimeWidth)

	s.logger.Debug("session restored",
		slog.Bool("has_installation", s.installationID != ""),
		slog.Bool("has_session", s.sessionToken != ""),
		slog.String("last_push_time", s.lastPushTime),
	)
}

// Persist writes the full record when the store is dirty. On failure the
// store stays dirty so the next Persist retries.
func (s *Store) Persist() error {
	if !s.dirty {
		s.logger.Debug("session persist: unchanged, skipping")
		return nil
	}

	err := s.slot.Write(state.Record{
		Assigned:       true,
		InstallationID: s.installationID,
		SessionToken:   s.sessionToken,
		LastPushTime:   s.lastPushTime,
	})
	if err != nil {
		return fmt.Errorf("persisting session: %w", err)
	}

	s.dirty = false
	s.logger.Debug("session persisted")

	return nil
}

// SetInstallationID replaces the installation id. An empty id clears it.
// It reports whether id was cut to InstallationIDWidth.
func (s *Store) SetInstallationID(id string) bool {
	return s.assign(&s.installationID, id, InstallationIDWidth)
}

// SetSessionToken replaces the session token. An empty token clears it.
// It reports whether token was cut to SessionTokenWidth.
func (s *Store) SetSessionToken(token string) bool {
	return s.assign(&s.sessionToken, token, SessionTokenWidth)
}

// ClearSessionToken removes the session token.
func (s *Store) ClearSessionToken() {
	s.assign(&s.sessionToken, "", SessionTokenWidth)
}

// SetLastPushTime records the server time of the newest push received.
// It reports whether ts was cut to LastPushTimeWidth.
func (s *Store) SetLastPushTime(ts string) bool {
	return s.assign(&s.lastPushTime, ts, LastPushTimeWidth)
}

// InstallationID returns the installation id, or "" when unset.
func (s *Store) InstallationID() string { return s.installationID }

// SessionToken returns the session token, or "" when unset.
func (s *Store) SessionToken() string { return s.sessionToken }

// LastPushTime returns the last push time, or "" when none was received.
func (s *Store) LastPushTime() string { return s.lastPushTime }

// Dirty reports whether any field changed since the last restore or persist.
func (s *Store) Dirty() bool { return s.dirty }

// Snapshot returns a copy of the current fields.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		InstallationID: s.installationID,
		SessionToken:   s.sessionToken,
		LastPushTime:   s.lastPushTime,
	}
}

func (s *Store) assign(field *string, v string, width int) bool {
	clipped := clip(v, width)
	if *field != clipped {
		*field = clipped
		s.dirty = true
	}

	return len(clipped) < len(v)
}

func clip(v string, width int) string {
	if len(v) > width {
		return v[:width]
	}

	return v
}
