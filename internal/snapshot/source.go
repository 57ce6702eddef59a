package snapshot

import (
	"context"
	"fmt"
	"os"
	"time"

	"guild-bridge/internal/config"
	"guild-bridge/internal/constants"
	"guild-bridge/internal/domain"

	"github.com/rs/zerolog"
)

// Source tracks the addon file modification time and decodes it on demand.
type Source struct {
	path         string
	defaultRealm string
	lastMod      time.Time
	logger       zerolog.Logger
}

func NewSource(cfg *config.Config, logger zerolog.Logger) *Source {
	return &Source{
		path:         cfg.AddonPath,
		defaultRealm: cfg.DefaultRealm,
		logger:       logger,
	}
}

func (s *Source) Path() string { return s.path }

// HasChanged reports whether the file exists and its modification time
// differs from the last one read. The first call on an existing file is
// always true.
func (s *Source) HasChanged() bool {
	info, err := os.Stat(s.path)
	if err != nil || info.IsDir() {
		return false
	}
	return s.lastMod.IsZero() || !info.ModTime().Equal(s.lastMod)
}

// Read decodes the file. The modification time is recorded before
// decoding, so a malformed file is not re-read until it changes again.
func (s *Source) Read(ctx context.Context) (domain.Snapshot, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to stat addon file: %w", err)
	}
	s.lastMod = info.ModTime()

	content, err := os.ReadFile(s.path)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to read addon file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.SnapshotTimeout)
	defer cancel()

	snap, err := Decode(ctx, content, s.defaultRealm)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap.ModTime = info.ModTime()

	s.logger.Debug().
		Int("roster", snap.Roster.Len()).
		Int("activity", len(snap.Activity)).
		Int("events", len(snap.Events)).
		Time("mod_time", snap.ModTime).
		Msg("snapshot decoded")
	return snap, nil
}
