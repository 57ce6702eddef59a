package api

import (
	"fmt"
	"time"

	"guild-bridge/internal/domain"
)

// OutcomeKind enumerates every result of a profile fetch.
type OutcomeKind int

const (
	OutcomeProfile OutcomeKind = iota
	OutcomeNotFound
	OutcomeBadRequest
	OutcomeHTTPError
	OutcomeTransportError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeProfile:
		return "profile"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeBadRequest:
		return "bad_request"
	case OutcomeHTTPError:
		return "http_error"
	case OutcomeTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Profile is the subset of a character profile the bridge stores. Score is
// 0 when the character has no current-season data and BestRun is empty when
// no run is recorded.
type Profile struct {
	Class             string
	Spec              string
	Role              string
	Race              string
	AchievementPoints int
	ProfileURL        string
	ThumbnailURL      string
	Score             float64
	BestRun           string
}

// Record stamps the profile with the member and fetch time it belongs to.
func (p Profile) Record(id domain.Identity, at time.Time) domain.EnrichmentRecord {
	return domain.EnrichmentRecord{
		Identity:          id,
		Role:              p.Role,
		Race:              p.Race,
		Class:             p.Class,
		Spec:              p.Spec,
		Score:             p.Score,
		BestRun:           p.BestRun,
		AchievementPoints: p.AchievementPoints,
		ProfileURL:        p.ProfileURL,
		ThumbnailURL:      p.ThumbnailURL,
		UpdatedAt:         at,
	}
}

// Outcome is a tagged result: Profile is set only for OutcomeProfile,
// StatusCode for HTTP outcomes and Err for transport failures.
type Outcome struct {
	Kind       OutcomeKind
	Profile    Profile
	StatusCode int
	Err        error
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeProfile:
		return fmt.Sprintf("profile(score=%g)", o.Profile.Score)
	case OutcomeHTTPError:
		return fmt.Sprintf("http_error(%d)", o.StatusCode)
	case OutcomeTransportError:
		return fmt.Sprintf("transport_error(%v)", o.Err)
	default:
		return o.Kind.String()
	}
}
