package domain

import (
	"sort"
	"strings"
	"time"
)

// Identity is the canonical "name-realm" key shared by every table.
type Identity string

const identitySeparator = "-"

// Canonical turns a raw addon or sheet name into an Identity. Names that
// already carry a realm are kept as-is, bare names get defaultRealm; a
// trailing separator with no realm counts as a bare name. Empty input or a
// missing name yields the empty Identity, which never matches a roster
// member.
func Canonical(raw, defaultRealm string) Identity {
	raw = strings.TrimRight(strings.TrimSpace(raw), identitySeparator)
	if raw == "" {
		return ""
	}
	if name, _, ok := strings.Cut(raw, identitySeparator); ok {
		if strings.TrimSpace(name) == "" {
			return ""
		}
		return Identity(raw)
	}
	return Identity(raw + identitySeparator + defaultRealm)
}

// Split returns the name and realm halves. The realm may itself contain the
// separator (e.g. "Azjol-Nerub"), so only the first one splits.
func (id Identity) Split() (name, realm string, ok bool) {
	name, realm, ok = strings.Cut(string(id), identitySeparator)
	if !ok || name == "" || realm == "" {
		return "", "", false
	}
	return name, realm, true
}

func (id Identity) String() string { return string(id) }

// Roster is the authoritative membership set of one snapshot. It is always
// rebuilt in full and never patched.
type Roster struct {
	members map[Identity]struct{}
	sorted  []Identity
}

func NewRoster(ids []Identity) Roster {
	r := Roster{members: make(map[Identity]struct{}, len(ids))}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := r.members[id]; dup {
			continue
		}
		r.members[id] = struct{}{}
		r.sorted = append(r.sorted, id)
	}
	sort.Slice(r.sorted, func(i, j int) bool { return r.sorted[i] < r.sorted[j] })
	return r
}

func (r Roster) Len() int { return len(r.sorted) }

func (r Roster) Empty() bool { return len(r.sorted) == 0 }

func (r Roster) Contains(id Identity) bool {
	_, ok := r.members[id]
	return ok
}

// Members returns a sorted copy.
func (r Roster) Members() []Identity {
	out := make([]Identity, len(r.sorted))
	copy(out, r.sorted)
	return out
}

// ActivityEntry holds the chat-derived counters of one member.
type ActivityEntry struct {
	RankName    string
	RankIndex   int
	Total       int
	Daily       map[string]int // keyed by YYYY-MM-DD
	LastSeen    string
	LastSeenTS  int64
	LastMessage string
}

// MessagesOn returns the message count for the local calendar day of t.
func (e ActivityEntry) MessagesOn(t time.Time) int {
	return e.Daily[t.Format(time.DateOnly)]
}

// EventSample is one online-count observation taken by the addon.
type EventSample struct {
	Timestamp   int64
	OnlineCount int
}

func (e EventSample) Time(loc *time.Location) time.Time {
	return time.Unix(e.Timestamp, 0).In(loc)
}

// Snapshot is everything decoded from one read of the addon file.
type Snapshot struct {
	Roster   Roster
	Activity map[Identity]ActivityEntry
	Events   []EventSample

	// HasRoster is false when the file carried no roster section at all.
	HasRoster bool
	ModTime   time.Time
}

// EnrichmentRecord is the upstream profile data stored per member.
type EnrichmentRecord struct {
	Identity          Identity
	Role              string
	Race              string
	Class             string
	Spec              string
	Score             float64
	BestRun           string
	AchievementPoints int
	ProfileURL        string
	ThumbnailURL      string
	UpdatedAt         time.Time
}
