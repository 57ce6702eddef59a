// Package snapshot reads the addon SavedVariables file into a domain.Snapshot.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"guild-bridge/internal/domain"

	lua "github.com/yuin/gopher-lua"
)

const (
	keyRoster   = "master_roster"
	keyActivity = "data"
	keyEvents   = "stats"

	defaultRankIndex = 99
)

// Decode evaluates the SavedVariables chunk in a Lua state without any
// standard library and converts the addon table it defines.
func Decode(ctx context.Context, content []byte, defaultRealm string) (domain.Snapshot, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return domain.Snapshot{}, domain.ErrEmptySnapshot
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)

	if err := L.DoString(string(content)); err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}

	root, ok := findRoot(L.G.Global)
	if !ok {
		return domain.Snapshot{}, fmt.Errorf("%w: no addon table found", domain.ErrParse)
	}

	snap := domain.Snapshot{Activity: map[domain.Identity]domain.ActivityEntry{}}

	if t, ok := root.RawGetString(keyRoster).(*lua.LTable); ok {
		snap.HasRoster = true
		var ids []domain.Identity
		t.ForEach(func(k, _ lua.LValue) {
			if s, ok := k.(lua.LString); ok {
				if id := domain.Canonical(string(s), defaultRealm); id != "" {
					ids = append(ids, id)
				}
			}
		})
		snap.Roster = domain.NewRoster(ids)
	}

	if t, ok := root.RawGetString(keyActivity).(*lua.LTable); ok {
		t.ForEach(func(k, v lua.LValue) {
			entry, ok := v.(*lua.LTable)
			if !ok {
				return
			}
			id := domain.Canonical(lua.LVAsString(k), defaultRealm)
			if id == "" {
				return
			}
			snap.Activity[id] = decodeActivity(entry)
		})
	}

	if t, ok := root.RawGetString(keyEvents).(*lua.LTable); ok {
		t.ForEach(func(_, v lua.LValue) {
			sample, ok := v.(*lua.LTable)
			if !ok {
				return
			}
			snap.Events = append(snap.Events, domain.EventSample{
				Timestamp:   int64(number(sample, "ts", 0)),
				OnlineCount: int(number(sample, "onlineCount", 0)),
			})
		})
	}

	return snap, nil
}

// findRoot picks the first global table, by name, that carries one of the
// addon sections.
func findRoot(globals *lua.LTable) (*lua.LTable, bool) {
	var names []string
	globals.ForEach(func(k, v lua.LValue) {
		if _, ok := v.(*lua.LTable); ok {
			names = append(names, lua.LVAsString(k))
		}
	})
	sort.Strings(names)

	for _, name := range names {
		t := globals.RawGetString(name).(*lua.LTable)
		for _, key := range []string{keyRoster, keyActivity, keyEvents} {
			if t.RawGetString(key) != lua.LNil {
				return t, true
			}
		}
	}
	return nil, false
}

func decodeActivity(t *lua.LTable) domain.ActivityEntry {
	entry := domain.ActivityEntry{
		RankName:    str(t, "rankName", "-"),
		RankIndex:   int(number(t, "rankIndex", defaultRankIndex)),
		Total:       int(number(t, "total", 0)),
		LastSeen:    str(t, "lastSeen", ""),
		LastSeenTS:  int64(number(t, "lastSeenTS", 0)),
		LastMessage: str(t, "lastMessage", ""),
		Daily:       map[string]int{},
	}
	if daily, ok := t.RawGetString("daily").(*lua.LTable); ok {
		daily.ForEach(func(k, v lua.LValue) {
			if n, ok := v.(lua.LNumber); ok {
				entry.Daily[lua.LVAsString(k)] = int(n)
			}
		})
	}
	return entry
}

func str(t *lua.LTable, key, fallback string) string {
	v := t.RawGetString(key)
	if v == lua.LNil {
		return fallback
	}
	return v.String()
}

func number(t *lua.LTable, key string, fallback float64) float64 {
	switch v := t.RawGetString(key).(type) {
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		if n := lua.LVAsNumber(v); n != 0 {
			return float64(n)
		}
	}
	return fallback
}
