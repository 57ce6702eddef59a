package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Identity
	}{
		{"bare name gets default realm", "Arthas", "Arthas-Quel'Thalas"},
		{"name with realm is kept", "Jaina-Ragnaros", "Jaina-Ragnaros"},
		{"hyphenated realm is kept", "Thrall-Azjol-Nerub", "Thrall-Azjol-Nerub"},
		{"surrounding spaces trimmed", "  Sylvanas ", "Sylvanas-Quel'Thalas"},
		{"empty", "", ""},
		{"blank", "   ", ""},
		{"trailing separator is a bare name", "Alice-", "Alice-Quel'Thalas"},
		{"repeated trailing separators", "Alice-- ", "Alice-Quel'Thalas"},
		{"realm without name", "-Ragnaros", ""},
		{"separator only", "-", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonical(tt.raw, "Quel'Thalas"))
		})
	}
}

func TestCanonicalIdempotent(t *testing.T) {
	inputs := []string{"Arthas", "Jaina-Ragnaros", "Thrall-Azjol-Nerub", "", " Uther ", "Ünïcødé", "Alice-", "-Ragnaros"}
	for _, raw := range inputs {
		once := Canonical(raw, "Quel'Thalas")
		twice := Canonical(string(once), "Quel'Thalas")
		assert.Equal(t, once, twice, "raw=%q", raw)

		if once != "" {
			name, realm, ok := once.Split()
			require.True(t, ok, "raw=%q", raw)
			assert.NotEmpty(t, name)
			assert.NotEmpty(t, realm)
		}
	}
}

func TestIdentitySplit(t *testing.T) {
	name, realm, ok := Identity("Thrall-Azjol-Nerub").Split()
	require.True(t, ok)
	assert.Equal(t, "Thrall", name)
	assert.Equal(t, "Azjol-Nerub", realm)

	_, _, ok = Identity("NoRealm").Split()
	assert.False(t, ok)

	_, _, ok = Identity("-Realm").Split()
	assert.False(t, ok)
}

func TestRoster(t *testing.T) {
	r := NewRoster([]Identity{"C-Realm", "A-Realm", "", "B-Realm", "A-Realm"})

	assert.Equal(t, 3, r.Len())
	assert.False(t, r.Empty())
	assert.True(t, r.Contains("B-Realm"))
	assert.False(t, r.Contains("Z-Realm"))
	assert.Equal(t, []Identity{"A-Realm", "B-Realm", "C-Realm"}, r.Members())

	members := r.Members()
	members[0] = "mutated"
	assert.Equal(t, Identity("A-Realm"), r.Members()[0])

	assert.True(t, Roster{}.Empty())
	assert.False(t, Roster{}.Contains("A-Realm"))
}

func TestActivityEntryMessagesOn(t *testing.T) {
	e := ActivityEntry{Daily: map[string]int{"2026-10-19": 12}}
	day := time.Date(2026, 10, 19, 23, 0, 0, 0, time.Local)

	assert.Equal(t, 12, e.MessagesOn(day))
	assert.Equal(t, 0, e.MessagesOn(day.AddDate(0, 0, 1)))
}
