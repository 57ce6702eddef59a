package service

import (
	"guild-bridge/internal/config"
	"guild-bridge/internal/constants"
	"guild-bridge/internal/sink"
)

// Members columns: identity in A, chat activity in B..H.
const (
	membersKeyCol      = 0
	membersActivityCol = 1
	mythicKeyCol       = 1
)

var (
	membersHeader = []string{
		"Player", "Rank", "Rank Index", "Messages", "Messages Today", "Last Seen", "Last Seen TS", "Last Message",
	}
	mythicHeader = []string{
		"Avatar", "Player", "Role", "Race", "Class", "Spec", "M+ Score", "Best Key", "Achievements", "Last Update", "Profile URL",
	}
	activityHeader = []string{"Timestamp", "Date", "Time", "Online"}
)

// Tables is the set of worksheets the bridge owns.
type Tables struct {
	Dashboard sink.Table
	Members   sink.Table
	Mythic    sink.Table
	Activity  sink.Table
}

func NewTables(cfg *config.Config) Tables {
	return Tables{
		Dashboard: sink.Table{Name: constants.TableDashboard, Rows: 100, Cols: 26},
		Members: sink.Table{
			Name: cfg.MembersTable, KeyColumn: membersKeyCol, Header: membersHeader, Rows: 100, Cols: 10,
		},
		Mythic: sink.Table{
			Name: constants.TableMythic, KeyColumn: mythicKeyCol, Header: mythicHeader, Rows: 100, Cols: 11,
		},
		Activity: sink.Table{
			Name: constants.TableActivity, KeyColumn: 0, Header: activityHeader, Rows: 1000, Cols: 6,
		},
	}
}

func (t Tables) All() []sink.Table {
	return []sink.Table{t.Dashboard, t.Members, t.Mythic, t.Activity}
}

// Member returns the tables keyed by member identity, the ones pruned on
// every roster change.
func (t Tables) Member() []sink.Table {
	return []sink.Table{t.Members, t.Mythic}
}
