package catalog

// Builtin table definitions for the Linear API, used to seed schema import
// when the remote blocks introspection. Parameterized objects carry the same
// placeholder options the upstream wrapper emits; they must be edited before
// the table is scanned.

func idCol() ColumnDefinition {
	return ColumnDefinition{Name: "id", Type: ColumnTypeText, Nullable: false, Pushdown: true}
}

func textCol(name string) ColumnDefinition {
	return ColumnDefinition{Name: name, Type: ColumnTypeText, Nullable: true}
}

func pushTextCol(name string) ColumnDefinition {
	return ColumnDefinition{Name: name, Type: ColumnTypeText, Nullable: true, Pushdown: true}
}

// refCol exposes the id of a nested reference object ("team_id" -> team.id).
func refCol(name, remote string) ColumnDefinition {
	return ColumnDefinition{Name: name, Type: ColumnTypeText, Nullable: true, FieldPath: remote + ".id"}
}

func floatCol(name string) ColumnDefinition {
	return ColumnDefinition{Name: name, Type: ColumnTypeFloat, Nullable: true}
}

func boolCol(name string) ColumnDefinition {
	return ColumnDefinition{Name: name, Type: ColumnTypeBoolean, Nullable: true}
}

func tsCol(name string) ColumnDefinition {
	return ColumnDefinition{Name: name, Type: ColumnTypeTimestamptz, Nullable: true}
}

func issueColumns(withCycle bool) []ColumnDefinition {
	cols := []ColumnDefinition{
		idCol(),
		pushTextCol("title"),
		textCol("description"),
		floatCol("number"),
		floatCol("priority"),
		floatCol("estimate"),
		{Name: "state", Type: ColumnTypeText, Nullable: true, FieldPath: "state.name"},
		refCol("state_id", "state"),
		refCol("team_id", "team"),
		refCol("assignee_id", "assignee"),
		refCol("creator_id", "creator"),
		refCol("parent_id", "parent"),
		refCol("project_id", "project"),
	}
	if withCycle {
		cols = append(cols, refCol("cycle_id", "cycle"))
	}
	cols = append(cols,
		tsCol("created_at"),
		tsCol("updated_at"),
		tsCol("started_at"),
		tsCol("completed_at"),
		tsCol("archived_at"),
		floatCol("sort_order"),
		tsCol("due_date"),
		textCol("url"),
		ColumnDefinition{Name: "labels", Type: ColumnTypeJSONB, Nullable: true, FieldPath: "labels.nodes"},
	)
	return cols
}

// BuiltinTables returns the default Linear table set for a server, one table
// per known remote object.
func BuiltinTables(serverName string) []ForeignTable {
	return []ForeignTable{
		{
			ServerName: serverName,
			Name:       "issues",
			Object:     "issues",
			Options:    map[string]string{},
			Columns:    issueColumns(true),
		},
		{
			ServerName: serverName,
			Name:       "issue",
			Object:     "issue",
			Options:    map[string]string{"id": "YOUR_ISSUE_ID"},
			Columns:    issueColumns(true),
		},
		{
			ServerName: serverName,
			Name:       "teams",
			Object:     "teams",
			Options:    map[string]string{},
			Columns: []ColumnDefinition{
				idCol(),
				pushTextCol("name"),
				pushTextCol("key"),
				textCol("description"),
				textCol("icon"),
				textCol("color"),
				boolCol("cycles_enabled"),
				floatCol("cycle_start_day"),
				floatCol("cycle_duration"),
				textCol("timezone"),
				boolCol("triage_enabled"),
				boolCol("private"),
				tsCol("created_at"),
				tsCol("updated_at"),
				tsCol("archived_at"),
			},
		},
		{
			ServerName: serverName,
			Name:       "projects",
			Object:     "projects",
			Options:    map[string]string{},
			Columns: []ColumnDefinition{
				idCol(),
				pushTextCol("name"),
				textCol("description"),
				textCol("icon"),
				textCol("color"),
				textCol("state"),
				pushTextCol("slug"),
				refCol("team_id", "team"),
				refCol("creator_id", "creator"),
				refCol("lead_id", "lead"),
				floatCol("sort_order"),
				tsCol("start_date"),
				tsCol("target_date"),
				tsCol("completed_at"),
				tsCol("created_at"),
				tsCol("updated_at"),
				tsCol("archived_at"),
				textCol("url"),
			},
		},
		{
			ServerName: serverName,
			Name:       "project_issues",
			Object:     "project_issues",
			Options:    map[string]string{"project_id": "YOUR_PROJECT_ID"},
			Columns:    issueColumns(false),
		},
		{
			ServerName: serverName,
			Name:       "users",
			Object:     "users",
			Options:    map[string]string{},
			Columns: []ColumnDefinition{
				idCol(),
				pushTextCol("name"),
				pushTextCol("display_name"),
				pushTextCol("email"),
				textCol("avatar_url"),
				textCol("description"),
				textCol("timezone"),
				tsCol("last_seen"),
				boolCol("active"),
				textCol("url"),
				tsCol("created_at"),
				tsCol("updated_at"),
				tsCol("archived_at"),
			},
		},
		{
			ServerName: serverName,
			Name:       "user_assigned_issues",
			Object:     "user_assigned_issues",
			Options:    map[string]string{"user_id": "YOUR_USER_ID"},
			Columns:    issueColumns(false),
		},
		{
			ServerName: serverName,
			Name:       "cycles",
			Object:     "cycles",
			Options:    map[string]string{},
			Columns: []ColumnDefinition{
				idCol(),
				floatCol("number"),
				pushTextCol("name"),
				textCol("description"),
				tsCol("start_date"),
				tsCol("end_date"),
				tsCol("completed_at"),
				refCol("team_id", "team"),
				tsCol("created_at"),
				tsCol("updated_at"),
				tsCol("archived_at"),
			},
		},
		{
			ServerName: serverName,
			Name:       "cycle_issues",
			Object:     "cycle_issues",
			Options:    map[string]string{"cycle_id": "YOUR_CYCLE_ID"},
			Columns:    issueColumns(true),
		},
		{
			ServerName: serverName,
			Name:       "workflow_states",
			Object:     "workflow_states",
			Options:    map[string]string{},
			Columns: []ColumnDefinition{
				idCol(),
				pushTextCol("name"),
				textCol("description"),
				textCol("color"),
				textCol("type"),
				floatCol("position"),
				refCol("team_id", "team"),
				tsCol("created_at"),
				tsCol("updated_at"),
				tsCol("archived_at"),
			},
		},
		{
			ServerName: serverName,
			Name:       "issue_labels",
			Object:     "issue_labels",
			Options:    map[string]string{},
			Columns: []ColumnDefinition{
				idCol(),
				pushTextCol("name"),
				textCol("description"),
				textCol("color"),
				refCol("team_id", "team"),
				tsCol("created_at"),
				tsCol("updated_at"),
				tsCol("archived_at"),
			},
		},
	}
}
