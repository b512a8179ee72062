package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildExportPath places one exported snapshot under a date-partitioned layout:
// <server>/<table>/date=YYYY-MM-DD/<table>-<timestamp>.parquet.
func BuildExportPath(serverName, tableName string, at time.Time) (string, error) {
	if err := validatePathComponent(serverName, "server name"); err != nil {
		return "", err
	}
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}

	ts := at.UTC()
	return path.Join(
		serverName,
		tableName,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("%s-%s.parquet", tableName, ts.Format("20060102T150405Z")),
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
