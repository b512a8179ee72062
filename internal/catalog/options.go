package catalog

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ConfigurationError reports an invalid creation-time option. Server and table
// creation fail synchronously on the first one found; nothing is persisted.
type ConfigurationError struct {
	Object string
	Option string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: option %q: %s", e.Object, e.Option, e.Reason)
}

// ServerDefaults supplies fallbacks applied when an option is absent.
type ServerDefaults struct {
	APIURL string
}

// ResolveServerOptions validates the raw option map supplied at server
// creation and produces a normalized ForeignServer. An empty api_key is only
// accepted when allow_anonymous is set, so a placeholder credential cannot
// slip through to scan time.
func ResolveServerOptions(name string, options map[string]string, defaults ServerDefaults) (ForeignServer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ForeignServer{}, &ConfigurationError{Object: "server", Option: "name", Reason: "server name is required"}
	}

	server := ForeignServer{Name: name}

	apiURL := strings.TrimSpace(options["api_url"])
	if apiURL == "" {
		apiURL = defaults.APIURL
	}
	if apiURL == "" {
		return ForeignServer{}, &ConfigurationError{Object: "server " + name, Option: "api_url", Reason: "api_url is required"}
	}
	parsed, err := url.Parse(apiURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ForeignServer{}, &ConfigurationError{Object: "server " + name, Option: "api_url", Reason: "must be an absolute http(s) URL"}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ForeignServer{}, &ConfigurationError{Object: "server " + name, Option: "api_url", Reason: fmt.Sprintf("unsupported scheme %q", parsed.Scheme)}
	}
	server.APIURL = apiURL

	if raw, ok := options["allow_anonymous"]; ok {
		value, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return ForeignServer{}, &ConfigurationError{Object: "server " + name, Option: "allow_anonymous", Reason: "must be a boolean"}
		}
		server.AllowAnonymous = value
	}

	server.APIKey = strings.TrimSpace(options["api_key"])
	if server.APIKey == "" && !server.AllowAnonymous {
		return ForeignServer{}, &ConfigurationError{
			Object: "server " + name,
			Option: "api_key",
			Reason: "api_key is empty; set allow_anonymous 'true' if the remote permits unauthenticated access",
		}
	}

	server.PackageName = strings.TrimSpace(options["fdw_package_name"])
	server.PackageVersion = strings.TrimSpace(options["fdw_package_version"])
	server.PackageURL = strings.TrimSpace(options["fdw_package_url"])

	return server, nil
}

// ResolveTableOptions validates table creation options against the declared
// columns. The object name may be unknown to the registry (deferred to runtime
// discovery), but known objects must carry their required parameter.
func ResolveTableOptions(serverName, tableName string, options map[string]string, columns []ColumnDefinition) (ForeignTable, error) {
	tableName = strings.TrimSpace(tableName)
	if tableName == "" {
		return ForeignTable{}, &ConfigurationError{Object: "table", Option: "name", Reason: "table name is required"}
	}
	label := "table " + tableName

	object := strings.TrimSpace(options["object"])
	if object == "" {
		return ForeignTable{}, &ConfigurationError{Object: label, Option: "object", Reason: "object is required"}
	}

	if spec, ok := LookupObject(object); ok && spec.RequiredOption != "" {
		if strings.TrimSpace(options[spec.RequiredOption]) == "" {
			return ForeignTable{}, &ConfigurationError{
				Object: label,
				Option: spec.RequiredOption,
				Reason: fmt.Sprintf("required for object %q", object),
			}
		}
	}

	if len(columns) == 0 {
		return ForeignTable{}, &ConfigurationError{Object: label, Option: "columns", Reason: "at least one column is required"}
	}
	seen := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		colName := strings.TrimSpace(col.Name)
		if colName == "" {
			return ForeignTable{}, &ConfigurationError{Object: label, Option: "columns", Reason: "column name is required"}
		}
		if _, dup := seen[colName]; dup {
			return ForeignTable{}, &ConfigurationError{Object: label, Option: "columns", Reason: fmt.Sprintf("duplicate column %q", colName)}
		}
		seen[colName] = struct{}{}
		if !col.Type.Valid() {
			return ForeignTable{}, &ConfigurationError{Object: label, Option: "columns", Reason: fmt.Sprintf("column %q has unsupported type %q", colName, col.Type)}
		}
	}

	tableOptions := make(map[string]string, len(options))
	for key, value := range options {
		if key == "object" {
			continue
		}
		tableOptions[key] = strings.TrimSpace(value)
	}

	return ForeignTable{
		ServerName: serverName,
		Name:       tableName,
		Object:     object,
		Options:    tableOptions,
		Columns:    columns,
	}, nil
}
