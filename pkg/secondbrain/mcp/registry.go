// Package mcp manages MCP (Model Context Protocol) server entries in the
// Claude CLI's configuration file. A built-in registry describes supported
// servers; install/uninstall edit the mcpServers key of ~/.claude.json,
// leaving every other key untouched.
package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ServerType distinguishes how Claude talks to an MCP server.
type ServerType string

const (
	ServerStdio ServerType = "stdio"
	ServerHTTP  ServerType = "http"
)

// ServerDef describes one supported MCP server.
type ServerDef struct {
	Name        string
	DisplayName string
	Description string
	Type        ServerType

	// Command and Args apply to stdio servers.
	Command string
	Args    []string

	// URL applies to http servers.
	URL string

	// EnvVars maps required environment variable names to a hint shown
	// to the user during install.
	EnvVars map[string]string

	// SetupGuide is markdown walking the user through prerequisites.
	SetupGuide string
}

// Status pairs a registered server definition with its install state.
type Status struct {
	Def       ServerDef
	Installed bool
	NeedsEnv  bool
}

// Registry holds the built-in server definitions, keyed by name.
var Registry = map[string]ServerDef{
	"google-calendar": {
		Name:        "google-calendar",
		DisplayName: "Google Calendar",
		Description: "Read and manage Google Calendar events",
		Type:        ServerStdio,
		Command:     "npx",
		Args:        []string{"-y", "@cocal/google-calendar-mcp"},
		EnvVars: map[string]string{
			"GOOGLE_OAUTH_CREDENTIALS": "Path to Google OAuth credentials JSON file",
		},
		SetupGuide: "**Google Calendar MCP Setup**\n\n" +
			"1. Go to the Google Cloud Console\n" +
			"2. Create a project and enable the Calendar API\n" +
			"3. Create OAuth 2.0 credentials (Desktop app type)\n" +
			"4. Download the credentials JSON file\n" +
			"5. Install with:\n" +
			"   `/mcp install google-calendar GOOGLE_OAUTH_CREDENTIALS=/path/to/credentials.json`",
	},
	"todoist": {
		Name:        "todoist",
		DisplayName: "Todoist",
		Description: "Manage Todoist tasks, projects, and labels",
		Type:        ServerHTTP,
		URL:         "https://ai.todoist.net/mcp",
		SetupGuide: "**Todoist MCP Setup**\n\n" +
			"No configuration needed! Todoist MCP uses the hosted endpoint.\n" +
			"Just run `/mcp install todoist` to enable.",
	},
	"rss-reader": {
		Name:        "rss-reader",
		DisplayName: "RSS Reader",
		Description: "Fetch and read RSS/Atom feed entries",
		Type:        ServerStdio,
		Command:     "npx",
		Args:        []string{"-y", "rss-reader-mcp"},
		SetupGuide: "**RSS Reader MCP Setup**\n\n" +
			"No configuration needed!\n" +
			"Just run `/mcp install rss-reader` to enable.",
	},
}

// claudeConfigEntry is the shape of one mcpServers entry in ~/.claude.json.
type claudeConfigEntry struct {
	Type    string            `json:"type"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	URL     string            `json:"url,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// configEntry converts the definition to the CLI's config format.
func (d ServerDef) configEntry(envValues map[string]string) claudeConfigEntry {
	if d.Type == ServerHTTP {
		return claudeConfigEntry{Type: string(ServerHTTP), URL: d.URL}
	}
	entry := claudeConfigEntry{
		Type:    string(ServerStdio),
		Command: d.Command,
		Args:    append([]string(nil), d.Args...),
	}
	if len(d.EnvVars) > 0 && len(envValues) > 0 {
		entry.Env = make(map[string]string)
		for k := range d.EnvVars {
			if v, ok := envValues[k]; ok {
				entry.Env[k] = v
			}
		}
	}
	return entry
}

// Manager edits MCP server entries in the Claude CLI config file.
type Manager struct {
	configPath string
}

// NewManager creates a Manager over configPath. An empty path defaults to
// ~/.claude.json.
func NewManager(configPath string) *Manager {
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			configPath = filepath.Join(home, ".claude.json")
		} else {
			configPath = ".claude.json"
		}
	}
	return &Manager{configPath: configPath}
}

// Registered returns the built-in definitions, sorted by name.
func (m *Manager) Registered() []ServerDef {
	defs := make([]ServerDef, 0, len(Registry))
	for _, d := range Registry {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Installed returns the mcpServers entries currently in the config file.
func (m *Manager) Installed() (map[string]json.RawMessage, error) {
	config, err := m.readConfig()
	if err != nil {
		return nil, err
	}
	servers := map[string]json.RawMessage{}
	if raw, ok := config["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &servers); err != nil {
			return nil, fmt.Errorf("parsing mcpServers: %w", err)
		}
	}
	return servers, nil
}

// IsInstalled reports whether name is present in the config file.
func (m *Manager) IsInstalled(name string) bool {
	servers, err := m.Installed()
	if err != nil {
		return false
	}
	_, ok := servers[name]
	return ok
}

// Install adds a registered server to the config file. Servers that require
// environment variables reject installs missing any of them, returning an
// error that includes the setup guide.
func (m *Manager) Install(name string, envValues map[string]string) (ServerDef, error) {
	def, ok := Registry[name]
	if !ok {
		names := make([]string, 0, len(Registry))
		for n := range Registry {
			names = append(names, n)
		}
		sort.Strings(names)
		return ServerDef{}, fmt.Errorf("unknown MCP server: %s (available: %s)", name, strings.Join(names, ", "))
	}

	var missing []string
	for k := range def.EnvVars {
		if _, ok := envValues[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return ServerDef{}, fmt.Errorf("missing required environment variables for %s: %s\n\n%s",
			def.DisplayName, strings.Join(missing, ", "), def.SetupGuide)
	}

	config, err := m.readConfig()
	if err != nil {
		return ServerDef{}, err
	}

	servers := map[string]json.RawMessage{}
	if raw, ok := config["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &servers); err != nil {
			return ServerDef{}, fmt.Errorf("parsing mcpServers: %w", err)
		}
	}

	encoded, err := json.Marshal(def.configEntry(envValues))
	if err != nil {
		return ServerDef{}, fmt.Errorf("encoding server entry: %w", err)
	}
	servers[name] = encoded

	if err := m.writeServers(config, servers); err != nil {
		return ServerDef{}, err
	}
	return def, nil
}

// Uninstall removes a server entry. Returns false when it was not installed.
func (m *Manager) Uninstall(name string) (bool, error) {
	config, err := m.readConfig()
	if err != nil {
		return false, err
	}

	servers := map[string]json.RawMessage{}
	if raw, ok := config["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &servers); err != nil {
			return false, fmt.Errorf("parsing mcpServers: %w", err)
		}
	}
	if _, ok := servers[name]; !ok {
		return false, nil
	}

	delete(servers, name)
	if err := m.writeServers(config, servers); err != nil {
		return false, err
	}
	return true, nil
}

// StatusAll reports install status for every registered server, sorted by
// name.
func (m *Manager) StatusAll() ([]Status, error) {
	installed, err := m.Installed()
	if err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(Registry))
	for _, def := range m.Registered() {
		_, ok := installed[def.Name]
		out = append(out, Status{
			Def:       def,
			Installed: ok,
			NeedsEnv:  len(def.EnvVars) > 0,
		})
	}
	return out, nil
}

// readConfig loads the whole config file as raw JSON, preserving keys this
// package does not understand. A missing file reads as empty.
func (m *Manager) readConfig() (map[string]json.RawMessage, error) {
	raw, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", m.configPath, err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return map[string]json.RawMessage{}, nil
	}

	config := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", m.configPath, err)
	}
	return config, nil
}

// writeServers writes the config back with the updated mcpServers key.
func (m *Manager) writeServers(config map[string]json.RawMessage, servers map[string]json.RawMessage) error {
	encoded, err := json.Marshal(servers)
	if err != nil {
		return fmt.Errorf("encoding mcpServers: %w", err)
	}
	config["mcpServers"] = encoded

	out, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(m.configPath, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", m.configPath, err)
	}
	return nil
}
