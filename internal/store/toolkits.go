package store

import (
	"encoding/json"
	"fmt"

	"github.com/mtzanidakis/sminos/internal/toolkit"
)

// GetProfileToolkit queries the normalized toolkit tables and returns a
// JSON string matching the ProfileToolkit structure.
func (s *Store) GetProfileToolkit(profileID string) (string, error) {
	var tk toolkit.ProfileToolkit

	// MCP Servers
	mcpRows, err := s.db.Query(`SELECT name, config FROM profile_mcp_servers WHERE profile_id = ?`, profileID)
	if err != nil {
		return "", fmt.Errorf("query mcp servers: %w", err)
	}
	defer mcpRows.Close()

	for mcpRows.Next() {
		var name, cfgJSON string
		if err := mcpRows.Scan(&name, &cfgJSON); err != nil {
			return "", fmt.Errorf("scan mcp server: %w", err)
		}
		var cfg toolkit.MCPServerConfig
		if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
			return "", fmt.Errorf("unmarshal mcp server %q: %w", name, err)
		}
		if tk.MCPServers == nil {
			tk.MCPServers = make(map[string]toolkit.MCPServerConfig)
		}
		tk.MCPServers[name] = cfg
	}
	if err := mcpRows.Err(); err != nil {
		return "", fmt.Errorf("mcp server rows: %w", err)
	}

	// Playbooks
	pbRows, err := s.db.Query(`SELECT name, description, content, requires FROM profile_playbooks WHERE profile_id = ?`, profileID)
	if err != nil {
		return "", fmt.Errorf("query playbooks: %w", err)
	}
	defer pbRows.Close()

	for pbRows.Next() {
		var name, desc, content, reqJSON string
		if err := pbRows.Scan(&name, &desc, &content, &reqJSON); err != nil {
			return "", fmt.Errorf("scan playbook: %w", err)
		}
		pb := toolkit.PlaybookConfig{
			Description: desc,
			Content:     content,
		}
		if reqJSON != "" && reqJSON != "[]" && reqJSON != "null" {
			_ = json.Unmarshal([]byte(reqJSON), &pb.Requires)
		}
		if tk.Playbooks == nil {
			tk.Playbooks = make(map[string]toolkit.PlaybookConfig)
		}
		tk.Playbooks[name] = pb
	}
	if err := pbRows.Err(); err != nil {
		return "", fmt.Errorf("playbook rows: %w", err)
	}

	data, err := json.Marshal(tk)
	if err != nil {
		return "", fmt.Errorf("marshal toolkit: %w", err)
	}
	return string(data), nil
}

// SetProfileToolkit parses a JSON string and writes the toolkit data into
// the normalized tables. All existing rows for the profile are replaced
// within a transaction.
func (s *Store) SetProfileToolkit(profileID, toolkitJSON string) error {
	tk, err := toolkit.Parse(toolkitJSON)
	if err != nil {
		return fmt.Errorf("parse toolkit: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Delete existing rows
	for _, table := range []string{"profile_mcp_servers", "profile_playbooks"} {
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE profile_id = ?`, table), profileID); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}

	// Insert MCP servers
	for name, srv := range tk.MCPServers {
		cfgJSON, err := json.Marshal(srv)
		if err != nil {
			return fmt.Errorf("marshal mcp server %q: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO profile_mcp_servers (profile_id, name, config) VALUES (?, ?, ?)`,
			profileID, name, string(cfgJSON)); err != nil {
			return fmt.Errorf("insert mcp server %q: %w", name, err)
		}
	}

	// Insert playbooks
	for name, pb := range tk.Playbooks {
		reqJSON, _ := json.Marshal(pb.Requires)
		if _, err := tx.Exec(`INSERT INTO profile_playbooks (profile_id, name, description, content, requires) VALUES (?, ?, ?, ?, ?)`,
			profileID, name, pb.Description, pb.Content, string(reqJSON)); err != nil {
			return fmt.Errorf("insert playbook %q: %w", name, err)
		}
	}

	// Touch updated_at on profile
	if _, err := tx.Exec(`UPDATE worker_profiles SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, profileID); err != nil {
		return fmt.Errorf("update profile timestamp: %w", err)
	}

	return tx.Commit()
}
