package bbsstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// These are the keys the config table recognizes; GetConfig treats any
// absent key as its zero value rather than an error, so a fresh database
// has sane defaults.
const (
	cfgMOTD           = "motd"
	cfgOperator       = "operator"
	cfgBlacklist      = "blacklist"
	cfgJobsEnabled    = "jobs_enabled"
	cfgJobsConfig     = "jobs_config"
	cfgServerCallsign = "server_callsign"
	cfgServerName     = "server_name"
)

func (tx *Tx) getConfigValue(key string) (string, bool, error) {
	var v string
	err := tx.tx.QueryRow(`SELECT value FROM config WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (tx *Tx) setConfigValue(key, value string) error {
	_, err := tx.tx.Exec(`INSERT INTO config(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// GetConfig loads the whole configuration mapping, defaulting any unset key.
func (tx *Tx) GetConfig() (Config, error) {
	var c Config
	if v, ok, err := tx.getConfigValue(cfgMOTD); err != nil {
		return Config{}, err
	} else if ok {
		c.MOTD = v
	}
	if v, ok, err := tx.getConfigValue(cfgOperator); err != nil {
		return Config{}, err
	} else if ok {
		c.Operator = v
	}
	if v, ok, err := tx.getConfigValue(cfgBlacklist); err != nil {
		return Config{}, err
	} else if ok {
		_ = json.Unmarshal([]byte(v), &c.Blacklist)
	}
	if v, ok, err := tx.getConfigValue(cfgJobsEnabled); err != nil {
		return Config{}, err
	} else if ok {
		c.JobsEnabled = v == "true"
	}
	if v, ok, err := tx.getConfigValue(cfgJobsConfig); err != nil {
		return Config{}, err
	} else if ok {
		_ = json.Unmarshal([]byte(v), &c.JobsConfig)
	}
	if v, ok, err := tx.getConfigValue(cfgServerCallsign); err != nil {
		return Config{}, err
	} else if ok {
		c.ServerCallsign = v
	}
	if v, ok, err := tx.getConfigValue(cfgServerName); err != nil {
		return Config{}, err
	} else if ok {
		c.ServerName = v
	}
	return c, nil
}

// SetConfig persists the whole configuration mapping. The SYSTEM identity
// is permanently blacklisted: it is re-added here if a caller dropped it.
func (tx *Tx) SetConfig(c Config) error {
	hasSystem := false
	for _, b := range c.Blacklist {
		if normCallsign(b) == SystemCallsign {
			hasSystem = true
			break
		}
	}
	if !hasSystem {
		c.Blacklist = append([]string{SystemCallsign}, c.Blacklist...)
	}
	blJSON, err := json.Marshal(c.Blacklist)
	if err != nil {
		return fmt.Errorf("bbsstore: marshal blacklist: %w", err)
	}
	jcJSON, err := json.Marshal(c.JobsConfig)
	if err != nil {
		return fmt.Errorf("bbsstore: marshal jobs_config: %w", err)
	}
	enabled := "false"
	if c.JobsEnabled {
		enabled = "true"
	}
	for k, v := range map[string]string{
		cfgMOTD:           c.MOTD,
		cfgOperator:       c.Operator,
		cfgBlacklist:      string(blJSON),
		cfgJobsEnabled:    enabled,
		cfgJobsConfig:     string(jcJSON),
		cfgServerCallsign: c.ServerCallsign,
		cfgServerName:     c.ServerName,
	} {
		if err := tx.setConfigValue(k, v); err != nil {
			return fmt.Errorf("bbsstore: set config %s: %w", k, err)
		}
	}
	return nil
}

// IsBlacklisted reports whether callsign appears in the blacklist.
func (tx *Tx) IsBlacklisted(callsign string) (bool, error) {
	c, err := tx.GetConfig()
	if err != nil {
		return false, err
	}
	callsign = normCallsign(callsign)
	for _, b := range c.Blacklist {
		if normCallsign(b) == callsign {
			return true, nil
		}
	}
	return false, nil
}
