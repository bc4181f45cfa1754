// Package config defines the connection configurations the UI persists
// and the server's own settings file.
package config

import (
	"fmt"
	"net/url"
	"strings"
)

// PgConfig is a PostgreSQL connection configuration. Slot and
// publication names are reserved for logical-replication support.
type PgConfig struct {
	Host            string `json:"host" mapstructure:"host"`
	Port            uint16 `json:"port" mapstructure:"port"`
	User            string `json:"user" mapstructure:"user"`
	Password        string `json:"password" mapstructure:"password"`
	Database        string `json:"database" mapstructure:"database"`
	UseSSL          bool   `json:"use_ssl" mapstructure:"use_ssl"`
	SlotName        string `json:"slot_name" mapstructure:"slot_name"`
	PublicationName string `json:"publication_name" mapstructure:"publication_name"`
}

// DefaultPgConfig mirrors the defaults the UI offers in its connection
// dialog.
func DefaultPgConfig() PgConfig {
	return PgConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Database:        "postgres",
		SlotName:        "tabletrace_slot",
		PublicationName: "tabletrace_pub",
	}
}

// ConnString builds a pgx connection URL. The SSL flag maps to
// sslmode=require without certificate verification, which matches the
// self-signed setups the desktop app is pointed at during development.
func (c PgConfig) ConnString() string {
	sslmode := "disable"
	if c.UseSSL {
		sslmode = "require"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + sslmode,
	}
	return u.String()
}

// SupabaseConfig configures the realtime change-feed client.
type SupabaseConfig struct {
	URL     string   `json:"url" mapstructure:"url"`
	AnonKey string   `json:"anon_key" mapstructure:"anon_key"`
	// Tables to watch; empty means every table in the watched schemas.
	Tables  []string `json:"tables" mapstructure:"tables"`
	Schemas []string `json:"schemas" mapstructure:"schemas"`
}

// WatchedSchemas returns the configured schemas, defaulting to public.
func (c SupabaseConfig) WatchedSchemas() []string {
	if len(c.Schemas) == 0 {
		return []string{"public"}
	}
	return c.Schemas
}

// RealtimeURL derives the Phoenix websocket endpoint from the project
// base URL.
func (c SupabaseConfig) RealtimeURL() string {
	base := strings.Replace(c.URL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return fmt.Sprintf("%s/realtime/v1/websocket?apikey=%s&vsn=1.0.0", base, c.AnonKey)
}
