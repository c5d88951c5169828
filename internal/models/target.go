package models

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Engine identifies the family of the database behind a target.
type Engine string

// Supported engines.
const (
	EngineMySQL    Engine = "mysql"
	EnginePostgres Engine = "postgres"
)

// ParseEngine maps a configured engine name onto an Engine.
func ParseEngine(s string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mysql", "mariadb":
		return EngineMySQL, nil
	case "postgres", "postgresql":
		return EnginePostgres, nil
	default:
		return "", fmt.Errorf("%w: unknown engine %q", ErrConfig, s)
	}
}

// Target describes one database that can be dumped.
type Target struct {
	ID        string `validate:"required"`
	Engine    Engine `validate:"required,oneof=mysql postgres"`
	Host      string `validate:"required"`
	Port      uint16 `validate:"required"`
	Database  string `validate:"required"`
	User      string `validate:"required"`
	Password  string
	BackupDir string   // optional override of Config.BackupDir
	SSLMode   string   `validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	ExtraArgs []string // appended to the dump tool's arguments

	WOL         *WOLConfig         // nil if not configured
	SSHShutdown *SSHShutdownConfig // nil if not configured
}

// Address returns host:port of the database server.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}
