package bridge

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ProtocolVersion identifies the bridge contract version exposed via /health.
	ProtocolVersion = "1.0.0"
	// CommandSchemaVersion is the currently supported inbound command version.
	CommandSchemaVersion = 1
)

// Command names accepted by POST /commands.
const (
	CommandIncrease = "increase"
	CommandDecrease = "decrease"
	CommandStop     = "stop"
)

// CommandRequest is a single remote control command.
type CommandRequest struct {
	Version   int    `json:"version"`
	CommandID string `json:"command_id,omitempty"`
	Command   string `json:"command"`
}

// Normalize applies defaults and canonical formatting before validation.
func (c *CommandRequest) Normalize() {
	if c == nil {
		return
	}
	if c.Version == 0 {
		c.Version = CommandSchemaVersion
	}
	c.CommandID = strings.TrimSpace(c.CommandID)
	c.Command = strings.ToLower(strings.TrimSpace(c.Command))
}

// Validate enforces baseline schema requirements for incoming commands.
func (c CommandRequest) Validate() error {
	if c.Version != CommandSchemaVersion {
		return fmt.Errorf("version %d not supported", c.Version)
	}
	switch c.Command {
	case CommandIncrease, CommandDecrease, CommandStop:
		return nil
	case "":
		return errors.New("command is required")
	default:
		return fmt.Errorf("unknown command %q", c.Command)
	}
}

// Controller is the session surface the bridge drives.
type Controller interface {
	ID() string
	Increase() error
	Decrease() error
	Stop() error
	LockedOut() bool
}

// Logger records bridge status information. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	SessionID     string `json:"session_id"`
	LockedOut     bool   `json:"locked_out"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type commandResponse struct {
	Status     string    `json:"status"`
	Command    string    `json:"command"`
	ServerTime time.Time `json:"server_time"`
}
