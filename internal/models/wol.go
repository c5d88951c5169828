package models

import "time"

// WOLConfig holds Wake-on-LAN configuration of a database host.
type WOLConfig struct {
	MACAddress    string        `validate:"required,mac"`
	BroadcastIP   string        `validate:"required,ip"`
	Timeout       time.Duration // max time to wait for the database port
	PollInterval  time.Duration // how often to probe the database port
	StabilizeWait time.Duration // wait after the port accepts connections
}

// WOLResult holds the result of a Wake-on-LAN operation.
type WOLResult struct {
	PacketSent   bool
	TargetReady  bool
	Attempts     int
	WaitDuration time.Duration
	Error        error
}
