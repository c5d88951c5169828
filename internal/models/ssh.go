package models

// SSHShutdownConfig holds SSH shutdown configuration of a database host.
type SSHShutdownConfig struct {
	Host           string // defaults to the target host
	Port           int    `validate:"gt=0,lte=65535"`
	Username       string `validate:"required"`
	PrivateKey     []byte // loaded from file path
	KeyPath        string `validate:"required"`
	KnownHostsPath string // empty disables host key checking
	ShutdownDelay  int    // minutes before shutdown
}

// SSHResult holds the result of an SSH operation.
type SSHResult struct {
	CommandRun bool
	Output     string
	Error      error
}
