package config

// CLIConfig holds the defaults of the warmstart command (~/.warmstart/cli.yaml).
// Flags and WARMSTART_* environment variables override it.
type CLIConfig struct {
	// ConfigDir is the server directory checkpoints are taken from.
	ConfigDir string `yaml:"config_dir"`
	// ServerBin is the warmstart-server executable.
	ServerBin string `yaml:"server_bin"`
	// ServerAddr is the status listener queried by "warmstart status".
	ServerAddr    string `yaml:"server_addr"`
	DefaultOutput string `yaml:"default_output"` // table, json, yaml
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		ConfigDir:     "/etc/warmstart",
		ServerBin:     "warmstart-server",
		ServerAddr:    "127.0.0.1:9080",
		DefaultOutput: "table",
	}
}
