// Package config loads the bridge configuration.
//
// The configuration is a YAML file stored in the platform configuration
// directory:
//   - Linux: $XDG_CONFIG_HOME/vto-bridge/config.yaml or $HOME/.config/vto-bridge/config.yaml
//   - macOS: $HOME/.config/vto-bridge/config.yaml
//   - Windows: %LOCALAPPDATA%\vto-bridge\config.yaml
//
// Values from the file are overridden by VTO_BRIDGE_* environment variables
// and then by command line flags. Missing optional values fall back to
// Default.
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	eng := engine.New(cfg.EngineConfig(), sink)
//
// # Security
//
// Save writes the file with 0600 permissions. The device password can be
// kept out of the file entirely by using VTO_BRIDGE_PASSWORD or the
// interactive prompt.
package config
