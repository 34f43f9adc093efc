package config

// DefaultPort is the listening port when neither argument, environment nor
// config file selects one.
const DefaultPort = 3456

// DefaultDimension is used by the init operation when the request omits a
// dimension (the common MiniLM embedding width).
const DefaultDimension = 384

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data/vecbridge"
	}
	if cfg.Persistence.DefaultDimension == 0 {
		cfg.Persistence.DefaultDimension = DefaultDimension
	}
}
