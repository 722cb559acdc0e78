// Package config loads the run configuration.
//
// Sources are layered with koanf, later layers overriding earlier ones:
// struct defaults, then an optional YAML file, then SPARKIFY_* environment
// variables. Nested keys use a double underscore in env names, so
// SPARKIFY_STORAGE__DSN sets storage.dsn.
package config

// Config is the complete run configuration.
type Config struct {
	Job      string `koanf:"job" validate:"required"`
	SongData string `koanf:"song_data" validate:"required"`
	LogData  string `koanf:"log_data" validate:"required"`

	// TimeZone is the IANA zone used to decompose event timestamps.
	TimeZone string `koanf:"time_zone" validate:"required,timezone"`

	// SongplayIDs is snowflake (unique across files and runs) or sequence
	// (the per-file event index).
	SongplayIDs   string `koanf:"songplay_ids" validate:"oneof=snowflake sequence"`
	SnowflakeNode int64  `koanf:"snowflake_node" validate:"gte=0,lte=1023"`

	Storage Storage `koanf:"storage"`
	Logging Logging `koanf:"logging"`
	Metrics Metrics `koanf:"metrics"`
}

type Storage struct {
	Kind string `koanf:"kind" validate:"oneof=postgres sqlite mssql duckdb"`
	// DSN is expanded with os.ExpandEnv after loading.
	DSN string `koanf:"dsn"`
}

type Logging struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

type Metrics struct {
	Backend        string `koanf:"backend" validate:"oneof=none datadog pushgateway"`
	PushgatewayURL string `koanf:"pushgateway_url" validate:"omitempty,url"`
	// Tags is a comma separated list of extra key:value tags.
	Tags string `koanf:"tags"`
}

// Default returns the values every layer starts from.
func Default() Config {
	return Config{
		Job:         "sparkify",
		SongData:    "data/song_data",
		LogData:     "data/log_data",
		TimeZone:    "UTC",
		SongplayIDs: "snowflake",
		Storage: Storage{
			Kind: "sqlite",
			DSN:  "sparkify.db",
		},
		Logging: Logging{Level: "info", Format: "json"},
		Metrics: Metrics{Backend: "none"},
	}
}
