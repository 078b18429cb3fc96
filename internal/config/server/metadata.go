package server

// MetadataServerConfig selects the store holding backend configurations,
// the active backend record and file and folder metadata. Only "sqlite" is
// supported.
type MetadataServerConfig struct {
	Type   string               `mapstructure:"type"   yaml:"type"`
	SQLite MetadataSQLiteConfig `mapstructure:"sqlite" yaml:"sqlite"`
}

type MetadataSQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
	// LogQueries logs every SQL statement through gorm.
	LogQueries bool `mapstructure:"log_queries" yaml:"log_queries"`
}
