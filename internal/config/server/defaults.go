package server

import "github.com/spf13/viper"

func GetServerDefault() BaseServerConfig {
	return BaseServerConfig{
		ShutdownTimeout: "10s",

		Log: LogServerConfig{
			Level:      "INFO",
			TimeFormat: "2006-01-02 15:04:05",
			File:       "",
			NoColor:    false,
			JSON:       false,
			NoTerminal: false,
			Rotation: LogServerRotationConfig{
				MaxSize:    128,
				MaxBackups: 5,
				MaxAge:     16,
				Compress:   false,
			},
		},

		Metadata: MetadataServerConfig{
			Type: "sqlite",
			SQLite: MetadataSQLiteConfig{
				Path:       "gostore.db",
				LogQueries: false,
			},
		},

		Pool: PoolServerConfig{
			MaxTotal:      8,
			MinIdle:       0,
			MaxIdle:       8,
			TestOnBorrow:  true,
			TestOnReturn:  false,
			BorrowTimeout: "10s",
		},

		Storage: StorageServerConfig{
			ValidateTimeout: "15s",
			PreviewExpiry:   "15m",
			TrashPrefix:     ".trash",
		},
	}
}

func setDefaults() {
	defaults := GetServerDefault()

	viper.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.time_format", defaults.Log.TimeFormat)
	viper.SetDefault("log.file", defaults.Log.File)
	viper.SetDefault("log.no_color", defaults.Log.NoColor)
	viper.SetDefault("log.json", defaults.Log.JSON)
	viper.SetDefault("log.no_terminal", defaults.Log.NoTerminal)
	viper.SetDefault("log.rotation.max_size", defaults.Log.Rotation.MaxSize)
	viper.SetDefault("log.rotation.max_backups", defaults.Log.Rotation.MaxBackups)
	viper.SetDefault("log.rotation.max_age", defaults.Log.Rotation.MaxAge)
	viper.SetDefault("log.rotation.compress", defaults.Log.Rotation.Compress)

	viper.SetDefault("metadata.type", defaults.Metadata.Type)
	viper.SetDefault("metadata.sqlite.path", defaults.Metadata.SQLite.Path)
	viper.SetDefault("metadata.sqlite.log_queries", defaults.Metadata.SQLite.LogQueries)

	viper.SetDefault("pool.max_total", defaults.Pool.MaxTotal)
	viper.SetDefault("pool.min_idle", defaults.Pool.MinIdle)
	viper.SetDefault("pool.max_idle", defaults.Pool.MaxIdle)
	viper.SetDefault("pool.test_on_borrow", defaults.Pool.TestOnBorrow)
	viper.SetDefault("pool.test_on_return", defaults.Pool.TestOnReturn)
	viper.SetDefault("pool.borrow_timeout", defaults.Pool.BorrowTimeout)

	viper.SetDefault("storage.validate_timeout", defaults.Storage.ValidateTimeout)
	viper.SetDefault("storage.preview_expiry", defaults.Storage.PreviewExpiry)
	viper.SetDefault("storage.trash_prefix", defaults.Storage.TrashPrefix)
}
