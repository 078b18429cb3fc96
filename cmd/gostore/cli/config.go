package cli

import (
	"fmt"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	envFiles    = []string{".env", ".env.local"}
	configPaths = []string{".", "./config", "/etc/gostore", "$HOME/.gostore"}
)

func initConfig(path string) error {
	// Load .env files from current directory
	loadEnvFiles(".")

	if path != "" {
		viper.SetConfigFile(path)
		loadEnvFiles(filepath.Dir(path))
	} else {
		// Matches the file written by 'config generate'
		viper.SetConfigName("gostore")
		viper.SetConfigType("yaml")
		for _, configPath := range configPaths {
			viper.AddConfigPath(configPath)
			loadEnvFiles(configPath)
		}
	}

	viper.SetEnvPrefix("GOSTORE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// loadEnvFiles silently ignores missing files. godotenv never overrides
// variables that are already set.
func loadEnvFiles(dir string) {
	for _, envFile := range envFiles {
		_ = godotenv.Load(filepath.Join(dir, envFile))
	}
}
