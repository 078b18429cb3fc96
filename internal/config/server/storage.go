package server

type StorageServerConfig struct {
	ValidateTimeout string `mapstructure:"validate_timeout" yaml:"validate_timeout"`
	PreviewExpiry   string `mapstructure:"preview_expiry"   yaml:"preview_expiry"`
	TrashPrefix     string `mapstructure:"trash_prefix"     yaml:"trash_prefix"`
}
