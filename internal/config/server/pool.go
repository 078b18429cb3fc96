package server

// PoolServerConfig bounds the client pool created for every backend
// configuration. Pools of different configurations never share clients.
type PoolServerConfig struct {
	MaxTotal      int    `mapstructure:"max_total"      yaml:"max_total"`
	MinIdle       int    `mapstructure:"min_idle"       yaml:"min_idle"`
	MaxIdle       int    `mapstructure:"max_idle"       yaml:"max_idle"`
	TestOnBorrow  bool   `mapstructure:"test_on_borrow" yaml:"test_on_borrow"`
	TestOnReturn  bool   `mapstructure:"test_on_return" yaml:"test_on_return"`
	BorrowTimeout string `mapstructure:"borrow_timeout" yaml:"borrow_timeout"`
}
