package pool

import "time"

// Config bounds a pool. These are the only recognized pool options.
type Config struct {
	MaxTotal      int           `mapstructure:"max_total"      yaml:"max_total"`
	MinIdle       int           `mapstructure:"min_idle"       yaml:"min_idle"`
	MaxIdle       int           `mapstructure:"max_idle"       yaml:"max_idle"`
	TestOnBorrow  bool          `mapstructure:"test_on_borrow" yaml:"test_on_borrow"`
	TestOnReturn  bool          `mapstructure:"test_on_return" yaml:"test_on_return"`
	BorrowTimeout time.Duration `mapstructure:"borrow_timeout" yaml:"borrow_timeout"`
}

// DefaultConfig returns the pool defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxTotal:      8,
		MinIdle:       0,
		MaxIdle:       8,
		TestOnBorrow:  true,
		TestOnReturn:  false,
		BorrowTimeout: 10 * time.Second,
	}
}

func (c Config) normalize() Config {
	defaults := DefaultConfig()

	if c.MaxTotal <= 0 {
		c.MaxTotal = defaults.MaxTotal
	}
	if c.MaxIdle <= 0 || c.MaxIdle > c.MaxTotal {
		c.MaxIdle = c.MaxTotal
	}
	if c.MinIdle < 0 {
		c.MinIdle = 0
	}
	if c.MinIdle > c.MaxIdle {
		c.MinIdle = c.MaxIdle
	}
	if c.BorrowTimeout <= 0 {
		c.BorrowTimeout = defaults.BorrowTimeout
	}
	return c
}
