package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	SkuID  string `yaml:"sku_id"`
	AreaID string `yaml:"area_id"`
	Amount int    `yaml:"amount"`

	StockInterval  int    `yaml:"stock_interval"`  // seconds between stock checks
	SubmitRetry    int    `yaml:"submit_retry"`    // submissions per stock hit
	SubmitInterval int    `yaml:"submit_interval"` // seconds between submissions
	BuyTime        string `yaml:"buy_time"`        // "2006-01-02 15:04:05", empty = start now

	LoginType string `yaml:"login_type"` // "qrcode" or "sms"
	Phone     string `yaml:"phone"`
	Cookie    string `yaml:"cookie"` // pre-provisioned cookie string, optional

	PaymentPassword string `yaml:"payment_password"`

	UserAgent string `yaml:"user_agent"`
	Proxy     string `yaml:"proxy"`
	StateDir  string `yaml:"state_dir"`

	Notify Notify `yaml:"notify"`

	// Anticrawl holds short-lived endpoint signatures captured out-of-band,
	// keyed "<functionId>_h5st" and "<functionId>_t".
	Anticrawl map[string]string `yaml:"anticrawl"`
}

type Notify struct {
	Enable bool   `yaml:"enable"`
	SCKey  string `yaml:"sckey"`
}

var ErrMissingTarget = errors.New("sku_id and area_id are required")

func Default() *Config {
	return &Config{
		Amount:         1,
		StockInterval:  3,
		SubmitRetry:    3,
		SubmitInterval: 5,
		LoginType:      "qrcode",
		StateDir:       ".",
	}
}

// Load reads the config file, writing the defaults out first when the file
// does not exist yet so the user has something to edit.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// ValidateForBuy checks the options the purchase loop cannot run without.
func (c *Config) ValidateForBuy() error {
	if c.SkuID == "" || c.AreaID == "" {
		return ErrMissingTarget
	}
	return nil
}

func (c *Config) StockIntervalDuration() time.Duration {
	return time.Duration(c.StockInterval) * time.Second
}

func (c *Config) SubmitIntervalDuration() time.Duration {
	return time.Duration(c.SubmitInterval) * time.Second
}
