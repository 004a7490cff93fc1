package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 进程级配置：启动时加载一次，之后只读
type Config struct {
	Addr          string    `yaml:"addr"`
	Log           Log       `yaml:"log"`
	TickRateHz    int       `yaml:"tick_rate_hz"`
	Signals       Signals   `yaml:"signals"`
	RateLimit     RateLimit `yaml:"rate_limit"`
	JournalDir    string    `yaml:"journal_dir"`
	SentryDSN     string    `yaml:"sentry_dsn"`
	QuestionBank  string    `yaml:"question_bank"`
	MapDir        string    `yaml:"map_dir"`
	DefaultMap    string    `yaml:"default_map"`
	StatsviewAddr string    `yaml:"statsview_addr"`

	Tables Tables `yaml:"tables"`
}

type Log struct {
	File   string `yaml:"file"`
	Level  string `yaml:"level"`
	Stderr bool   `yaml:"stderr"`
}

// Signals 单次级联（一个玩家动作引发的全部频道/连线触发）的预算
type Signals struct {
	MaxDepth      int `yaml:"max_depth"`
	MaxDispatches int `yaml:"max_dispatches"`
}

// RateLimit 每个玩家的入站消息限速
type RateLimit struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// Defaults 可直接运行的默认配置
func Defaults() Config {
	return Config{
		Addr:       ":8080",
		Log:        Log{File: "app.log", Level: "debug"},
		TickRateHz: 20,
		Signals:    Signals{MaxDepth: 64, MaxDispatches: 4096},
		RateLimit:  RateLimit{PerSecond: 60, Burst: 120},
		MapDir:     "maps",
		Tables:     DefaultTables(),
	}
}

// Load 读取 YAML 并覆盖到默认值上；path 为空时直接返回默认值
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate 检查数值范围
func (c Config) Validate() error {
	var errs []error
	if c.TickRateHz <= 0 || c.TickRateHz > 1000 {
		errs = append(errs, fmt.Errorf("tick_rate_hz out of range: %d", c.TickRateHz))
	}
	if c.Signals.MaxDepth <= 0 {
		errs = append(errs, fmt.Errorf("signals.max_depth must be positive"))
	}
	if c.Signals.MaxDispatches <= 0 {
		errs = append(errs, fmt.Errorf("signals.max_dispatches must be positive"))
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("rate_limit must not be negative"))
	}
	if err := c.Tables.validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
