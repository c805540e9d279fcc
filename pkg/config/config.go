// Package config загружает настройки демона мостов из ini файла.
//
// Секции:
//   - [bridge] параметры ядра и создаваемого моста
//   - [logging] уровни и файл логов
//   - [metrics] HTTP адрес и пространство имен Prometheus
package config

import (
	"fmt"

	ini "gopkg.in/ini.v1"

	"github.com/arzzra/soft_bridge/pkg/bridge"
)

// BridgeConfig секция [bridge]
type BridgeConfig struct {
	Capabilities          string // маска возможностей, например "1to1mix,multimix"
	Flags                 string // флаги моста, например "smart,dissolve_hangup"
	InternalSampleRate    uint32 // 0 - решает технология
	MixingInterval        uint32 // мс, 0 - решает технология
	TalkerSwitchThreshold int
	QueueLimit            int // 0 - без ограничения
}

// LoggingConfig секция [logging].
// Уровни в целочисленной шкале: 0 trace, 1 debug, 2 info, 3 warn, 4 error, 5 fatal, 6 и выше - выключено.
type LoggingConfig struct {
	Level        int
	ConsoleLevel int
	FileLevel    int
	File         string // пусто - без файла
	MaxSize      int    // мегабайты
	MaxBackups   int
}

// MetricsConfig секция [metrics]
type MetricsConfig struct {
	Enabled   bool
	Address   string
	Namespace string
}

// Config настройки демона
//
// Секции ini файла:
//   - [bridge] маска возможностей и флаги моста, частота и интервал смешивания,
//     порог переключения видео и предел очереди участника
//   - [logging] уровни общего, консольного и файлового вывода, ротация файла
//   - [metrics] HTTP адрес и пространство имен Prometheus метрик
type Config struct {
	Bridge  BridgeConfig
	Logging LoggingConfig
	Metrics MetricsConfig
}

// Default возвращает настройки по умолчанию
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Capabilities: "1to1mix",
			Flags:        "smart",
			QueueLimit:   256,
		},
		Logging: LoggingConfig{
			Level:        2,
			ConsoleLevel: 0,
			FileLevel:    0,
			MaxSize:      100,
			MaxBackups:   1,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Address:   ":9090",
			Namespace: "softbridge",
		},
	}
}

// Load читает настройки из разобранного ini файла.
// Отсутствующие ключи получают значения по умолчанию.
func Load(cfg *ini.File) (*Config, error) {
	d := Default()
	c := &Config{}

	sec := cfg.Section("bridge")
	c.Bridge.Capabilities = sec.Key("capabilities").MustString(d.Bridge.Capabilities)
	c.Bridge.Flags = sec.Key("flags").MustString(d.Bridge.Flags)
	c.Bridge.InternalSampleRate = uint32(sec.Key("internal_sample_rate").MustUint(uint(d.Bridge.InternalSampleRate)))
	c.Bridge.MixingInterval = uint32(sec.Key("mixing_interval").MustUint(uint(d.Bridge.MixingInterval)))
	c.Bridge.TalkerSwitchThreshold = sec.Key("talker_switch_threshold").MustInt(d.Bridge.TalkerSwitchThreshold)
	c.Bridge.QueueLimit = sec.Key("queue_limit").MustInt(d.Bridge.QueueLimit)

	sec = cfg.Section("logging")
	c.Logging.Level = sec.Key("level").MustInt(d.Logging.Level)
	c.Logging.ConsoleLevel = sec.Key("console_level").MustInt(d.Logging.ConsoleLevel)
	c.Logging.FileLevel = sec.Key("file_level").MustInt(d.Logging.FileLevel)
	c.Logging.File = sec.Key("file").String()
	c.Logging.MaxSize = sec.Key("max_size").MustInt(d.Logging.MaxSize)
	c.Logging.MaxBackups = sec.Key("max_backups").MustInt(d.Logging.MaxBackups)

	sec = cfg.Section("metrics")
	c.Metrics.Enabled = sec.Key("enabled").MustBool(d.Metrics.Enabled)
	c.Metrics.Address = sec.Key("address").MustString(d.Metrics.Address)
	c.Metrics.Namespace = sec.Key("namespace").MustString(d.Metrics.Namespace)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile читает настройки из файла. Пустой путь означает настройки по умолчанию.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("чтение %s: %w", path, err)
	}
	return Load(cfg)
}

// Validate проверяет корректность настроек
func (c *Config) Validate() error {
	caps, err := bridge.ParseCapabilities(c.Bridge.Capabilities)
	if err != nil {
		return fmt.Errorf("bridge.capabilities: %w", err)
	}
	if caps == 0 {
		return fmt.Errorf("bridge.capabilities не может быть пустым")
	}
	if _, err := bridge.ParseFlags(c.Bridge.Flags); err != nil {
		return fmt.Errorf("bridge.flags: %w", err)
	}
	if c.Bridge.TalkerSwitchThreshold < 0 {
		return fmt.Errorf("bridge.talker_switch_threshold не может быть отрицательным")
	}
	if c.Bridge.QueueLimit < 0 {
		return fmt.Errorf("bridge.queue_limit не может быть отрицательным")
	}

	if c.Logging.MaxSize <= 0 {
		return fmt.Errorf("logging.max_size должен быть больше 0")
	}
	if c.Logging.MaxBackups < 0 {
		return fmt.Errorf("logging.max_backups не может быть отрицательным")
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address не может быть пустым при включенных метриках")
	}
	return nil
}

// Capabilities возвращает разобранную маску возможностей моста
func (c *Config) Capabilities() bridge.Capability {
	caps, _ := bridge.ParseCapabilities(c.Bridge.Capabilities)
	return caps
}

// Flags возвращает разобранные флаги моста
func (c *Config) Flags() bridge.Flags {
	flags, _ := bridge.ParseFlags(c.Bridge.Flags)
	return flags
}

// Settings возвращает параметры ядра для реестра мостов
func (c *Config) Settings() bridge.Settings {
	return bridge.Settings{
		InternalSampleRate:    c.Bridge.InternalSampleRate,
		MixingInterval:        c.Bridge.MixingInterval,
		TalkerSwitchThreshold: c.Bridge.TalkerSwitchThreshold,
		QueueLimit:            c.Bridge.QueueLimit,
	}
}
