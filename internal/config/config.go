package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	Video      VideoConfig      `json:"video" yaml:"video"`
	Recognizer RecognizerConfig `json:"recognizer" yaml:"recognizer"`
	Scheduler  SchedulerConfig  `json:"scheduler" yaml:"scheduler"`
	Rules      RulesConfig      `json:"rules" yaml:"rules"`
	Journal    JournalConfig    `json:"journal" yaml:"journal"`
	Publish    PublishConfig    `json:"publish" yaml:"publish"`
	API        APIConfig        `json:"api" yaml:"api"`
	Results    ResultsConfig    `json:"results" yaml:"results"`
}

type VideoConfig struct {
	Source string  `json:"source" yaml:"source"`
	Dir    string  `json:"dir" yaml:"dir"`
	Loop   bool    `json:"loop" yaml:"loop"`
	FPS    float64 `json:"fps" yaml:"fps"`
}

type RecognizerConfig struct {
	Kind           string            `json:"kind" yaml:"kind"`
	Endpoint       string            `json:"endpoint" yaml:"endpoint"`
	RequestTimeout time.Duration     `json:"request_timeout" yaml:"request_timeout"`
	MaxImageDim    int               `json:"max_image_dim" yaml:"max_image_dim"`
	ScoreFloor     float64           `json:"score_floor" yaml:"score_floor"`
	MaxBoxes       int               `json:"max_boxes" yaml:"max_boxes"`
	LabelAliases   map[string]string `json:"label_aliases" yaml:"label_aliases"`
	IgnoreClasses  []string          `json:"ignore_classes" yaml:"ignore_classes"`
}

type SchedulerConfig struct {
	FrameSkip    int           `json:"frame_skip" yaml:"frame_skip"`
	TickInterval time.Duration `json:"tick_interval" yaml:"tick_interval"`
}

type RulesConfig struct {
	HistoryWindow      time.Duration         `json:"history_window" yaml:"history_window"`
	InteractionEnabled bool                  `json:"interaction_enabled" yaml:"interaction_enabled"`
	InteractionScore   float64               `json:"interaction_score" yaml:"interaction_score"`
	DefaultScore       float64               `json:"default_score" yaml:"default_score"`
	RarityThreshold    int                   `json:"rarity_threshold" yaml:"rarity_threshold"`
	Classes            map[string]RuleConfig `json:"classes" yaml:"classes"`
}

// RuleConfig describes one per-class scoring policy. Kind selects the
// variant; the remaining fields are variant-specific tuning knobs.
type RuleConfig struct {
	Kind               string  `json:"kind" yaml:"kind"`
	FrequencyThreshold int     `json:"frequency_threshold" yaml:"frequency_threshold"`
	Base               float64 `json:"base" yaml:"base"`
	Cap                float64 `json:"cap" yaml:"cap"`
	Scale              float64 `json:"scale" yaml:"scale"`
	Score              float64 `json:"score" yaml:"score"`
	ConfidenceScaled   bool    `json:"confidence_scaled" yaml:"confidence_scaled"`
	WidthCutoff        float64 `json:"width_cutoff" yaml:"width_cutoff"`
}

type JournalConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type PublishConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Brokers  []string      `json:"brokers" yaml:"brokers"`
	Topic    string        `json:"topic" yaml:"topic"`
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type ResultsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

const (
	RuleFrequencyGated = "frequency_gated"
	RulePresence       = "presence"
	RuleGeometric      = "geometric"
)

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Video: VideoConfig{
			Source: "sequence",
			Loop:   true,
			FPS:    30,
		},
		Recognizer: RecognizerConfig{
			Kind:           "remote",
			Endpoint:       "http://localhost:9090",
			RequestTimeout: 5 * time.Second,
			MaxImageDim:    640,
			ScoreFloor:     0.05,
			MaxBoxes:       20,
		},
		Scheduler: SchedulerConfig{
			FrameSkip:    4,
			TickInterval: 33 * time.Millisecond,
		},
		Rules: RulesConfig{
			HistoryWindow:      10 * time.Second,
			InteractionEnabled: true,
			InteractionScore:   0.7,
			DefaultScore:       0.7,
			RarityThreshold:    3,
			Classes: map[string]RuleConfig{
				"pedestrian": {
					Kind:               RuleFrequencyGated,
					FrequencyThreshold: 5,
					Base:               0.7,
					Cap:                1.0,
					Scale:              100,
				},
				"car": {
					Kind:             RulePresence,
					Score:            0.7,
					ConfidenceScaled: true,
				},
				"bus": {
					Kind:  RulePresence,
					Score: 0.8,
				},
				"bicycle": {
					Kind:        RuleGeometric,
					WidthCutoff: 50,
					Score:       0.7,
				},
			},
		},
		Journal: JournalConfig{Enabled: false, Driver: "sqlite", DSN: "file:anomaly-monitor.db?_pragma=busy_timeout(5000)"},
		Publish: PublishConfig{Enabled: false, Cooldown: 5 * time.Second},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Results: ResultsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Scheduler.TickInterval <= 0 {
		cfg.Scheduler.TickInterval = 33 * time.Millisecond
	}
	if cfg.Scheduler.FrameSkip < 0 {
		cfg.Scheduler.FrameSkip = 0
	}
	if cfg.Rules.HistoryWindow <= 0 {
		cfg.Rules.HistoryWindow = 10 * time.Second
	}
	if cfg.Rules.InteractionScore <= 0 {
		cfg.Rules.InteractionScore = 0.7
	}
	if cfg.Rules.DefaultScore <= 0 {
		cfg.Rules.DefaultScore = 0.7
	}
	if cfg.Recognizer.ScoreFloor <= 0 {
		cfg.Recognizer.ScoreFloor = 0.05
	}
	if cfg.Recognizer.MaxBoxes <= 0 {
		cfg.Recognizer.MaxBoxes = 20
	}
	if cfg.Recognizer.RequestTimeout <= 0 {
		cfg.Recognizer.RequestTimeout = 5 * time.Second
	}
	if cfg.Results.StoreLimit <= 0 {
		cfg.Results.StoreLimit = 1000
	}
	if cfg.Video.FPS <= 0 {
		cfg.Video.FPS = 30
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Recognizer.Kind == "remote" && cfg.Recognizer.Endpoint == "" {
		return errors.New("recognizer.endpoint required when recognizer.kind is remote")
	}
	if cfg.Journal.Enabled {
		driver := strings.ToLower(cfg.Journal.Driver)
		if driver != "sqlite" && driver != "postgres" && driver != "postgresql" {
			return fmt.Errorf("journal.driver unsupported: %q", cfg.Journal.Driver)
		}
	}
	if cfg.Publish.Enabled {
		if len(cfg.Publish.Brokers) == 0 || cfg.Publish.Topic == "" {
			return errors.New("publish requires brokers and topic")
		}
	}
	if cfg.Recognizer.ScoreFloor < 0 || cfg.Recognizer.ScoreFloor > 1 {
		return errors.New("recognizer.score_floor must be in [0,1]")
	}
	for class, rule := range cfg.Rules.Classes {
		switch rule.Kind {
		case RuleFrequencyGated:
			if rule.Scale <= 0 {
				return fmt.Errorf("rules.classes.%s.scale must be > 0", class)
			}
			if rule.Cap < rule.Base {
				return fmt.Errorf("rules.classes.%s.cap must be >= base", class)
			}
		case RulePresence:
			if rule.Score <= 0 {
				return fmt.Errorf("rules.classes.%s.score must be > 0", class)
			}
		case RuleGeometric:
			if rule.WidthCutoff <= 0 {
				return fmt.Errorf("rules.classes.%s.width_cutoff must be > 0", class)
			}
		default:
			return fmt.Errorf("rules.classes.%s.kind unsupported: %q", class, rule.Kind)
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	if m.path != "" {
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
