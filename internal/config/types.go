package config

import (
	"qsnet-switch/internal/allocator"
)

const (
	LayoutBlock  = "block"
	LayoutCyclic = "cyclic"

	DefaultNodeSource = "file:///etc/elanhosts"

	// Hardware context ids are 12 bits wide.
	MaxHardwareContext uint32 = 0xfff
)

type Config struct {
	QSwitch SwitchConfig `yaml:"qswitch"`
}

type SwitchConfig struct {
	LogLevel       string          `yaml:"log_level"`
	SwitchLogLevel string          `yaml:"switch_log_level"`
	Allocator      AllocatorConfig `yaml:"allocator"`
	Nodes          NodesConfig     `yaml:"nodes"`
	Layout         string          `yaml:"layout"`
	Data           DataConfig      `yaml:"data"`
}

type AllocatorConfig struct {
	ProgramMin uint32 `yaml:"program_min"`
	ProgramMax uint32 `yaml:"program_max"`
	ContextMin uint32 `yaml:"context_min"`
	ContextMax uint32 `yaml:"context_max"`
	StateFile  string `yaml:"state_file"`
}

// NodesConfig names the node directory source. Inline hosts take precedence
// over Source.
type NodesConfig struct {
	Source string            `yaml:"source"`
	Hosts  map[string]uint32 `yaml:"hosts"`
}

type DataConfig struct {
	DB *DatabaseConfig `yaml:"db"`
}

type DatabaseConfig struct {
	Host  string `yaml:"host"`
	Name  string `yaml:"name"`
	Org   string `yaml:"org"`
	Token string `yaml:"token"`
}

func (c *Config) Ranges() allocator.Ranges {
	a := c.QSwitch.Allocator
	return allocator.Ranges{
		ProgramMin: a.ProgramMin,
		ProgramMax: a.ProgramMax,
		ContextMin: a.ContextMin,
		ContextMax: a.ContextMax,
	}
}

func (c *Config) Cyclic() bool {
	return c.QSwitch.Layout == LayoutCyclic
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	s := &cfg.QSwitch
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.SwitchLogLevel == "" {
		s.SwitchLogLevel = s.LogLevel
	}
	d := allocator.DefaultRanges()
	a := &s.Allocator
	if a.ProgramMin == 0 && a.ProgramMax == 0 {
		a.ProgramMin, a.ProgramMax = d.ProgramMin, d.ProgramMax
	}
	// A zero context range means unset; 0 alone is a valid context_min.
	if a.ContextMin == 0 && a.ContextMax == 0 {
		a.ContextMin, a.ContextMax = d.ContextMin, d.ContextMax
	}
	if s.Layout == "" {
		s.Layout = LayoutBlock
	}
	if s.Nodes.Source == "" && len(s.Nodes.Hosts) == 0 {
		s.Nodes.Source = DefaultNodeSource
	}
}
