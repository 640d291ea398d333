package cmd

import (
	"fmt"
	"os"

	"github.com/mstoykov/envconfig"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	null "gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"

	"gold/pkg/linker"
)

// Config holds the link options that can come from the config file, the
// environment or CLI flags. Null types keep "unset" distinguishable from
// zero values so layers overlay cleanly.
type Config struct {
	Output         null.String `envconfig:"GOLD_OUTPUT"`
	Entry          null.String `envconfig:"GOLD_ENTRY"`
	AllowUndefined null.Bool   `envconfig:"GOLD_ALLOW_UNDEFINED"`
	DebugInfo      null.Bool   `envconfig:"GOLD_DEBUG_INFO"`
	Parallel       null.Bool   `envconfig:"GOLD_PARALLEL"`
}

func linkFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.StringP("output", "o", "a.out", "output executable `path`")
	flags.String("entry", "main", "entry point symbol `name`")
	flags.Bool("allow-undefined", false, "permit undefined symbols")
	flags.Bool("debug-info", false, "record debug info flag (no emission)")
	flags.Bool("parallel", false, "accepted for compatibility, links sequentially")
	return flags
}

// Apply overlays cfg on top of c; only set values replace.
func (c Config) Apply(cfg Config) Config {
	if cfg.Output.Valid {
		c.Output = cfg.Output
	}
	if cfg.Entry.Valid {
		c.Entry = cfg.Entry
	}
	if cfg.AllowUndefined.Valid {
		c.AllowUndefined = cfg.AllowUndefined
	}
	if cfg.DebugInfo.Valid {
		c.DebugInfo = cfg.DebugInfo
	}
	if cfg.Parallel.Valid {
		c.Parallel = cfg.Parallel
	}
	return c
}

// Request turns the consolidated config into a linker request.
func (c Config) Request(objects []string) linker.Request {
	req := linker.NewRequest()
	req.ObjectFiles = objects
	req.OutputPath = "a.out"

	if c.Output.Valid {
		req.OutputPath = c.Output.String
	}
	if c.Entry.Valid {
		req.EntryPoint = c.Entry.String
	}
	req.AllowUndefinedSymbols = c.AllowUndefined.Bool
	req.GenerateDebugInfo = c.DebugInfo.Bool
	req.ParallelLinking = c.Parallel.Bool
	return req
}

// getFlagConfig picks up only the flags the user actually set.
func getFlagConfig(flags *pflag.FlagSet) (Config, error) {
	conf := Config{}

	output, err := flags.GetString("output")
	if err != nil {
		return conf, err
	}
	conf.Output = null.NewString(output, flags.Changed("output"))

	entry, err := flags.GetString("entry")
	if err != nil {
		return conf, err
	}
	conf.Entry = null.NewString(entry, flags.Changed("entry"))

	for name, dst := range map[string]*null.Bool{
		"allow-undefined": &conf.AllowUndefined,
		"debug-info":      &conf.DebugInfo,
		"parallel":        &conf.Parallel,
	} {
		v, err := flags.GetBool(name)
		if err != nil {
			return conf, err
		}
		*dst = null.NewBool(v, flags.Changed(name))
	}

	return conf, nil
}

// diskConfig mirrors Config with pointer fields, since yaml has no notion
// of the null wrapper types.
type diskConfig struct {
	Output         *string `yaml:"output"`
	Entry          *string `yaml:"entry"`
	AllowUndefined *bool   `yaml:"allowUndefined"`
	DebugInfo      *bool   `yaml:"debugInfo"`
	Parallel       *bool   `yaml:"parallel"`
}

// readDiskConfig reads the yaml config file, if one was named.
func readDiskConfig(fs afero.Fs, path string) (Config, error) {
	conf := Config{}
	if path == "" {
		return conf, nil
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return conf, fmt.Errorf("read config %s: %w", path, err)
	}
	raw := diskConfig{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return conf, fmt.Errorf("parse config %s: %w", path, err)
	}

	conf.Output = null.StringFromPtr(raw.Output)
	conf.Entry = null.StringFromPtr(raw.Entry)
	conf.AllowUndefined = null.BoolFromPtr(raw.AllowUndefined)
	conf.DebugInfo = null.BoolFromPtr(raw.DebugInfo)
	conf.Parallel = null.BoolFromPtr(raw.Parallel)
	return conf, nil
}

func readEnvConfig() (Config, error) {
	conf := Config{}
	err := envconfig.Process("", &conf, func(key string) (string, bool) {
		return os.LookupEnv(key)
	})
	return conf, err
}

// getConsolidatedConfig layers defaults < config file < environment < CLI
// flags, later layers winning.
func getConsolidatedConfig(fs afero.Fs, flags *pflag.FlagSet, configPath string) (Config, error) {
	conf := Config{}

	fileConf, err := readDiskConfig(fs, configPath)
	if err != nil {
		return conf, err
	}
	conf = conf.Apply(fileConf)

	envConf, err := readEnvConfig()
	if err != nil {
		return conf, err
	}
	conf = conf.Apply(envConf)

	flagConf, err := getFlagConfig(flags)
	if err != nil {
		return conf, err
	}
	conf = conf.Apply(flagConf)

	return conf, nil
}
