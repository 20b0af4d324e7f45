// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022-2023 Intel Corporation, or its subsidiaries.
// Copyright (C) 2023 Nordix Foundation.
// Copyright (c) 2022-2023 Dell Inc, or its subsidiaries.

// Package config introduces the configuration from file or runtime param
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/p4driverapi"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/p4translation"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/storage"
)

// ElectionIDConfig is the 128 bit election id of a target
type ElectionIDConfig struct {
	High uint64 `yaml:"high"`
	Low  uint64 `yaml:"low"`
}

// TargetConfig target config structure
type TargetConfig struct {
	Name       string           `yaml:"name"`
	Address    string           `yaml:"address"`
	DeviceID   uint64           `yaml:"deviceid"`
	ElectionID ElectionIDConfig `yaml:"electionid"`
	Role       string           `yaml:"role"`
	P4InfoFile string           `yaml:"p4infofile"`
	BinFile    string           `yaml:"binfile"`
}

// RetryConfig retry config structure
type RetryConfig struct {
	MaxAttempts     int           `yaml:"maxattempts"`
	InitialInterval time.Duration `yaml:"initialinterval"`
	MaxInterval     time.Duration `yaml:"maxinterval"`
}

// TracingConfig tracing config structure
type TracingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
}

// Config global config structure
type Config struct {
	CfgFile            string
	LogLevel           string                 `yaml:"loglevel"`
	Database           string                 `yaml:"database"`
	DBAddress          string                 `yaml:"dbaddress"`
	RequestTimeout     time.Duration          `yaml:"requesttimeout"`
	ArbitrationTimeout time.Duration          `yaml:"arbitrationtimeout"`
	Retry              RetryConfig            `yaml:"retry"`
	Tracing            TracingConfig          `yaml:"tracing"`
	Pipeline           p4translation.Pipeline `yaml:"pipeline"`
	Targets            []TargetConfig         `yaml:"targets"`
}

// GlobalConfig global config
var GlobalConfig Config

// SetDefaults registers the default of every key that has one
func SetDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("database", storage.BackendGomap)
	viper.SetDefault("dbaddress", "127.0.0.1:6379")
	viper.SetDefault("requesttimeout", "5s")
	viper.SetDefault("arbitrationtimeout", "5s")
	viper.SetDefault("retry.maxattempts", 3)
	viper.SetDefault("retry.initialinterval", "100ms")
	viper.SetDefault("retry.maxinterval", "2s")
	viper.SetDefault("tracing.service", "opi-p4rt-tablectl")
}

// SetConfig sets the global config
func SetConfig(cfg Config) error {
	GlobalConfig = cfg
	return nil
}

// LoadConfig loads the config from yaml file
func LoadConfig() error {
	if err := viper.ReadInConfig(); err == nil {
		log.Infof("Using config file: %s", viper.ConfigFileUsed())
	} else {
		log.Debugf("no config file read: %v", err)
	}

	if err := viper.Unmarshal(&GlobalConfig); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	GlobalConfig.Pipeline = GlobalConfig.Pipeline.WithDefaults()

	log.Debugf("config %+v", GlobalConfig)
	return nil
}

// GetConfig gets the global config
func GetConfig() *Config {
	return &GlobalConfig
}

// ValidateConfig checks the values viper holds
func ValidateConfig() error {
	if _, err := log.ParseLevel(viper.GetString("loglevel")); err != nil {
		return err
	}

	switch db := viper.GetString("database"); db {
	case storage.BackendGomap:
	case storage.BackendRedis:
		if err := validateAddress(viper.GetString("dbaddress")); err != nil {
			return fmt.Errorf("invalid DBAddress: %w", err)
		}
	default:
		return fmt.Errorf("database must be %s or %s, not %q", storage.BackendGomap, storage.BackendRedis, db)
	}

	for _, key := range []string{"requesttimeout", "arbitrationtimeout", "retry.initialinterval", "retry.maxinterval"} {
		if viper.GetDuration(key) <= 0 {
			return fmt.Errorf("%s must be a positive duration", key)
		}
	}
	if viper.GetInt("retry.maxattempts") < 1 {
		return fmt.Errorf("retry.maxattempts must be at least 1")
	}

	var targets []TargetConfig
	if err := viper.UnmarshalKey("targets", &targets); err != nil {
		return fmt.Errorf("decoding targets: %w", err)
	}
	seen := make(map[string]bool, len(targets))
	for i, t := range targets {
		if t.Name == "" {
			return fmt.Errorf("target %d has no name", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("target %q is defined twice", t.Name)
		}
		seen[t.Name] = true
		if err := validateAddress(t.Address); err != nil {
			return fmt.Errorf("target %q: %w", t.Name, err)
		}
		if t.BinFile != "" && t.P4InfoFile == "" {
			return fmt.Errorf("target %q: binfile needs a p4infofile", t.Name)
		}
	}
	return nil
}

func validateAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%q should be in host:port format", addr)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("port of %q must be a positive integer between 1 and 65535", addr)
	}
	return nil
}

// SwitchTarget converts the target config into a session target
func (t TargetConfig) SwitchTarget() p4driverapi.SwitchTarget {
	target := p4driverapi.SwitchTarget{
		Name:       t.Name,
		Address:    t.Address,
		DeviceID:   t.DeviceID,
		Role:       t.Role,
		P4InfoFile: t.P4InfoFile,
		BinFile:    t.BinFile,
	}
	// zero leaves the session default in place
	if t.ElectionID.High != 0 || t.ElectionID.Low != 0 {
		target.ElectionID = &p4_v1.Uint128{High: t.ElectionID.High, Low: t.ElectionID.Low}
	}
	return target
}

// SwitchTargets returns the configured targets, or only the one named
// name when it is not empty
func (c *Config) SwitchTargets(name string) ([]p4driverapi.SwitchTarget, error) {
	var out []p4driverapi.SwitchTarget
	for _, t := range c.Targets {
		if name == "" || t.Name == name {
			out = append(out, t.SwitchTarget())
		}
	}
	if len(out) == 0 {
		if name != "" {
			return nil, fmt.Errorf("target %q is not configured", name)
		}
		return nil, fmt.Errorf("no target configured")
	}
	return out, nil
}
