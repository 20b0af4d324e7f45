// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022-2023 Intel Corporation, or its subsidiaries.
// Copyright (c) 2022-2023 Dell Inc, or its subsidiaries.
// Copyright (C) 2023 Nordix Foundation.

// Package main is the main package of the application
package main

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opiproject/opi-p4rt-tablectl/pkg/config"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/utils"
)

const (
	configFilePath = "./"
)

var loadErr error

var rootCmd = &cobra.Command{
	Use:           "opi-p4rt-tablectl",
	Short:         "p4runtime table controller",
	Long:          "inserts declarative table entries into P4Runtime switches",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if loadErr != nil {
			return loadErr
		}
		if err := config.ValidateConfig(); err != nil {
			return err
		}
		level, err := log.ParseLevel(config.GlobalConfig.LogLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
		return nil
	},
}

func initialize() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults()

	rootCmd.PersistentFlags().StringVarP(&config.GlobalConfig.CfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&config.GlobalConfig.LogLevel, "loglevel", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&config.GlobalConfig.Database, "database", "gomap", "journal backend: gomap or redis")
	rootCmd.PersistentFlags().StringVar(&config.GlobalConfig.DBAddress, "dbaddress", "127.0.0.1:6379", "db address in ip_address:port format")
	rootCmd.PersistentFlags().DurationVar(&config.GlobalConfig.RequestTimeout, "requesttimeout", 5*time.Second, "timeout of a single write request")
	rootCmd.PersistentFlags().DurationVar(&config.GlobalConfig.ArbitrationTimeout, "arbitrationtimeout", 5*time.Second, "time allowed to become the primary client")

	if err := viper.GetViper().BindPFlags(rootCmd.PersistentFlags()); err != nil {
		log.Errorf("Error binding flags to Viper: %v", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(newApplyCommand(), newStatusCommand(), newEncodeCommand())
}

func initConfig() {
	if config.GlobalConfig.CfgFile != "" {
		viper.SetConfigFile(config.GlobalConfig.CfgFile)
	} else {
		// Search config in the default location
		viper.AddConfigPath(configFilePath)
		viper.SetConfigType("yaml")
		viper.SetConfigName("config.yaml")
	}
	loadErr = config.LoadConfig()
}

// startTracing installs the OTLP tracer provider when tracing is enabled and
// returns the function flushing it
func startTracing(ctx context.Context, cfg *config.Config) func() {
	if !cfg.Tracing.Enabled {
		return func() {}
	}
	tp, err := utils.InitTracerProvider(ctx, cfg.Tracing.Service)
	if err != nil {
		log.Warnf("tracing disabled: %v", err)
		return func() {}
	}
	return func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warnf("Tracer Provider Shutdown: %v", err)
		}
	}
}

func main() {
	initialize()
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
