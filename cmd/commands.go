// SPDX-License-Identifier: Apache-2.0
// Copyright (C) 2023 Nordix Foundation.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opiproject/opi-p4rt-tablectl/pkg/config"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/eventbus"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/journal"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/codec"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/controller"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/p4driverapi"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/p4runtime/p4translation"
	"github.com/opiproject/opi-p4rt-tablectl/pkg/storage"
)

const journalPriority = 1

var errApplyFailed = errors.New("apply failed")

func openStore(cfg *config.Config) (*storage.Storage, error) {
	store, err := storage.NewStore(cfg.Database, cfg.DBAddress)
	if err != nil {
		return nil, err
	}
	if cfg.Database == storage.BackendGomap {
		log.Debug("journal kept in memory, status of this run is lost on exit")
	}
	return store, nil
}

func newApplyCommand() *cobra.Command {
	var entriesFile, target string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "insert the entries of a file into the configured targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.GetConfig()
			ctx := cmd.Context()
			defer startTracing(ctx, cfg)()

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.Warnf("closing store: %v", err)
				}
			}()
			return runApply(ctx, cmd.OutOrStdout(), cfg, store, entriesFile, target)
		},
	}
	cmd.Flags().StringVar(&entriesFile, "entries", "", "YAML file with the hosts and entries to insert")
	cmd.Flags().StringVar(&target, "target", "", "only apply to this target")
	_ = cmd.MarkFlagRequired("entries")
	return cmd
}

// runApply inserts the entries of entriesFile on every selected target and
// prints one line per entry. It fails when a target cannot be opened or an
// entry fails.
func runApply(ctx context.Context, out io.Writer, cfg *config.Config, store *storage.Storage, entriesFile, target string, opts ...p4driverapi.Option) error {
	entries, err := p4translation.LoadEntries(entriesFile, cfg.Pipeline.WithDefaults())
	if err != nil {
		return err
	}
	targets, err := cfg.SwitchTargets(target)
	if err != nil {
		return err
	}

	bus := eventbus.NewEventBus()
	sub := journal.New(store).Start(bus, journalPriority)
	defer bus.Unsubscribe(sub)

	dialOpts := append([]p4driverapi.Option{p4driverapi.WithArbitrationTimeout(cfg.ArbitrationTimeout)}, opts...)
	c := controller.New(
		controller.WithTargets(targets...),
		controller.WithDialer(func(ctx context.Context, t p4driverapi.SwitchTarget) (*p4driverapi.Session, error) {
			return p4driverapi.Dial(ctx, t, dialOpts...)
		}),
		controller.WithRequestTimeout(cfg.RequestTimeout),
		controller.WithRetryPolicy(controller.RetryPolicy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
		}),
		controller.WithEventBus(bus),
	)
	defer c.Close()

	batches := make([]controller.Batch, len(targets))
	for i, t := range targets {
		batches[i] = controller.Batch{Target: t.Name, Entries: entries}
	}

	failed := false
	for _, b := range c.ApplyAll(ctx, batches) {
		if b.Err != nil {
			failed = true
			fmt.Fprintf(out, "%s: %v\n", b.Target, b.Err)
			continue
		}
		for i, r := range b.Results {
			fmt.Fprintf(out, "%s\t%d\t%v\t%v\n", b.Target, i, entries[i], r)
		}
		s := controller.Summarize(b.Results)
		fmt.Fprintf(out, "%s: %d inserted, %d already existed, %d failed\n", b.Target, s.Inserted, s.AlreadyExists, s.Failed)
		if s.Failed > 0 {
			failed = true
		}
	}
	if failed {
		return errApplyFailed
	}
	return nil
}

func newStatusCommand() *cobra.Command {
	var target string
	var forget bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "show the last batch applied to a target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(config.GetConfig())
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.Warnf("closing store: %v", err)
				}
			}()
			return runStatus(cmd.OutOrStdout(), store, target, forget)
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "target name")
	cmd.Flags().BoolVar(&forget, "clear", false, "forget the batch once shown")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func runStatus(out io.Writer, store *storage.Storage, target string, forget bool) error {
	j := journal.New(store)
	record, err := j.Last(target)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(record); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if forget {
		return j.Clear(target)
	}
	return nil
}

func newEncodeCommand() *cobra.Command {
	var bitwidth int32
	cmd := &cobra.Command{
		Use:   "encode VALUE",
		Short: "print the wire bytes of a value for a field width",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncode(cmd.OutOrStdout(), args[0], bitwidth)
		},
	}
	cmd.Flags().Int32Var(&bitwidth, "bitwidth", 0, "field width in bits")
	_ = cmd.MarkFlagRequired("bitwidth")
	return cmd
}

func runEncode(out io.Writer, value string, bitwidth int32) error {
	v, err := codec.Parse(value)
	if err != nil {
		return err
	}
	b, err := codec.Encode(v, bitwidth)
	if err != nil {
		return fmt.Errorf("%s in %d bits: %w", v, bitwidth, err)
	}
	_, err = fmt.Fprintf(out, "% x\n", b)
	return err
}
