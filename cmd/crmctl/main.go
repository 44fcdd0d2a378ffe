// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// crmctl is the operator CLI for the CRM ingest service. It reads the same
// configuration as the server and inspects or drains the shared Redis state.
//
// Usage:
//
//	crmctl [--config path] drain [--loop]
//	crmctl metrics [--days 7] [--domain acme.com]
//	crmctl status <messageId>
//	crmctl rate <email>
//	crmctl backfill [--users a@org.com,b@org.com] [--since 168h]
//	crmctl subscribe --url https://host/webhooks/graph [--users ...]
//	crmctl renew <subscriptionId>...
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bcem/crmingest/internal/app"
	"github.com/bcem/crmingest/internal/config"
)

var Version = "dev"

// pipelineOpener builds the pipeline for a command. Tests replace it.
type pipelineOpener func(ctx context.Context) (*app.Pipeline, func(), error)

func main() {
	if err := newRootCmd(nil).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(open pipelineOpener) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "crmctl",
		Short:         "Inspect and operate the CRM ingest pipeline",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml (defaults to CONFIG_PATH)")

	if open == nil {
		open = func(ctx context.Context) (*app.Pipeline, func(), error) {
			return openPipeline(ctx, configPath)
		}
	}

	root.AddCommand(drainCmd(open))
	root.AddCommand(metricsCmd(open))
	root.AddCommand(statusCmd(open))
	root.AddCommand(rateCmd(open))
	root.AddCommand(backfillCmd(open))
	root.AddCommand(subscribeCmd(open))
	root.AddCommand(renewCmd(open))
	return root
}

func openPipeline(ctx context.Context, configPath string) (*app.Pipeline, func(), error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, err
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))

	mgr, c, err := app.ConnectCache(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	st, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		mgr.Close()
		return nil, nil, err
	}
	p, err := app.NewPipeline(cfg, c, st)
	if err != nil {
		closeStore()
		mgr.Close()
		return nil, nil, err
	}
	return p, func() {
		closeStore()
		mgr.Close()
	}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
