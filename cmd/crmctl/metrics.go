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

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func metricsCmd(open pipelineOpener) *cobra.Command {
	var (
		days   int
		domain string
	)

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print daily and hourly event counters as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, closeFn, err := open(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if domain != "" {
				counts, err := p.Metrics.ReadDomain(ctx, strings.ToLower(domain), days)
				if err != nil {
					return fmt.Errorf("read domain metrics: %w", err)
				}
				return writeJSON(cmd.OutOrStdout(), counts)
			}

			snap, err := p.Metrics.Read(ctx, days)
			if err != nil {
				return fmt.Errorf("read metrics: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), snap)
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 7, "Days of history (1-30, 1-7 with --domain)")
	cmd.Flags().StringVar(&domain, "domain", "", "Restrict to one sender domain")
	return cmd
}
