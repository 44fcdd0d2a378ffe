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
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bcem/crmingest/internal/queue"
)

func drainCmd(open pipelineOpener) *cobra.Command {
	var loop bool

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Process queued events, high priority first",
		Long: `Pops one batch from the high and normal priority queues and runs
each event through the pipeline. With --loop the drainer keeps running on
its configured interval until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, closeFn, err := open(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if !loop {
				return runDrainOnce(ctx, cmd, p.Drainer, p.Queue)
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			p.Drainer.Start(ctx)
			<-ctx.Done()
			p.Drainer.Stop()
			return nil
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "Keep draining until interrupted")
	return cmd
}

func runDrainOnce(ctx context.Context, cmd *cobra.Command, d *queue.Drainer, pub *queue.Publisher) error {
	n, err := d.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("drain: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "processed %d item(s)\n", n)
	for _, pr := range queue.Priorities {
		depth, err := pub.Len(ctx, pr)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %-8s %d remaining\n", string(pr)+":", depth)
	}
	return nil
}
