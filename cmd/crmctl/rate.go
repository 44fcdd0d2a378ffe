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
	"time"

	"github.com/spf13/cobra"

	"github.com/bcem/crmingest/internal/classify"
	"github.com/bcem/crmingest/internal/ratelimit"
)

func rateCmd(open pipelineOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "rate <email>",
		Short: "Show the current rate window for a sender and its domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, closeFn, err := open(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			sender := strings.ToLower(strings.TrimSpace(args[0]))
			out := cmd.OutOrStdout()

			scopes := []struct{ scope, identity string }{
				{ratelimit.ScopeSender, sender},
				{ratelimit.ScopeDomain, classify.Domain(sender)},
			}
			for _, s := range scopes {
				if s.identity == "" {
					continue
				}
				count, ttl, err := p.Limiter.Peek(ctx, s.identity, s.scope)
				if err != nil {
					return fmt.Errorf("peek %s: %w", s.scope, err)
				}
				reset := "-"
				if ttl > 0 {
					reset = ttl.Round(time.Second).String()
				}
				fmt.Fprintf(out, "%-7s %-30s count=%d resets_in=%s\n", s.scope, s.identity, count, reset)
			}
			return nil
		},
	}
}
