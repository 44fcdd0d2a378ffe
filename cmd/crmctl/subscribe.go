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
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bcem/crmingest/internal/app"
	"github.com/bcem/crmingest/internal/graph"
)

// graphFetcher builds a Graph client from the pipeline's credentials.
func graphFetcher(ctx context.Context, p *app.Pipeline) (*graph.Fetcher, error) {
	g := p.Config.Graph
	if !g.Enabled() {
		return nil, errors.New("graph credentials are not configured")
	}
	return graph.NewFetcher(graph.NewClient(ctx, g.TenantID, g.ClientID, g.ClientSecret), graph.DefaultBaseURL), nil
}

// mailboxes returns the explicit user list, or every discovered mailbox.
func mailboxes(ctx context.Context, f *graph.Fetcher, users string, exclude []string) ([]string, error) {
	list := splitList(users)
	if len(list) > 0 {
		return list, nil
	}
	boxes, err := f.ListMailboxes(ctx, exclude)
	if err != nil {
		return nil, fmt.Errorf("discover mailboxes: %w", err)
	}
	for _, b := range boxes {
		list = append(list, b.Mail)
	}
	if len(list) == 0 {
		return nil, errors.New("no mailboxes found")
	}
	return list, nil
}

func subscribeCmd(open pipelineOpener) *cobra.Command {
	var (
		notifyURL string
		users     string
		exclude   []string
	)

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Create Graph change subscriptions that POST to /webhooks/graph",
		Long: `Creates one "created" message subscription per mailbox. The webhook
secret is sent as clientState, so the server accepts only notifications
carrying it. Subscriptions expire after about three days; use renew.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if notifyURL == "" {
				return errors.New("--url is required")
			}

			ctx := cmd.Context()
			p, closeFn, err := open(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if p.Config.WebhookSecret == "" {
				return errors.New("webhook secret is required for Graph subscriptions")
			}
			f, err := graphFetcher(ctx, p)
			if err != nil {
				return err
			}
			targets, err := mailboxes(ctx, f, users, exclude)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var failed int
			for _, u := range targets {
				sub, err := f.Subscribe(ctx, u, notifyURL, p.Config.WebhookSecret)
				if err != nil {
					failed++
					fmt.Fprintf(out, "%-32s FAILED %v\n", u, err)
					continue
				}
				fmt.Fprintf(out, "%-32s %s expires %s\n", u, sub.ID, sub.ExpiresAt.Format(time.RFC3339))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d subscriptions failed", failed, len(targets))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&notifyURL, "url", "", "Public URL of /webhooks/graph")
	cmd.Flags().StringVar(&users, "users", "", "Comma-separated mailbox user IDs or UPNs (default: discover all)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Mailboxes to skip during discovery")
	return cmd
}

func renewCmd(open pipelineOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "renew <subscriptionId>...",
		Short: "Extend Graph subscriptions to their maximum lifetime",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, closeFn, err := open(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			f, err := graphFetcher(ctx, p)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var failed int
			for _, id := range args {
				expiry, err := f.Renew(ctx, id)
				switch {
				case errors.Is(err, graph.ErrSubscriptionGone):
					failed++
					fmt.Fprintf(out, "%-40s GONE (re-run subscribe)\n", id)
				case err != nil:
					failed++
					fmt.Fprintf(out, "%-40s FAILED %v\n", id, err)
				default:
					fmt.Fprintf(out, "%-40s expires %s\n", id, expiry.Format(time.RFC3339))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d renewals failed", failed, len(args))
			}
			return nil
		},
	}
}
