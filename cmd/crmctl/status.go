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

	"github.com/spf13/cobra"
)

func statusCmd(open pipelineOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "status <messageId>",
		Short: "Show the processing state of a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, closeFn, err := open(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			state, err := p.Guard.Check(ctx, args[0])
			if err != nil {
				return fmt.Errorf("check %s: %w", args[0], err)
			}
			if state == nil {
				return fmt.Errorf("message %s has not been seen", args[0])
			}
			return writeJSON(cmd.OutOrStdout(), state)
		},
	}
}
