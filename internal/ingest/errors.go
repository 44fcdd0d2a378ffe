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

package ingest

import (
	"errors"
	"net/http"

	"github.com/bcem/crmingest/internal/resolver"
)

// Error kinds surfaced by the pipeline. Components below the orchestrator
// wrap these; only the orchestrator turns them into responses.
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrValidation     = errors.New("validation failed")
	ErrRateLimited    = errors.New("rate limited")
	ErrTransientStore = errors.New("store unavailable")
	ErrPermanentData  = errors.New("unprocessable data")
)

// StatusFor maps an error to the HTTP status a webhook caller sees.
func StatusFor(err error) int {
	switch {
	case err == nil, errors.Is(err, resolver.ErrSkippedInternal):
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
