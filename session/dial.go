// Copyright 2026 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"

	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/retry"
	"go.chromium.org/luci/common/retry/transient"

	"go.chromium.org/gitwire/transport"
)

// Dial establishes a session, retrying connection and handshake on
// transient (transport-level) failures.
//
// Only establishment retries: once a session exists, nothing is ever
// retried on it, because negotiation is not idempotent on a connection
// whose server-side state has advanced. A failed session is closed and
// a caller wanting another attempt dials again from scratch.
func Dial(ctx context.Context, connect func(context.Context) (transport.Conn, error), opts *Options) (*Session, error) {
	var s *Session
	err := retry.Retry(ctx, transient.Only(retry.Default), func() error {
		conn, err := connect(ctx)
		if err != nil {
			return err
		}
		s, err = New(ctx, conn, opts)
		if err != nil {
			conn.Close()
			return err
		}
		return nil
	}, retry.LogCallback(ctx, "dial"))
	if err != nil {
		logging.Errorf(ctx, "session: dial failed: %s", err)
		return nil, err
	}
	return s, nil
}
