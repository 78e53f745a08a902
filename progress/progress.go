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

// Package progress carries the structured progress events the protocol
// core emits. Rendering is someone else's job: the core never formats
// human-readable progress itself, except for forwarding sideband
// progress bytes verbatim, which bypass this package entirely.
package progress

import (
	"context"
	"math"

	"go.chromium.org/luci/common/logging"
)

// Event is one structured progress notification.
type Event struct {
	// Phase names the protocol stage ("handshake", "negotiating",
	// "receiving-pack", ...).
	Phase string

	Message string

	// Ratio is the completed fraction in [0,1], or NaN when unknown.
	Ratio float64
}

// HasRatio reports whether the event carries a known completion ratio.
func (e *Event) HasRatio() bool { return !math.IsNaN(e.Ratio) }

// Indeterminate builds an event with no completion ratio.
func Indeterminate(phase, message string) Event {
	return Event{Phase: phase, Message: message, Ratio: math.NaN()}
}

// Sink consumes events. Implementations must be cheap and must not
// block: they run on the protocol goroutine.
type Sink interface {
	Event(ev Event)
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Event(Event) {}

// LogSink returns a sink that forwards events to the context's logger
// at debug level.
func LogSink(ctx context.Context) Sink {
	return logSink{ctx}
}

type logSink struct {
	ctx context.Context
}

func (s logSink) Event(ev Event) {
	if ev.HasRatio() {
		logging.Debugf(s.ctx, "%s: %s (%.0f%%)", ev.Phase, ev.Message, ev.Ratio*100)
		return
	}
	logging.Debugf(s.ctx, "%s: %s", ev.Phase, ev.Message)
}
