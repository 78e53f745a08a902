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

package progress

import (
	"context"
	"testing"

	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/logging/memlogger"
	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"
)

func TestEvent(t *testing.T) {
	t.Parallel()

	ftt.Run(`Event`, t, func(t *ftt.Test) {
		t.Run(`Indeterminate has no ratio`, func(t *ftt.Test) {
			ev := Indeterminate("negotiating", "round 2")
			assert.Loosely(t, ev.HasRatio(), should.BeFalse)
			assert.Loosely(t, ev.Phase, should.Equal("negotiating"))
		})

		t.Run(`a zero ratio is still a known ratio`, func(t *ftt.Test) {
			ev := Event{Phase: "receiving-pack", Ratio: 0}
			assert.Loosely(t, ev.HasRatio(), should.BeTrue)
		})
	})
}

func TestSinks(t *testing.T) {
	t.Parallel()

	ftt.Run(`sinks`, t, func(t *ftt.Test) {
		t.Run(`Discard accepts anything`, func(t *ftt.Test) {
			Discard.Event(Indeterminate("handshake", "dialing"))
		})

		t.Run(`LogSink writes to the context logger`, func(t *ftt.Test) {
			ctx := memlogger.Use(context.Background())
			ctx = logging.SetLevel(ctx, logging.Debug)
			sink := LogSink(ctx)

			sink.Event(Indeterminate("negotiating", "round 1"))
			sink.Event(Event{Phase: "receiving-pack", Message: "objects", Ratio: 0.5})

			ml := logging.Get(ctx).(*memlogger.MemLogger)
			assert.Loosely(t, ml.Messages(), should.HaveLength(2))
			assert.Loosely(t, ml.Messages()[0].Msg, should.Equal("negotiating: round 1"))
			assert.Loosely(t, ml.Messages()[1].Msg, should.Equal("receiving-pack: objects (50%)"))
		})
	})
}
