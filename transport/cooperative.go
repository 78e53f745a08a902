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

package transport

import (
	"context"
	"io"
	"sync"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/gitwire/pktline"
)

// Cooperative wraps rw in a Conn whose operations are suspension
// points: each call hands the operation to a dedicated I/O goroutine
// and waits on either its completion or ctx cancellation.
//
// On cancellation the call returns immediately with ErrTransport while
// the abandoned operation may still be in flight; the connection is
// unusable afterward and must be closed. No partial protocol state is
// observable through the Conn after an abandoned call.
func Cooperative(rw io.ReadWriteCloser) Conn {
	c := &coopConn{
		rw:   rw,
		r:    pktline.NewReader(rw),
		w:    pktline.NewWriter(rw),
		ops:  make(chan coopOp),
		dead: make(chan struct{}),
	}
	go c.pump()
	return c
}

type coopOp struct {
	write *pktline.Packet // frame and send
	raw   io.Reader       // stream unframed bytes
	done  chan coopResult
}

type coopResult struct {
	pkt pktline.Packet
	n   int64
	err error
}

type coopConn struct {
	rw io.ReadWriteCloser
	r  *pktline.Reader
	w  *pktline.Writer

	ops  chan coopOp
	dead chan struct{}

	closeOnce sync.Once
	closeErr  error

	// abandoned is set once any operation is dropped mid-flight; every
	// later operation fails fast instead of racing the pump.
	mu        sync.Mutex
	abandoned bool
}

// pump owns the underlying stream. Exactly one operation runs at a
// time; results are delivered on the per-op channel so an abandoned
// caller never receives a stale result.
func (c *coopConn) pump() {
	for {
		select {
		case <-c.dead:
			return
		case op := <-c.ops:
			var res coopResult
			switch {
			case op.write != nil:
				res.err = c.w.WritePacket(*op.write)
			case op.raw != nil:
				res.n, res.err = io.Copy(c.rw, op.raw)
			default:
				res.pkt, res.err = c.r.ReadPacket()
			}
			select {
			case op.done <- res:
			case <-c.dead:
				return
			}
		}
	}
}

func (c *coopConn) run(ctx context.Context, op coopOp) (coopResult, error) {
	c.mu.Lock()
	if c.abandoned {
		c.mu.Unlock()
		return coopResult{}, errors.Fmt("%w: connection abandoned after cancellation", ErrTransport)
	}
	c.mu.Unlock()

	op.done = make(chan coopResult, 1)
	select {
	case c.ops <- op:
	case <-ctx.Done():
		c.abandon()
		return coopResult{}, errors.Fmt("%w: %w", ErrTransport, ctx.Err())
	case <-c.dead:
		return coopResult{}, errors.Fmt("%w: connection closed", ErrTransport)
	}

	select {
	case res := <-op.done:
		return res, res.err
	case <-ctx.Done():
		c.abandon()
		return coopResult{}, errors.Fmt("%w: %w", ErrTransport, ctx.Err())
	case <-c.dead:
		return coopResult{}, errors.Fmt("%w: connection closed", ErrTransport)
	}
}

func (c *coopConn) abandon() {
	c.mu.Lock()
	c.abandoned = true
	c.mu.Unlock()
}

func (c *coopConn) ReadPacket(ctx context.Context) (pktline.Packet, error) {
	res, err := c.run(ctx, coopOp{})
	if err != nil && err != io.EOF && !errors.Is(err, ErrTransport) {
		return pktline.Packet{}, errors.Fmt("%w: %w", ErrTransport, err)
	}
	return res.pkt, err
}

func (c *coopConn) ReadBlock(ctx context.Context) ([][]byte, error) {
	return readBlock(ctx, c)
}

func (c *coopConn) WritePacket(ctx context.Context, p pktline.Packet) error {
	_, err := c.run(ctx, coopOp{write: &p})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pktline.ErrTooLong), errors.Is(err, ErrTransport):
		return err
	default:
		return errors.Fmt("%w: %w", ErrTransport, err)
	}
}

func (c *coopConn) WriteRaw(ctx context.Context, r io.Reader) (int64, error) {
	res, err := c.run(ctx, coopOp{raw: r})
	switch {
	case err == nil:
		return res.n, nil
	case errors.Is(err, ErrTransport):
		return res.n, err
	default:
		return res.n, errors.Fmt("%w: %w", ErrTransport, err)
	}
}

func (c *coopConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.dead)
		c.closeErr = c.rw.Close()
	})
	return c.closeErr
}
