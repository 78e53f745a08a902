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

// Blocking wraps rw in a Conn whose operations suspend the calling
// goroutine directly on the underlying stream.
//
// Cancellation is caller-driven: close the underlying stream and the
// in-flight read fails with ErrTransport. The context is checked only
// between operations.
func Blocking(rw io.ReadWriteCloser) Conn {
	return &blockingConn{
		rw: rw,
		r:  pktline.NewReader(rw),
		w:  pktline.NewWriter(rw),
	}
}

type blockingConn struct {
	rw io.ReadWriteCloser
	r  *pktline.Reader
	w  *pktline.Writer

	closeOnce sync.Once
	closeErr  error
}

func (c *blockingConn) ReadPacket(ctx context.Context) (pktline.Packet, error) {
	if err := ctx.Err(); err != nil {
		return pktline.Packet{}, errors.Fmt("%w: %w", ErrTransport, err)
	}
	p, err := c.r.ReadPacket()
	if err != nil && err != io.EOF {
		return pktline.Packet{}, errors.Fmt("%w: %w", ErrTransport, err)
	}
	return p, err
}

func (c *blockingConn) ReadBlock(ctx context.Context) ([][]byte, error) {
	return readBlock(ctx, c)
}

func (c *blockingConn) WritePacket(ctx context.Context, p pktline.Packet) error {
	if err := ctx.Err(); err != nil {
		return errors.Fmt("%w: %w", ErrTransport, err)
	}
	if err := c.w.WritePacket(p); err != nil {
		if errors.Is(err, pktline.ErrTooLong) {
			return err
		}
		return errors.Fmt("%w: %w", ErrTransport, err)
	}
	return nil
}

func (c *blockingConn) WriteRaw(ctx context.Context, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.Fmt("%w: %w", ErrTransport, err)
	}
	n, err := io.Copy(c.rw, r)
	if err != nil {
		return n, errors.Fmt("%w: %w", ErrTransport, err)
	}
	return n, nil
}

func (c *blockingConn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.rw.Close() })
	return c.closeErr
}
