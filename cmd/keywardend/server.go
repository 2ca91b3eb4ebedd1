// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/keywarden/keywarden/lib/codec"
	"github.com/keywarden/keywarden/lib/ipc"
)

// readTimeout is how long the daemon waits for the client to send its
// request. A well-behaved client writes immediately after connecting.
const readTimeout = 30 * time.Second

// writeTimeout is how long the daemon waits for the response write.
const writeTimeout = 10 * time.Second

// maxRequestSize bounds a single CBOR request. The largest legitimate
// request is an unlock carrying a passphrase; 1 MB is generous.
const maxRequestSize = 1024 * 1024

// Serve accepts connections on the unix socket and handles one
// request-response cycle per connection. Blocks until ctx is
// cancelled, then stops accepting and drains in-flight handlers.
//
// Any stale socket file is removed before listening, and the socket is
// chmodded to owner-only: filesystem permission is the whole
// authentication model.
func (d *daemon) Serve(ctx context.Context) error {
	if err := os.Remove(d.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", d.socketPath, err)
	}

	listener, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", d.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(d.socketPath)
	}()

	if err := os.Chmod(d.socketPath, 0o600); err != nil {
		return fmt.Errorf("restricting socket %s: %w", d.socketPath, err)
	}

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	d.logger.Info("listening", "socket", d.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			d.logger.Error("accept failed", "error", err)
			continue
		}

		d.connections.Add(1)
		go func() {
			defer d.connections.Done()
			d.handleConnection(ctx, conn)
		}()
	}

	d.connections.Wait()
	return nil
}

// handleConnection processes one request-response cycle. CBOR is
// self-delimiting so no framing protocol is needed; the LimitReader
// keeps a misbehaving client from exhausting memory.
func (d *daemon) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var request ipc.Request
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&request); err != nil {
		if errors.Is(err, io.EOF) {
			// Client connected but sent nothing.
			return
		}
		d.writeResponse(conn, d.stamped(ipc.Response{
			Error:     fmt.Sprintf("invalid request: %v", err),
			ErrorKind: ipc.ErrKindBadRequest,
		}))
		return
	}
	defer request.ZeroPassphrase()

	d.writeResponse(conn, d.dispatch(ctx, &request))
}

// writeResponse encodes one response. Write failures are logged at
// debug: the connection is closing regardless.
func (d *daemon) writeResponse(conn net.Conn, response ipc.Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		d.logger.Debug("response write failed", "error", err)
	}
}
