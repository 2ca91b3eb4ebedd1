// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/keywarden/keywarden/lib/codec"
)

// defaultCallTimeout bounds one request-response exchange when the
// caller's context carries no deadline. Long actions (interactive
// unlock, autotype) legitimately take a while, so it is generous.
const defaultCallTimeout = 3 * time.Minute

// Client talks to the daemon socket, one connection per request.
type Client struct {
	socketPath string
}

// NewClient returns a Client for the daemon at socketPath. An empty
// path selects SocketPath().
func NewClient(socketPath string) *Client {
	if socketPath == "" {
		socketPath = SocketPath()
	}
	return &Client{socketPath: socketPath}
}

// Do sends one request and reads the response. The request's
// passphrase bytes are zeroed before Do returns, whatever the outcome.
// A response with OK false is returned as-is, not as an error; only
// transport failures error.
func (c *Client) Do(ctx context.Context, request Request) (Response, error) {
	defer request.ZeroPassphrase()

	var dialer net.Dialer
	connection, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return Response{}, fmt.Errorf("ipc: connecting to %s: %w (is keywardend running?)", c.socketPath, err)
	}
	defer connection.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultCallTimeout)
	}
	if err := connection.SetDeadline(deadline); err != nil {
		return Response{}, fmt.Errorf("ipc: setting socket deadline: %w", err)
	}

	if err := codec.NewEncoder(connection).Encode(request); err != nil {
		return Response{}, fmt.Errorf("ipc: sending %s request: %w", request.Action, err)
	}

	var response Response
	if err := codec.NewDecoder(connection).Decode(&response); err != nil {
		return Response{}, fmt.Errorf("ipc: reading %s response: %w", request.Action, err)
	}
	return response, nil
}
