// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package machine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// deviceConn is one short-lived JSON-RPC connection to a device's
// remote-control endpoint (Moonraker). Each capability operation opens
// its own connection, so responses can only ever match requests issued
// on that operation's connection; matching is by strict equality on
// the decoded numeric id, never by substring scanning.
//
// deviceConn is not safe for concurrent use. Capability operations own
// their connection for the duration of the operation.
type deviceConn struct {
	conn   *websocket.Conn
	logger *slog.Logger

	// nextID is the per-connection correlation id counter.
	nextID uint64

	// pendingLines buffers gcode response lines observed while
	// waiting for an RPC result, so incremental parsers (bed
	// leveling) don't lose lines that race the result frame.
	pendingLines []string
}

// rpcRequest is an outbound JSON-RPC 2.0 frame.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      uint64 `json:"id"`
}

// rpcFrame is any inbound frame: a response (ID non-nil) or a server
// notification (Method non-empty).
type rpcFrame struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("device error %d: %s", e.Code, e.Message)
}

// notifyGcodeResponse is the Moonraker notification carrying free-text
// printer output lines.
const notifyGcodeResponse = "notify_gcode_response"

// dialDevice opens a WebSocket connection to the device RPC endpoint.
// addr is "host:port" as published on the machine's connection topic.
func dialDevice(ctx context.Context, addr string, logger *slog.Logger) (*deviceConn, error) {
	if addr == "" {
		return nil, fmt.Errorf("device RPC address not yet discovered")
	}
	endpoint := url.URL{Scheme: "ws", Host: addr, Path: "/websocket"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing device %s: %w", addr, err)
	}
	return &deviceConn{conn: conn, logger: logger}, nil
}

func (d *deviceConn) close() {
	d.conn.Close()
}

// send writes a request frame and returns its correlation id without
// waiting for the response.
func (d *deviceConn) send(method string, params any) (uint64, error) {
	d.nextID++
	request := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      d.nextID,
	}
	if err := d.conn.WriteJSON(request); err != nil {
		return 0, fmt.Errorf("sending %s: %w", method, err)
	}
	return d.nextID, nil
}

// call sends a request and waits for the response with the same id.
// The wait is bounded by the context deadline; on timeout the caller
// gets a wrapped error and the connection is no longer usable.
func (d *deviceConn) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id, err := d.send(method, params)
	if err != nil {
		return nil, err
	}
	return d.await(ctx, method, id)
}

// await reads frames until the response matching id arrives. Gcode
// response notifications observed along the way are buffered for
// nextLine; everything else is skipped.
func (d *deviceConn) await(ctx context.Context, method string, id uint64) (json.RawMessage, error) {
	for {
		frame, err := d.readFrame(ctx)
		if err != nil {
			return nil, fmt.Errorf("awaiting %s response: %w", method, err)
		}
		if frame.ID != nil && *frame.ID == id {
			if frame.Error != nil {
				return nil, fmt.Errorf("%s: %w", method, frame.Error)
			}
			return frame.Result, nil
		}
		if frame.ID != nil {
			// A response to a different id cannot happen on a
			// per-operation connection; log it rather than guess.
			d.logger.Warn("device response for unknown request id",
				"method", method,
				"got_id", *frame.ID,
				"want_id", id,
			)
		}
	}
}

// nextLine returns the next gcode response line, reading frames as
// needed. Used by incremental free-text parsers.
func (d *deviceConn) nextLine(ctx context.Context) (string, error) {
	if len(d.pendingLines) > 0 {
		line := d.pendingLines[0]
		d.pendingLines = d.pendingLines[1:]
		return line, nil
	}
	for {
		frame, err := d.readFrame(ctx)
		if err != nil {
			return "", err
		}
		if len(d.pendingLines) > 0 {
			line := d.pendingLines[0]
			d.pendingLines = d.pendingLines[1:]
			return line, nil
		}
		_ = frame
	}
}

// readFrame reads and decodes one frame, honoring the context
// deadline. Gcode response lines are captured into pendingLines as a
// side effect.
func (d *deviceConn) readFrame(ctx context.Context) (*rpcFrame, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	if err := d.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	_, data, err := d.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	var frame rpcFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		// Malformed device frames are dropped, not fatal.
		d.logger.Warn("malformed device frame", "error", err)
		return &rpcFrame{}, nil
	}

	if frame.Method == notifyGcodeResponse {
		var lines []string
		if err := json.Unmarshal(frame.Params, &lines); err == nil {
			d.pendingLines = append(d.pendingLines, lines...)
		}
	}
	return &frame, nil
}
