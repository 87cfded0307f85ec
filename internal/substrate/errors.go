package substrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// ErrTransport marks connection-level failures: the node could not be reached
// or the connection broke. Such failures are recovered by reconnecting.
var ErrTransport = errors.New("chain transport failure")

// ErrClosed is returned by calls on a closed client.
var ErrClosed = errors.New("client closed")

// RPCError is a JSON-RPC 2.0 error returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// transport wraps err so that IsTransport reports true.
func transport(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// IsTransport reports whether err is a connection-level failure worth
// reconnecting for. Context cancellation is never a transport failure.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransport) || errors.Is(err, ErrClosed) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		// -32603 internal error and the -32000..-32099 server range are
		// node-side hiccups; everything else is a request problem.
		return rpcErr.Code == -32603 || (rpcErr.Code <= -32000 && rpcErr.Code >= -32099)
	}

	lower := strings.ToLower(err.Error())
	for _, token := range transientMessageTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

var transientMessageTokens = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"use of closed network connection",
	"websocket: close",
	"timed out",
	"timeout",
}
