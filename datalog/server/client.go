package server

import (
	"context"
	"fmt"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/req"

	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/codec"
)

// DefaultTimeout bounds a Submit whose context has no deadline
const DefaultTimeout = 30 * time.Second

// socketGrace keeps socket deadlines behind the context's, so a caller's
// own timeout is reported as the context error.
const socketGrace = time.Second

// Client submits transactions to a remote transactor
type Client struct {
	sock    mangos.Socket
	timeout time.Duration
}

// Dial connects a REQ socket to addr. The connection is established in the
// background, so Dial succeeds before the server is up.
func Dial(addr string) (*Client, error) {
	sock, err := req.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create req socket: %w", err)
	}
	if err := sock.DialOptions(addr, map[string]interface{}{mangos.OptionDialAsynch: true}); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &Client{sock: sock, timeout: DefaultTimeout}, nil
}

// Submit sends req and waits for the transactor's answer. It is safe for
// concurrent use; each call has its own socket context.
func (c *Client) Submit(ctx context.Context, request datalog.TxRequest) (*datalog.TxReport, error) {
	mctx, err := c.sock.OpenContext()
	if err != nil {
		return nil, fmt.Errorf("failed to open socket context: %w", err)
	}
	defer mctx.Close()

	wait := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline) + socketGrace
	}
	if err := mctx.SetOption(mangos.OptionSendDeadline, wait); err != nil {
		return nil, fmt.Errorf("failed to set send deadline: %w", err)
	}
	if err := mctx.SetOption(mangos.OptionRecvDeadline, wait); err != nil {
		return nil, fmt.Errorf("failed to set receive deadline: %w", err)
	}

	type result struct {
		reply []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		if err := mctx.Send(codec.EncodeTxRequest(request)); err != nil {
			done <- result{err: err}
			return
		}
		reply, err := mctx.Recv()
		done <- result{reply: reply, err: err}
	}()

	select {
	case <-ctx.Done():
		// Closing the context abandons the exchange and unblocks the goroutine.
		mctx.Close()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("transactor unreachable: %w", r.err)
		}
		return codec.DecodeTxResponse(r.reply)
	}
}

// Close closes the socket
func (c *Client) Close() error {
	return c.sock.Close()
}
