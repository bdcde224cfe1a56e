// Package server carries transaction requests from remote peers to the
// transactor over a mangos REQ/REP socket. Messages use the codec wire
// format, and failed transactions travel back as an error code plus
// message so peers can still classify them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/rep"
	"golang.org/x/sync/errgroup"

	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/codec"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"
)

// Submitter is the transactor side of the connection
type Submitter interface {
	Submit(ctx context.Context, req datalog.TxRequest) (*datalog.TxReport, error)
}

// DefaultWorkers is how many requests a server reads concurrently
const DefaultWorkers = 8

// Options configures a server
type Options struct {
	// Workers bounds the requests in flight. The transactor still applies
	// them one at a time.
	Workers int
	Logger  *slog.Logger
}

// Server answers transaction requests on a REP socket
type Server struct {
	sock      mangos.Socket
	submitter Submitter
	workers   int
	log       *slog.Logger
}

// Listen opens a REP socket on addr, e.g. tcp://127.0.0.1:9876 or
// inproc://cliodb.
func Listen(addr string, submitter Submitter, opts Options) (*Server, error) {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	sock, err := rep.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create rep socket: %w", err)
	}
	if err := sock.Listen(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &Server{
		sock:      sock,
		submitter: submitter,
		workers:   opts.Workers,
		log:       opts.Logger.With("component", "server", "addr", addr),
	}, nil
}

// Serve answers requests until ctx is cancelled or the server is closed
func (s *Server) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		mctx, err := s.sock.OpenContext()
		if err != nil {
			s.sock.Close()
			return fmt.Errorf("failed to open socket context: %w", err)
		}
		g.Go(func() error { return s.work(ctx, mctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		s.sock.Close()
		return nil
	})

	s.log.Info("serving", "workers", s.workers)
	err := g.Wait()
	if errors.Is(err, mangos.ErrClosed) {
		err = nil
	}
	return err
}

// work answers requests on one socket context
func (s *Server) work(ctx context.Context, mctx mangos.Context) error {
	defer mctx.Close()
	for {
		msg, err := mctx.Recv()
		if err != nil {
			if errors.Is(err, mangos.ErrClosed) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("receive failed", "err", err)
			continue
		}

		reply := s.handle(ctx, msg)
		if err := mctx.Send(reply); err != nil {
			if errors.Is(err, mangos.ErrClosed) {
				return err
			}
			s.log.Warn("reply failed", "err", err)
		}
	}
}

func (s *Server) handle(ctx context.Context, msg []byte) []byte {
	start := time.Now()
	req, err := codec.DecodeTxRequest(msg)
	if err != nil {
		s.log.Warn("malformed request", "err", err, "bytes", len(msg))
		return codec.EncodeTxResponse(nil, err)
	}

	report, err := s.submitter.Submit(ctx, req)
	if err != nil {
		s.log.Debug("transaction failed", "err", err, "ops", len(req.Ops))
		return codec.EncodeTxResponse(nil, err)
	}
	s.log.Debug("transaction committed", "tx", report.TxID, "duration", time.Since(start))
	return codec.EncodeTxResponse(report, nil)
}

// Close stops the server without waiting for Serve to return
func (s *Server) Close() error {
	return s.sock.Close()
}
