// Package healthcheck exposes the profiler readiness on a unix socket: once
// every capture source is attached, each client connection receives ReadyMsg.
package healthcheck

import (
	"context"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
)

const (
	ReadyMsg = 0x01

	// A deadline already in the past fails reads without polling the socket.
	aliveTimeout = 10 * time.Millisecond
)

type Server struct {
	ln         net.Listener
	readyCh    chan struct{}
	readyOnce  sync.Once
	socketPath string
	logger     log.Logger
}

func NewServer(socketPath string, logger log.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		readyCh:    make(chan struct{}),
		logger:     logger.With().Str("component", "healthcheck").Logger(),
	}
}

// Listen starts accepting connections until ctx is done or the server is
// closed.
func (s *Server) Listen(ctx context.Context) error {
	// A stale socket from a previous run would make listen fail.
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.socketPath)
	}
	s.ln = ln

	go s.accept(ctx)

	return nil
}

// NotifyReady marks the profiler as ready. It can be called more than once.
func (s *Server) NotifyReady() {
	s.readyOnce.Do(func() {
		s.logger.Debug().Msg("marking readiness")
		close(s.readyCh)
	})
}

// Close stops the listener and removes the socket file.
func (s *Server) Close() error {
	if s.ln != nil {
		if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug().Err(err).Msg("error closing listener")
		}
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove socket")
	}

	return nil
}

func (s *Server) accept(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.logger.Warn().Err(err).Msg("accept error")
			continue
		}

		go s.serve(ctx, conn)
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	select {
	case <-s.readyCh:
		if !alive(conn) {
			s.logger.Debug().Msg("client went away before readiness")
			return
		}
		if _, err := conn.Write([]byte{ReadyMsg}); err != nil {
			if !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
				s.logger.Debug().Err(err).Msg("failed to write ready message")
			}
		}
	case <-ctx.Done():
	}
}

// alive reports whether the peer is still connected. Clients never write,
// so a read either times out or returns EOF once they hang up.
func alive(conn net.Conn) bool {
	if err := conn.SetReadDeadline(time.Now().Add(aliveTimeout)); err != nil {
		return true
	}
	defer conn.SetReadDeadline(time.Time{})

	_, err := conn.Read(make([]byte, 1))
	var netErr net.Error
	if err == nil || errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return !errors.Is(err, io.EOF) && !errors.Is(err, syscall.ECONNRESET)
}

// Wait polls the socket at socketPath every interval until the server
// reports readiness or ctx is done.
func Wait(ctx context.Context, socketPath string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ready, err := probe(socketPath, interval)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "timeout waiting for profiler readiness")
		case <-ticker.C:
		}
	}
}

// probe returns an error only when waiting longer cannot help.
func probe(socketPath string, timeout time.Duration) (bool, error) {
	info, err := os.Stat(socketPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to check socket")
	}
	if info.Mode()&os.ModeSocket == 0 {
		return false, errors.Errorf("path exists but is not a unix socket: %s", socketPath)
	}

	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		if errors.Is(err, syscall.EACCES) {
			return false, errors.Wrap(err, "failed to connect")
		}
		return false, nil
	}
	defer conn.Close()

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(timeout))
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return false, nil
	}

	return buf[0] == ReadyMsg, nil
}
