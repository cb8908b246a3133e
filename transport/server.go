package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"rc-vehicle-core/message"
	"rc-vehicle-core/utils"
)

// ServerConfig configures the vehicle-side receiver.
type ServerConfig struct {
	BindAddress   string
	SocketTimeout time.Duration
}

// Server turns inbound datagrams into decoded commands pushed onto a queue.
type Server struct {
	cfg     ServerConfig
	conn    *net.UDPConn
	out     *Sender
	log     zerolog.Logger
	metrics *utils.Metrics
	closed  closeFlag
}

// NewServer binds the socket. It takes ownership of out and closes it when
// Run returns, so the consumer observes end of stream.
func NewServer(cfg ServerConfig, out *Sender, log zerolog.Logger, metrics *utils.Metrics) (*Server, error) {
	if cfg.SocketTimeout <= 0 {
		cfg.SocketTimeout = DefaultSocketTimeout
	}
	conn, err := listenUDP(cfg.BindAddress)
	if err != nil {
		out.Close()
		return nil, err
	}
	if metrics == nil {
		metrics = utils.NopMetrics()
	}
	return &Server{
		cfg:     cfg,
		conn:    conn,
		out:     out,
		log:     log.With().Str("component", "server").Logger(),
		metrics: metrics,
	}, nil
}

// LocalAddr is the bound address, useful when binding port 0.
func (s *Server) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Close asks Run to stop; it returns within one socket timeout.
func (s *Server) Close() {
	s.closed.set()
}

// Run receives until closed, ctx ends, or a fatal error. A malformed
// datagram is fatal: the decode error is returned.
func (s *Server) Run(ctx context.Context) error {
	defer s.out.Close()
	defer s.conn.Close()

	s.log.Info().Str("bind", s.LocalAddr().String()).Dur("socket_timeout", s.cfg.SocketTimeout).Msg("Server started")
	defer s.log.Info().Msg("Server stopped")

	buf := make([]byte, maxDatagram)
	for {
		if s.closed.isSet() || ctx.Err() != nil {
			return nil
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.SocketTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			s.log.Error().Err(err).Msg("receive failed")
			return fmt.Errorf("receive: %w", err)
		}
		s.metrics.DatagramReceived(ctx)

		cmd, err := message.Decode(buf[:n])
		if err != nil {
			s.metrics.DecodeFailed(ctx)
			s.log.Error().Err(err).Str("from", from.String()).Int("bytes", n).Msg("dropping receive loop on malformed datagram")
			return err
		}
		s.log.Trace().Str("from", from.String()).Stringer("cmd", cmd).Msg("RX")

		if err := s.out.Send(cmd); err != nil {
			if errors.Is(err, ErrClosed) {
				s.log.Warn().Msg("consumer gone; stopping")
				return nil
			}
			return err
		}
	}
}
