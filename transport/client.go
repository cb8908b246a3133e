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

// ClientConfig configures the operator-side sender.
type ClientConfig struct {
	SendAddress   string
	SocketTimeout time.Duration
	QueueTimeout  time.Duration
}

// Client drains its outbound queue into datagrams sent to a fixed
// destination. Sends are best effort.
type Client struct {
	cfg     ClientConfig
	dest    *net.UDPAddr
	conn    *net.UDPConn
	in      *Receiver
	sender  *Sender
	log     zerolog.Logger
	metrics *utils.Metrics
	closed  closeFlag
}

// NewClient resolves the destination and binds an ephemeral local port of
// the same address family.
func NewClient(cfg ClientConfig, log zerolog.Logger, metrics *utils.Metrics) (*Client, error) {
	if cfg.SocketTimeout <= 0 {
		cfg.SocketTimeout = DefaultSocketTimeout
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = DefaultQueueTimeout
	}

	dest, err := net.ResolveUDPAddr("udp", cfg.SendAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", cfg.SendAddress, err)
	}

	local := "0.0.0.0:0"
	if dest.IP != nil && dest.IP.To4() == nil {
		local = "[::]:0"
	}
	conn, err := listenUDP(local)
	if err != nil {
		return nil, err
	}

	if metrics == nil {
		metrics = utils.NopMetrics()
	}
	sender, receiver := NewQueue()
	return &Client{
		cfg:     cfg,
		dest:    dest,
		conn:    conn,
		in:      receiver,
		sender:  sender,
		log:     log.With().Str("component", "client").Logger(),
		metrics: metrics,
	}, nil
}

// Sender returns a new producer handle onto the outbound queue. The caller
// owns it and should Close it when done.
func (c *Client) Sender() *Sender {
	return c.sender.Clone()
}

// LocalAddr is the ephemeral address the client sends from.
func (c *Client) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Close asks Run to send whatever is already queued and stop; it returns
// within one queue timeout.
func (c *Client) Close() {
	c.closed.set()
}

// Run sends queued commands until closed or ctx ends.
func (c *Client) Run(ctx context.Context) error {
	defer c.conn.Close()
	defer c.in.Close()
	defer c.sender.Close()

	c.log.Info().Str("dest", c.dest.String()).Str("local", c.LocalAddr().String()).Msg("Client started")
	defer c.log.Info().Msg("Client stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		if c.closed.isSet() {
			c.flush(ctx)
			return nil
		}

		cmd, err := c.in.RecvTimeout(c.cfg.QueueTimeout)
		switch {
		case errors.Is(err, ErrTimeout):
			continue
		case errors.Is(err, ErrDisconnected):
			// not reached while Run holds c.sender
			c.log.Debug().Msg("all producers closed")
			return nil
		case err != nil:
			return err
		}

		buf, err := message.Encode(cmd)
		if err != nil {
			return err
		}
		c.send(ctx, buf)
	}
}

func (c *Client) flush(ctx context.Context) {
	for {
		cmd, err := c.in.TryRecv()
		if err != nil {
			return
		}
		buf, err := message.Encode(cmd)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping unencodable command")
			continue
		}
		c.send(ctx, buf)
	}
}

func (c *Client) send(ctx context.Context, buf []byte) {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.SocketTimeout)); err != nil {
		c.log.Warn().Err(err).Msg("set write deadline")
	}
	if _, err := c.conn.WriteToUDP(buf, c.dest); err != nil {
		c.metrics.SendFailed(ctx)
		if isTimeout(err) {
			c.log.Debug().Msg("send timed out")
			return
		}
		c.log.Warn().Err(err).Msg("send failed")
		return
	}
	c.metrics.DatagramSent(ctx)
	c.log.Trace().Int("bytes", len(buf)).Msg("TX")
}
