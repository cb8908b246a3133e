package hw

import (
	"context"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	telloCommandTimeout = 500 * time.Millisecond
	// take-off and land are acknowledged once the manoeuvre completes
	telloFlightTimeout = 10 * time.Second
)

// TelloConfig addresses a Tello drone speaking the text SDK.
type TelloConfig struct {
	Address   string // drone command port, 192.168.10.1:8889
	LocalPort int    // 0 picks an ephemeral port
}

// TelloSession is a DroneSession over the Tello text SDK.
type TelloSession struct {
	mu   sync.Mutex
	conn *net.UDPConn
	log  zerolog.Logger
	buf  []byte
}

// DialTello binds the local port and puts the drone into SDK mode.
func DialTello(ctx context.Context, cfg TelloConfig, log zerolog.Logger) (*TelloSession, error) {
	raddr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", cfg.Address, err)
	}
	conn, err := net.DialUDP("udp", &net.UDPAddr{Port: cfg.LocalPort}, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial tello %s: %w", raddr, err)
	}

	s := &TelloSession{
		conn: conn,
		log:  log.With().Str("component", "tello").Str("addr", raddr.String()).Logger(),
		buf:  make([]byte, 256),
	}
	if err := s.request(ctx, "command", telloCommandTimeout); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enter sdk mode: %w", err)
	}
	s.log.Info().Msg("connected")
	return s, nil
}

// stickValue maps [-1, 1] onto the SDK's -100..100.
func stickValue(v float32) int {
	n := int(math.Round(float64(v) * 100))
	if n > 100 {
		return 100
	}
	if n < -100 {
		return -100
	}
	return n
}

// StickCommand renders the "rc" line: roll, nick (forward), pitch
// (vertical), yaw.
func StickCommand(pitch, nick, roll, yaw float32) string {
	return fmt.Sprintf("rc %d %d %d %d", stickValue(roll), stickValue(nick), stickValue(pitch), stickValue(yaw))
}

// SendStick is fire and forget; the SDK does not acknowledge rc commands.
func (s *TelloSession) SendStick(_ context.Context, pitch, nick, roll, yaw float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.Write([]byte(StickCommand(pitch, nick, roll, yaw))); err != nil {
		return fmt.Errorf("send stick: %w", err)
	}
	return nil
}

func (s *TelloSession) TakeOff(ctx context.Context) error {
	return s.request(ctx, "takeoff", telloFlightTimeout)
}

func (s *TelloSession) Land(ctx context.Context) error {
	return s.request(ctx, "land", telloFlightTimeout)
}

// request sends cmd and waits for "ok", bounded by timeout and ctx.
func (s *TelloSession) request(ctx context.Context, cmd string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return err
	}

	if _, err := s.conn.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	for {
		n, err := s.conn.Read(s.buf)
		if err != nil {
			return fmt.Errorf("%s: waiting for ack: %w", cmd, err)
		}
		reply := strings.TrimSpace(string(s.buf[:n]))
		switch {
		case reply == "ok":
			s.log.Debug().Str("cmd", cmd).Msg("ack")
			return nil
		case strings.HasPrefix(reply, "error"):
			return fmt.Errorf("%s: drone replied %q", cmd, reply)
		default:
			// late ack of an earlier request or state chatter
			s.log.Trace().Str("cmd", cmd).Str("reply", reply).Msg("ignored reply")
		}
	}
}

func (s *TelloSession) Close() error {
	return s.conn.Close()
}
