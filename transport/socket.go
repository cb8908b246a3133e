// Package transport carries commands over UDP: a Server on the vehicle that
// decodes datagrams into a queue, and a Client on the operator side that
// drains a queue into datagrams.
package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

const (
	// DefaultSocketTimeout bounds every socket read and write (1/20 s).
	DefaultSocketTimeout = 50 * time.Millisecond
	// DefaultQueueTimeout bounds the Client's wait on its outbound queue.
	DefaultQueueTimeout = time.Second

	// commands are a few dozen bytes; anything larger is not ours
	maxDatagram = 1024
)

// closeFlag is the cancellation primitive shared between a loop and whoever
// holds its Close method.
type closeFlag struct {
	mu     sync.Mutex
	closed bool
}

func (f *closeFlag) set() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *closeFlag) isSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func listenUDP(addr string) (*net.UDPConn, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", laddr, err)
	}
	return conn, nil
}

// isTimeout reports whether err is a deadline expiry, the would-block case
// that is retried rather than surfaced.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
