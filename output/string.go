package output

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"rc-vehicle-core/message"
)

// DefaultStringPrecision is the number of decimals the tank firmware reads.
const DefaultStringPrecision = 20

// StringTankConfig shapes the "<left>,<right>\r\n" line.
type StringTankConfig struct {
	// Swap exchanges left and right before scaling, for boards wired
	// mirror-image.
	Swap bool
	// LeftScale and RightScale trim each track; zero means 1.
	LeftScale  float32
	RightScale float32
	// Precision is the number of decimals per value; zero means
	// DefaultStringPrecision.
	Precision int
}

// StringTank drives a differential-drive vehicle whose motor controller
// takes one text line per command on a serial link.
type StringTank struct {
	cfg StringTankConfig
	mu  sync.Mutex
	w   io.Writer
	log zerolog.Logger
}

func NewStringTank(cfg StringTankConfig, w io.Writer, log zerolog.Logger) *StringTank {
	if cfg.LeftScale == 0 {
		cfg.LeftScale = 1
	}
	if cfg.RightScale == 0 {
		cfg.RightScale = 1
	}
	if cfg.Precision <= 0 {
		cfg.Precision = DefaultStringPrecision
	}
	return &StringTank{
		cfg: cfg,
		w:   w,
		log: log.With().Str("driver", "string-tank").Logger(),
	}
}

// Format renders the line written for cmd.
func (t *StringTank) Format(cmd message.Command) []byte {
	left, right := cmd.ThrottleLeft, cmd.ThrottleRight
	if t.cfg.Swap {
		left, right = right, left
	}
	left *= t.cfg.LeftScale
	right *= t.cfg.RightScale

	b := make([]byte, 0, 2*t.cfg.Precision+16)
	b = strconv.AppendFloat(b, float64(left), 'f', t.cfg.Precision, 32)
	b = append(b, ',')
	b = strconv.AppendFloat(b, float64(right), 'f', t.cfg.Precision, 32)
	b = append(b, '\r', '\n')
	return b
}

func (t *StringTank) Apply(_ context.Context, cmd message.Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := t.Format(cmd)
	t.log.Trace().Bytes("line", line).Msg("apply")

	if _, err := t.w.Write(line); err != nil {
		return fmt.Errorf("write throttles: %w", err)
	}
	return nil
}
