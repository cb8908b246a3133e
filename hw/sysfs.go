package hw

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// sysfs attributes appear asynchronously after an export
const exportSettle = 100 * time.Millisecond

func writeAttr(path, value string) error {
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// export writes n to exportPath unless dir already exists, then waits for
// dir to appear.
func export(exportPath, dir string, n int) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	if err := writeAttr(exportPath, strconv.Itoa(n)); err != nil {
		return err
	}
	deadline := time.Now().Add(exportSettle)
	for {
		_, err := os.Stat(dir)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) || time.Now().After(deadline) {
			return fmt.Errorf("export %d: %w", n, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// PWMChannel is one channel of a /sys/class/pwm chip. Duty values are in
// units of maxDuty per period, the resolution the drivers compute in.
type PWMChannel struct {
	dir      string
	periodNS uint64
	maxDuty  uint32
}

// OpenPWMChannel exports channel on chip (e.g. /sys/class/pwm/pwmchip0),
// sets its period from frequencyHz and enables it.
func OpenPWMChannel(chip string, channel int, frequencyHz, maxDuty uint32) (*PWMChannel, error) {
	if frequencyHz == 0 || maxDuty == 0 {
		return nil, errors.New("pwm frequency and max duty must be non-zero")
	}
	dir := filepath.Join(chip, fmt.Sprintf("pwm%d", channel))
	if err := export(filepath.Join(chip, "export"), dir, channel); err != nil {
		return nil, err
	}

	p := &PWMChannel{
		dir:      dir,
		periodNS: uint64(time.Second) / uint64(frequencyHz),
		maxDuty:  maxDuty,
	}
	// duty must not exceed the period while the period is being shortened
	if err := writeAttr(filepath.Join(dir, "duty_cycle"), "0"); err != nil {
		return nil, err
	}
	if err := writeAttr(filepath.Join(dir, "period"), strconv.FormatUint(p.periodNS, 10)); err != nil {
		return nil, err
	}
	if err := writeAttr(filepath.Join(dir, "enable"), "1"); err != nil {
		return nil, err
	}
	return p, nil
}

// DutyNS converts a duty value to nanoseconds of high time.
func (p *PWMChannel) DutyNS(duty uint32) uint64 {
	if duty > p.maxDuty {
		duty = p.maxDuty
	}
	return p.periodNS * uint64(duty) / uint64(p.maxDuty)
}

func (p *PWMChannel) SetDuty(duty uint32) error {
	return writeAttr(filepath.Join(p.dir, "duty_cycle"), strconv.FormatUint(p.DutyNS(duty), 10))
}

// Close drives the output low and disables it.
func (p *PWMChannel) Close() error {
	return errors.Join(
		writeAttr(filepath.Join(p.dir, "duty_cycle"), "0"),
		writeAttr(filepath.Join(p.dir, "enable"), "0"),
	)
}

// GPIOLine is an output line under /sys/class/gpio.
type GPIOLine struct {
	value string
}

// OpenGPIOOutput exports line under root (normally /sys/class/gpio) as an
// output driven low.
func OpenGPIOOutput(root string, line int) (*GPIOLine, error) {
	dir := filepath.Join(root, fmt.Sprintf("gpio%d", line))
	if err := export(filepath.Join(root, "export"), dir, line); err != nil {
		return nil, err
	}
	// "low" sets direction and initial level in one write
	if err := writeAttr(filepath.Join(dir, "direction"), "low"); err != nil {
		return nil, err
	}
	return &GPIOLine{value: filepath.Join(dir, "value")}, nil
}

func (g *GPIOLine) Set(high bool) error {
	v := "0"
	if high {
		v = "1"
	}
	return writeAttr(g.value, v)
}

func (g *GPIOLine) Close() error {
	return g.Set(false)
}
