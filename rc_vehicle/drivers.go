package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"rc-vehicle-core/hw"
	"rc-vehicle-core/output"
	"rc-vehicle-core/utils"
)

const gpioRoot = "/sys/class/gpio"

// closers releases hardware handles in reverse order of opening.
type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		errs = append(errs, c[i].Close())
	}
	return errors.Join(errs...)
}

// buildDriver opens the hardware named by cfg.Driver.Type and wraps it in
// the matching output driver, decorated with the MQTT publisher when
// enabled.
func buildDriver(ctx context.Context, cfg utils.VehicleConfig, log zerolog.Logger, metrics *utils.Metrics) (output.Driver, io.Closer, error) {
	var cl closers
	fail := func(err error) (output.Driver, io.Closer, error) {
		_ = cl.Close()
		return nil, nil, err
	}

	dc := cfg.Driver
	var driver output.Driver
	switch dc.Type {
	case utils.DriverLog:
		driver = output.NewLog(log)

	case utils.DriverPWMCar:
		throttle, err := openPWM(dc.PWM, dc.PWM.Throttle, &cl)
		if err != nil {
			return fail(fmt.Errorf("throttle pwm: %w", err))
		}
		steering, err := openPWM(dc.PWM, dc.PWM.Steering, &cl)
		if err != nil {
			return fail(fmt.Errorf("steering pwm: %w", err))
		}
		car, err := output.NewPWMCar(output.PWMCarConfig{
			FrequencyHz:    dc.PWM.FrequencyHz,
			MaxDuty:        dc.PWM.MaxDuty,
			ThrottleInvert: dc.PWM.Throttle.Invert,
			SteeringInvert: dc.PWM.Steering.Invert,
		}, throttle, steering, log)
		if err != nil {
			return fail(err)
		}
		driver = car

	case utils.DriverPWMTruck:
		truck, err := buildTruck(dc.PWM, &cl, log)
		if err != nil {
			return fail(err)
		}
		driver = truck

	case utils.DriverStringTank:
		port, err := hw.OpenSerial(dc.Tank.Port, dc.Tank.BaudRate)
		if err != nil {
			return fail(err)
		}
		cl = append(cl, port)
		driver = output.NewStringTank(output.StringTankConfig{
			Swap:       dc.Tank.Swap,
			LeftScale:  float32(dc.Tank.LeftScale),
			RightScale: float32(dc.Tank.RightScale),
			Precision:  dc.Tank.Precision,
		}, port, log)

	case utils.DriverDrone:
		session, err := hw.DialTello(ctx, hw.TelloConfig{
			Address:   dc.Drone.Address,
			LocalPort: dc.Drone.LocalPort,
		}, log)
		if err != nil {
			return fail(err)
		}
		cl = append(cl, session)
		driver = output.NewDrone(session, log)

	case utils.DriverCAN:
		canMap, err := utils.LoadCANMap(dc.CAN.MapPath)
		if err != nil {
			return fail(fmt.Errorf("load can map: %w", err))
		}
		w, err := utils.NewSocketCANWriter(ctx, dc.CAN.Interface)
		if err != nil {
			return fail(err)
		}
		cl = append(cl, w)
		log.Info().Str("interface", w.Interface()).Msg("SocketCAN open")
		act, err := output.NewCANActuator(canMap, dc.CAN.FrameName, w, log)
		if err != nil {
			return fail(err)
		}
		driver = act

	default:
		return fail(fmt.Errorf("unknown driver type %q", dc.Type))
	}

	if cfg.Publish.Enabled {
		pub, err := output.NewMQTTPublisher(output.MQTTConfig{
			Broker:   cfg.Publish.Broker,
			ClientID: cfg.Publish.ClientID,
			QoS:      cfg.Publish.QoS,
		}, log)
		if err != nil {
			return fail(err)
		}
		cl = append(cl, pub)
		driver = output.NewPublishing(driver, pub, cfg.Publish.Topic, log, metrics)
	}

	log.Info().Str("driver", dc.Type).Bool("publish", cfg.Publish.Enabled).Msg("Output driver ready")
	return driver, cl, nil
}

func openPWM(pc utils.PWMConfig, ch utils.PWMChannelConfig, cl *closers) (*hw.PWMChannel, error) {
	p, err := hw.OpenPWMChannel(ch.Chip, ch.Channel, pc.FrequencyHz, pc.MaxDuty)
	if err != nil {
		return nil, err
	}
	*cl = append(*cl, p)
	return p, nil
}

func openGPIO(line int, cl *closers) (*hw.GPIOLine, error) {
	g, err := hw.OpenGPIOOutput(gpioRoot, line)
	if err != nil {
		return nil, fmt.Errorf("gpio %d: %w", line, err)
	}
	*cl = append(*cl, g)
	return g, nil
}

func buildTruck(pc utils.PWMConfig, cl *closers, log zerolog.Logger) (*output.PWMTruck, error) {
	bridge := func(ch utils.PWMChannelConfig, fwd, rev int) (output.HBridge, error) {
		duty, err := openPWM(pc, ch, cl)
		if err != nil {
			return output.HBridge{}, err
		}
		f, err := openGPIO(fwd, cl)
		if err != nil {
			return output.HBridge{}, err
		}
		r, err := openGPIO(rev, cl)
		if err != nil {
			return output.HBridge{}, err
		}
		return output.HBridge{Duty: duty, Forward: f, Reverse: r, MaxDuty: pc.MaxDuty}, nil
	}

	drive, err := bridge(pc.Throttle, pc.ThrottleForwardGPIO, pc.ThrottleReverseGPIO)
	if err != nil {
		return nil, fmt.Errorf("drive: %w", err)
	}
	tray, err := bridge(pc.Tray, pc.TrayForwardGPIO, pc.TrayReverseGPIO)
	if err != nil {
		return nil, fmt.Errorf("tray: %w", err)
	}
	steering, err := openPWM(pc, pc.Steering, cl)
	if err != nil {
		return nil, fmt.Errorf("steering: %w", err)
	}
	axis, err := output.NewPWMAxis(pc.FrequencyHz, pc.MaxDuty, pc.Steering.Invert)
	if err != nil {
		return nil, err
	}
	return output.NewPWMTruck(drive, steering, axis, tray, log)
}
