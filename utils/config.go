package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Driver types accepted by driver.type.
const (
	DriverLog        = "log"
	DriverPWMCar     = "pwm-car"
	DriverPWMTruck   = "pwm-truck"
	DriverStringTank = "string-tank"
	DriverDrone      = "drone"
	DriverCAN        = "can"
)

type ServerConfig struct {
	BindAddress   string        `mapstructure:"bind_address"`
	SocketTimeout time.Duration `mapstructure:"socket_timeout"`
}

type ClientConfig struct {
	SendAddress   string        `mapstructure:"send_address"`
	SocketTimeout time.Duration `mapstructure:"socket_timeout"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
}

// LimitsConfig is the starting envelope and trim of the vehicle core.
type LimitsConfig struct {
	ThrottleMin    float64       `mapstructure:"throttle_min"`
	ThrottleMax    float64       `mapstructure:"throttle_max"`
	SteeringOffset float64       `mapstructure:"steering_offset"`
	EnvelopeStep   float64       `mapstructure:"envelope_step"`
	TrimStep       float64       `mapstructure:"trim_step"`
	Watchdog       time.Duration `mapstructure:"watchdog"`
}

// PWMChannelConfig addresses one sysfs PWM channel.
type PWMChannelConfig struct {
	Chip    string `mapstructure:"chip"`
	Channel int    `mapstructure:"channel"`
	Invert  bool   `mapstructure:"invert"`
}

type PWMConfig struct {
	FrequencyHz uint32           `mapstructure:"frequency_hz"`
	MaxDuty     uint32           `mapstructure:"max_duty"`
	Throttle    PWMChannelConfig `mapstructure:"throttle"`
	Steering    PWMChannelConfig `mapstructure:"steering"`
	Tray        PWMChannelConfig `mapstructure:"tray"`

	// GPIO line numbers for the H-bridge enables (truck only)
	ThrottleForwardGPIO int `mapstructure:"throttle_forward_gpio"`
	ThrottleReverseGPIO int `mapstructure:"throttle_reverse_gpio"`
	TrayForwardGPIO     int `mapstructure:"tray_forward_gpio"`
	TrayReverseGPIO     int `mapstructure:"tray_reverse_gpio"`
}

type TankConfig struct {
	Port       string  `mapstructure:"port"`
	BaudRate   int     `mapstructure:"baud_rate"`
	Swap       bool    `mapstructure:"swap"`
	LeftScale  float64 `mapstructure:"left_scale"`
	RightScale float64 `mapstructure:"right_scale"`
	Precision  int     `mapstructure:"precision"`
}

type DroneConfig struct {
	Address   string `mapstructure:"address"`
	LocalPort int    `mapstructure:"local_port"`
}

type CANConfig struct {
	Interface string `mapstructure:"interface"`
	MapPath   string `mapstructure:"map_path"`
	FrameName string `mapstructure:"frame_name"`
}

type DriverConfig struct {
	Type  string      `mapstructure:"type"`
	PWM   PWMConfig   `mapstructure:"pwm"`
	Tank  TankConfig  `mapstructure:"tank"`
	Drone DroneConfig `mapstructure:"drone"`
	CAN   CANConfig   `mapstructure:"can"`
}

// PublishConfig controls the MQTT applied-command publisher.
type PublishConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
	QoS      byte   `mapstructure:"qos"`
}

type VehicleConfig struct {
	Log     LogConfig     `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Driver  DriverConfig  `mapstructure:"driver"`
	Publish PublishConfig `mapstructure:"publish"`
}

type OperatorConfig struct {
	Log          LogConfig    `mapstructure:"log"`
	Client       ClientConfig `mapstructure:"client"`
	ScenarioPath string       `mapstructure:"scenario"`
	RateHz       float64      `mapstructure:"rate_hz"`
}

func setLogDefaults(v *viper.Viper, file string) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file_path", file)
	v.SetDefault("log.also_stdout", true)
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 3)
}

func setVehicleDefaults(v *viper.Viper) {
	setLogDefaults(v, "rc_vehicle.log")

	v.SetDefault("server.bind_address", "0.0.0.0:13337")
	v.SetDefault("server.socket_timeout", "50ms")

	v.SetDefault("limits.throttle_min", -1.0)
	v.SetDefault("limits.throttle_max", 1.0)
	v.SetDefault("limits.steering_offset", 0.0)
	v.SetDefault("limits.envelope_step", 0.10)
	v.SetDefault("limits.trim_step", 0.01)
	v.SetDefault("limits.watchdog", "200ms")

	v.SetDefault("driver.type", DriverLog)

	v.SetDefault("driver.pwm.frequency_hz", 50)
	v.SetDefault("driver.pwm.max_duty", 65535)
	v.SetDefault("driver.pwm.throttle.chip", "/sys/class/pwm/pwmchip0")
	v.SetDefault("driver.pwm.throttle.channel", 0)
	v.SetDefault("driver.pwm.throttle.invert", false)
	v.SetDefault("driver.pwm.steering.chip", "/sys/class/pwm/pwmchip0")
	v.SetDefault("driver.pwm.steering.channel", 1)
	v.SetDefault("driver.pwm.steering.invert", false)
	v.SetDefault("driver.pwm.tray.chip", "/sys/class/pwm/pwmchip0")
	v.SetDefault("driver.pwm.tray.channel", 2)
	v.SetDefault("driver.pwm.tray.invert", false)
	v.SetDefault("driver.pwm.throttle_forward_gpio", 17)
	v.SetDefault("driver.pwm.throttle_reverse_gpio", 16)
	v.SetDefault("driver.pwm.tray_forward_gpio", 26)
	v.SetDefault("driver.pwm.tray_reverse_gpio", 27)

	v.SetDefault("driver.tank.port", "/dev/ttyAMA0")
	v.SetDefault("driver.tank.baud_rate", 115200)
	v.SetDefault("driver.tank.swap", false)
	v.SetDefault("driver.tank.left_scale", 1.0)
	v.SetDefault("driver.tank.right_scale", 1.0)
	v.SetDefault("driver.tank.precision", 20)

	v.SetDefault("driver.drone.address", "192.168.10.1:8889")
	v.SetDefault("driver.drone.local_port", 8889)

	v.SetDefault("driver.can.interface", "can0")
	v.SetDefault("driver.can.map_path", "config/can/rc_map.csv")
	v.SetDefault("driver.can.frame_name", "RC_ACTUATOR_CMD")

	v.SetDefault("publish.enabled", false)
	v.SetDefault("publish.broker", "tcp://localhost:1883")
	v.SetDefault("publish.topic", "rc/vehicle/applied")
	v.SetDefault("publish.client_id", "rc-vehicle")
	v.SetDefault("publish.qos", 0)
}

func setOperatorDefaults(v *viper.Viper) {
	setLogDefaults(v, "rc_operator.log")

	v.SetDefault("client.send_address", "127.0.0.1:13337")
	v.SetDefault("client.socket_timeout", "50ms")
	v.SetDefault("client.queue_timeout", "1s")
	v.SetDefault("scenario", "rc_operator/scenarios/figure_eight.json")
	v.SetDefault("rate_hz", 20.0)
}

// VehicleFlags registers the rc_vehicle command line on fs.
func VehicleFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Config file (json, yaml or toml)")
	fs.String("bind", "", "UDP bind address host:port")
	fs.String("driver", "", "Output driver: log|pwm-car|pwm-truck|string-tank|drone|can")
	fs.String("log", "", "trace|debug|info|warn|error|critical")
	fs.String("log-file", "", "Log file path")
}

// OperatorFlags registers the rc_operator command line on fs.
func OperatorFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Config file (json, yaml or toml)")
	fs.String("dest", "", "Vehicle address host:port")
	fs.String("scenario", "", "Scenario JSON file")
	fs.String("log", "", "trace|debug|info|warn|error|critical")
	fs.String("log-file", "", "Log file path")
}

// newViper layers defaults < config file < RC_* environment < flags.
func newViper(fs *pflag.FlagSet, defaults func(*viper.Viper), bind map[string]string) (*viper.Viper, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("RC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, flag := range bind {
		if f := fs.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return v, nil
}

// LoadVehicleConfig resolves the vehicle configuration from fs, which must
// already be parsed.
func LoadVehicleConfig(fs *pflag.FlagSet) (VehicleConfig, error) {
	v, err := newViper(fs, setVehicleDefaults, map[string]string{
		"server.bind_address": "bind",
		"driver.type":         "driver",
		"log.level":           "log",
		"log.file_path":       "log-file",
	})
	if err != nil {
		return VehicleConfig{}, err
	}

	var cfg VehicleConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return VehicleConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadOperatorConfig resolves the operator configuration from fs, which must
// already be parsed.
func LoadOperatorConfig(fs *pflag.FlagSet) (OperatorConfig, error) {
	v, err := newViper(fs, setOperatorDefaults, map[string]string{
		"client.send_address": "dest",
		"scenario":            "scenario",
		"log.level":           "log",
		"log.file_path":       "log-file",
	})
	if err != nil {
		return OperatorConfig{}, err
	}

	var cfg OperatorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return OperatorConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the vehicle core cannot run with.
func (c VehicleConfig) Validate() error {
	var errs []error

	if c.Server.BindAddress == "" {
		errs = append(errs, errors.New("server.bind_address is empty"))
	}
	if c.Server.SocketTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.socket_timeout must be positive, got %s", c.Server.SocketTimeout))
	}

	l := c.Limits
	if l.ThrottleMax < 0 || l.ThrottleMax > 1 {
		errs = append(errs, fmt.Errorf("limits.throttle_max %.2f outside [0, 1]", l.ThrottleMax))
	}
	if l.ThrottleMin < -1 || l.ThrottleMin > 0 {
		errs = append(errs, fmt.Errorf("limits.throttle_min %.2f outside [-1, 0]", l.ThrottleMin))
	}
	if l.SteeringOffset < -1 || l.SteeringOffset > 1 {
		errs = append(errs, fmt.Errorf("limits.steering_offset %.2f outside [-1, 1]", l.SteeringOffset))
	}
	if l.Watchdog <= 0 {
		errs = append(errs, fmt.Errorf("limits.watchdog must be positive, got %s", l.Watchdog))
	}

	switch c.Driver.Type {
	case DriverLog, DriverStringTank, DriverDrone, DriverCAN:
	case DriverPWMCar, DriverPWMTruck:
		if c.Driver.PWM.FrequencyHz == 0 || c.Driver.PWM.MaxDuty == 0 {
			errs = append(errs, errors.New("driver.pwm.frequency_hz and driver.pwm.max_duty must be non-zero"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown driver.type %q", c.Driver.Type))
	}

	if c.Publish.Enabled && (c.Publish.Broker == "" || c.Publish.Topic == "") {
		errs = append(errs, errors.New("publish.broker and publish.topic are required when publish.enabled"))
	}
	if c.Publish.QoS > 2 {
		errs = append(errs, fmt.Errorf("publish.qos %d outside 0..2", c.Publish.QoS))
	}

	return errors.Join(errs...)
}

// Validate rejects settings the operator client cannot run with.
func (c OperatorConfig) Validate() error {
	var errs []error
	if c.Client.SendAddress == "" {
		errs = append(errs, errors.New("client.send_address is empty"))
	}
	if c.Client.SocketTimeout <= 0 || c.Client.QueueTimeout <= 0 {
		errs = append(errs, errors.New("client timeouts must be positive"))
	}
	if c.RateHz <= 0 {
		errs = append(errs, fmt.Errorf("rate_hz must be positive, got %.2f", c.RateHz))
	}
	return errors.Join(errs...)
}
