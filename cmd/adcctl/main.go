// cmd/adcctl/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"adc-service/internal/config"
	internalDriver "adc-service/internal/driver"
	"adc-service/internal/driver/adc"
	"adc-service/internal/service"
	"adc-service/internal/sink"
	"adc-service/internal/utils"
	"adc-service/pkg/driver"
)

const usage = `usage: adcctl [global flags] <command> [command flags]

commands:
  info      read the identity block
  lan       read the LAN configuration
  set-lan   write the LAN configuration
  mode      set channel count and IEPE excitation
  record    capture frames to a file
  stop      send ADC_OFF and drain the stream
  reboot    restart the instrument

global flags:
`

type globalOptions struct {
	configPath string
	deviceID   string
	host       string
	port       int
	serialPort string
	baudRate   int
	timeout    time.Duration
	verbose    bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var opts globalOptions
	fs := flag.NewFlagSet("adcctl", flag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.StringVarP(&opts.configPath, "config", "c", "", "configuration file")
	fs.StringVarP(&opts.deviceID, "device", "d", "", "configured device id")
	fs.StringVar(&opts.host, "host", "", "instrument address (TCP)")
	fs.IntVar(&opts.port, "port", 0, "instrument port (TCP)")
	fs.StringVar(&opts.serialPort, "serial", "", "serial port, e.g. /dev/ttyUSB0")
	fs.IntVar(&opts.baudRate, "baud", 0, "serial baud rate")
	fs.DurationVar(&opts.timeout, "timeout", 15*time.Second, "command timeout")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "adcctl: %v\n", err)
		return 1
	}

	cfg.Logging.Output = "stderr"
	cfg.Logging.Format = "console"
	cfg.Logging.Level = "warn"
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}
	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "adcctl: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, cfg, opts, fs.Arg(0), fs.Args()[1:], logger); err != nil {
		var usageErr usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(os.Stderr, "adcctl: %v\n", err)
			return 2
		}
		fmt.Fprintf(os.Stderr, "adcctl: %s: %v [%s]\n", fs.Arg(0), err, service.ErrorCode(err))
		return 1
	}
	return 0
}

type usageError string

func (e usageError) Error() string { return string(e) }

func dispatch(ctx context.Context, cfg *config.Config, opts globalOptions, command string, args []string, logger *zap.Logger) error {
	switch command {
	case "info":
		return withClient(ctx, cfg, opts, logger, true, func(ctx context.Context, c *adc.Client) error {
			info, err := c.GetInfo(ctx)
			if err != nil {
				return err
			}
			return printJSON(info)
		})
	case "lan":
		return withClient(ctx, cfg, opts, logger, true, func(ctx context.Context, c *adc.Client) error {
			lan, err := c.GetLANConfig(ctx)
			if err != nil {
				return err
			}
			return printJSON(lan)
		})
	case "set-lan":
		return setLAN(ctx, cfg, opts, args, logger)
	case "mode":
		return setMode(ctx, cfg, opts, args, logger)
	case "record":
		return record(ctx, cfg, opts, args, logger)
	case "stop":
		return withClient(ctx, cfg, opts, logger, true, func(ctx context.Context, c *adc.Client) error {
			return c.StopAcquisition(ctx)
		})
	case "reboot":
		return withClient(ctx, cfg, opts, logger, true, func(ctx context.Context, c *adc.Client) error {
			if err := c.Reboot(ctx); err != nil {
				return err
			}
			fmt.Println("reboot acknowledged")
			return nil
		})
	default:
		return usageError(fmt.Sprintf("unknown command %q", command))
	}
}

func setLAN(ctx context.Context, cfg *config.Config, opts globalOptions, args []string, logger *zap.Logger) error {
	var lan driver.LANConfig
	fs := flag.NewFlagSet("set-lan", flag.ContinueOnError)
	fs.StringVar(&lan.IP, "ip", "", "instrument address")
	fs.StringVar(&lan.Netmask, "netmask", "255.255.255.0", "subnet mask")
	fs.StringVar(&lan.Gateway, "gateway", "", "default gateway")
	fs.IntVar(&lan.Port, "lan-port", 0, "listening port, 0 keeps the default")
	fs.BoolVar(&lan.DHCP, "dhcp", false, "enable DHCP")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if lan.IP == "" || lan.Gateway == "" {
		return usageError("set-lan requires --ip and --gateway")
	}

	return withClient(ctx, cfg, opts, logger, true, func(ctx context.Context, c *adc.Client) error {
		if err := c.SetLANConfig(ctx, lan); err != nil {
			return err
		}
		fmt.Println("LAN configuration written; it takes effect after reboot")
		return nil
	})
}

func setMode(ctx context.Context, cfg *config.Config, opts globalOptions, args []string, logger *zap.Logger) error {
	var mode driver.ModeConfig
	fs := flag.NewFlagSet("mode", flag.ContinueOnError)
	fs.IntVar(&mode.Channels, "channels", 0, "active channel count")
	fs.Uint8Var(&mode.IEPEFlags, "iepe", 0, "IEPE bitmask, bit n enables channel n")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}

	return withClient(ctx, cfg, opts, logger, true, func(ctx context.Context, c *adc.Client) error {
		return c.SetMode(ctx, mode)
	})
}

func record(ctx context.Context, cfg *config.Config, opts globalOptions, args []string, logger *zap.Logger) error {
	var (
		req        driver.AcquisitionRequest
		duration   time.Duration
		sampleRate int
		outDir     string
		name       string
	)
	fs := flag.NewFlagSet("record", flag.ContinueOnError)
	fs.IntVarP(&req.Frames, "frames", "n", 0, "frames to capture")
	fs.DurationVar(&duration, "duration", 0, "capture length, converted to frames")
	fs.IntVar(&req.Channels, "channels", 1, "active channel count")
	fs.IntVar(&sampleRate, "sample-rate", 0, "samples per second per channel, queried when zero")
	fs.DurationVar(&req.Deadline, "deadline", 0, "abort when the capture takes longer")
	fs.StringVarP(&outDir, "out", "o", cfg.Acquisition.OutputDir, "output directory")
	fs.StringVar(&name, "name", "", "capture file name without extension")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if (req.Frames > 0) == (duration > 0) {
		return usageError("record requires exactly one of --frames or --duration")
	}
	if name == "" {
		name = uuid.NewString()
	}

	fullScale, err := cfg.FullScaleVolts()
	if err != nil {
		return err
	}

	// The capture is bounded by its own deadline, not the command timeout.
	return withClient(ctx, cfg, opts, logger, false, func(ctx context.Context, c *adc.Client) error {
		if duration > 0 {
			if sampleRate == 0 {
				info, err := c.GetInfo(ctx)
				if err != nil {
					return err
				}
				sampleRate = info.SampleRate
			}
			if req.Frames, err = adc.FramesForDuration(duration, sampleRate, req.Channels); err != nil {
				return err
			}
		}

		file, err := sink.NewFileSink(outDir, name, logger)
		if err != nil {
			return err
		}
		summary, err := sink.NewSummarySink(req.Channels, fullScale)
		if err != nil {
			file.Abort(err)
			return err
		}

		result, err := c.StartAcquisition(ctx, req, sink.Multi{file, summary})
		if result == nil {
			file.Abort(err)
			return err
		}

		fmt.Printf("captured %d frames (seq %d..%d) to %s in %s\n",
			result.Frames, result.FirstSequence, result.LastSequence, file.Path(),
			result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
		for _, ch := range summary.Channels() {
			fmt.Printf("  ch%d  min %s V  max %s V  peak %s V\n",
				ch.Channel, ch.MinVolts.StringFixed(6), ch.MaxVolts.StringFixed(6), ch.PeakVolts.StringFixed(6))
		}
		return err
	})
}

// withClient connects to the selected instrument, runs fn and disconnects.
// bounded applies the command timeout to fn.
func withClient(ctx context.Context, cfg *config.Config, opts globalOptions, logger *zap.Logger, bounded bool, fn func(context.Context, *adc.Client) error) error {
	device, err := resolveDevice(cfg, opts)
	if err != nil {
		return err
	}

	clientCfg, err := internalDriver.ClientConfig(internalDriver.DeviceFromEntry(device), &cfg.Device)
	if err != nil {
		return err
	}
	client, err := adc.NewClient(clientCfg, logger)
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	err = client.Connect(connectCtx)
	cancel()
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	if bounded {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}
	return fn(ctx, client)
}

// resolveDevice picks a configured instrument or builds one from flags
func resolveDevice(cfg *config.Config, opts globalOptions) (config.DeviceEntry, error) {
	if opts.deviceID != "" {
		entry, ok := cfg.FindDevice(opts.deviceID)
		if !ok {
			return config.DeviceEntry{}, usageError(fmt.Sprintf("device %q is not configured", opts.deviceID))
		}
		return entry, nil
	}

	switch {
	case opts.serialPort != "":
		return config.DeviceEntry{
			ID:         "adcctl",
			Model:      "ADC",
			Transport:  "serial",
			SerialPort: opts.serialPort,
			BaudRate:   opts.baudRate,
		}, nil
	case opts.host != "":
		port := opts.port
		if port == 0 {
			port = cfg.Device.DefaultPort
		}
		return config.DeviceEntry{
			ID:        "adcctl",
			Model:     "ADC",
			Transport: "tcp",
			Host:      opts.host,
			Port:      port,
		}, nil
	case len(cfg.Device.Devices) == 1:
		return cfg.Device.Devices[0], nil
	default:
		return config.DeviceEntry{}, usageError("select an instrument with --device, --host or --serial")
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
