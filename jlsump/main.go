package main

import (
	"fmt"
	"os"

	"github.com/itohio/jlsump/pkg/config"
	"github.com/itohio/jlsump/pkg/device"
	"github.com/itohio/jlsump/pkg/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

var (
	configFile string
	portFlag   string
	mockFlag   bool
	levelFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "jlsump",
	Short: "Mixed-signal logic analyzer for the Jumperless breadboard",
	Long: `jlsump talks the SUMP/OLS protocol to the breadboard's capture engine.

Commands:
  serve    run a simulated capture engine on a serial port
  capture  capture samples and write CSV or a summary
  id       query the device identity and status
  ports    list serial ports`,
	Version:       fmt.Sprintf("%s (build %s)", Version, BuildTime),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "jlsump.yaml", "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&portFlag, "port", "p", "", "serial port override (e.g. COM3 or /dev/ttyACM0)")
	rootCmd.PersistentFlags().BoolVar(&mockFlag, "mock", false, "use the simulated device instead of a serial port")
	rootCmd.PersistentFlags().StringVar(&levelFlag, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, captureCmd, idCmd, portsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if portFlag != "" {
		cfg.Serial.Port = portFlag
	}
	if levelFlag != "" {
		cfg.Log.Level = levelFlag
	}
	return cfg, nil
}

func setupLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	return log
}

// openDevice creates and connects the host-side device.
func openDevice(cfg *config.Config, log logrus.FieldLogger) (device.Device, error) {
	var dev device.Device
	if mockFlag {
		dev = device.NewMock(cfg, nil, log)
	} else {
		dev = device.New(transport.Config{
			Name:        cfg.Serial.Port,
			BaudRate:    cfg.Serial.BaudRate,
			ReadTimeout: cfg.Serial.ReadTimeout,
		}, cfg.Session.BaseClock, log)
	}
	if err := dev.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return dev, nil
}
