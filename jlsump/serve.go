package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/itohio/jlsump/pkg/config"
	"github.com/itohio/jlsump/pkg/metrics"
	"github.com/itohio/jlsump/pkg/source"
	"github.com/itohio/jlsump/pkg/sump"
	"github.com/itohio/jlsump/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	tcpFlag      string
	maxConnsFlag int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a simulated capture engine",
	Long: `serve runs the capture engine on the simulated breadboard and speaks the
SUMP protocol on a serial port, or on TCP with --tcp. Each TCP connection
gets its own session.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := setupLogger(cfg.Log)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		obs, err := metrics.New(reg, log.WithField("component", "session"))
		if err != nil {
			return err
		}
		if cfg.Metrics.Listen != "" {
			go serveMetrics(ctx, cfg.Metrics, reg, log)
		}

		srv := &server{cfg: cfg, obs: obs, log: log}
		if tcpFlag != "" {
			return srv.listen(ctx, tcpFlag, maxConnsFlag)
		}
		return srv.serial(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&tcpFlag, "tcp", "", "listen on a TCP address instead of the serial port")
	serveCmd.Flags().IntVar(&maxConnsFlag, "max-conns", 4, "maximum concurrent TCP sessions")
}

type server struct {
	cfg *config.Config
	obs sump.Observer
	log *logrus.Logger
}

// session creates a protocol session on a fresh simulated breadboard.
func (s *server) session() (*sump.Session, error) {
	return sump.New(source.NewMock(s.cfg.MockOptions()), source.NewTicker(), s.cfg.SessionOptions(s.obs))
}

func (s *server) serial(ctx context.Context) error {
	port, err := transport.Open(transport.Config{
		Name:        s.cfg.Serial.Port,
		BaudRate:    s.cfg.Serial.BaudRate,
		ReadTimeout: s.cfg.Serial.ReadTimeout,
	})
	if err != nil {
		return err
	}

	defer port.Close()

	session, err := s.session()
	if err != nil {
		return err
	}
	s.log.WithField("port", s.cfg.Serial.Port).Info("Serving capture engine")

	err = session.Serve(ctx, port)
	if errors.Is(err, context.Canceled) {
		s.log.Info("Shutting down")
		return nil
	}
	return err
}

func (s *server) listen(ctx context.Context, addr string, maxConns int) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	context.AfterFunc(ctx, func() { listener.Close() })
	s.log.WithFields(logrus.Fields{
		"addr":      listener.Addr().String(),
		"max_conns": maxConns,
	}).Info("Serving capture engine")

	if maxConns <= 0 {
		maxConns = 1
	}
	limiter := make(chan struct{}, maxConns)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info("Shutting down")
				return nil
			}
			s.log.WithError(err).Error("Accept failed")
			continue
		}

		select {
		case limiter <- struct{}{}:
		default:
			s.log.WithField("remote", conn.RemoteAddr().String()).Warn("Connection limit reached")
			conn.Close()
			continue
		}

		wg.Add(1)
		go func() {
			defer func() {
				<-limiter
				wg.Done()
			}()
			s.handle(ctx, conn)
		}()
	}
}

func (s *server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	log := s.log.WithField("remote", conn.RemoteAddr().String())
	session, err := s.session()
	if err != nil {
		log.WithError(err).Error("Session setup failed")
		return
	}

	log.Info("Host connected")
	if err := session.Serve(ctx, conn); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Warn("Session ended")
		return
	}
	log.Info("Host disconnected")
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig, g prometheus.Gatherer, log logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, metrics.Handler(g))
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	context.AfterFunc(ctx, func() { srv.Close() })

	log.WithField("addr", cfg.Listen+cfg.Path).Info("Metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("Metrics endpoint failed")
	}
}
