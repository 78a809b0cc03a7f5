package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/nut-monitor/internal/config"
	"github.com/sweeney/nut-monitor/internal/exporter"
	"github.com/sweeney/nut-monitor/internal/monitor"
	"github.com/sweeney/nut-monitor/internal/nut"
	"github.com/sweeney/nut-monitor/internal/publisher"
)

const (
	minBackoff = time.Second
	maxBackoff = 60 * time.Second
)

func main() {
	configPath := flag.String("config", "/etc/nut-monitor/config.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath, "./config.toml")
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	log.Printf("nut-monitor starting (upsd: %s:%d, interval: %s, mqtt: %v, metrics: %q)",
		cfg.NUT.Host, cfg.NUT.Port, cfg.NUT.PollInterval, cfg.MQTT.Enabled, cfg.Metrics.Listen)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	s := &sink{
		exp:    exporter.New(),
		pubCfg: publisher.PublishConfig{Prefix: cfg.MQTT.TopicPrefix, Retained: cfg.MQTT.Retained},
	}

	// Connect to the broker first so the LWT is registered before we talk to upsd.
	if cfg.MQTT.Enabled {
		pub, err := publisher.NewMQTTPublisher(cfg.MQTT)
		if err != nil {
			log.Fatalf("connecting to MQTT broker: %v", err)
		}
		defer pub.Close() //nolint:errcheck
		s.pub = pub
		if err := publisher.PublishOnline(true, s.pubCfg, pub); err != nil {
			log.Printf("publishing online announcement: %v", err)
		}
	}

	ctrl := monitor.NewController(monitor.NutDialer(cfg.NUT.Options()), cfg.NUT.PollInterval.Duration)

	if cfg.Metrics.Listen != "" {
		srv, err := startHTTP(cfg.Metrics.Listen, s.exp, ctrl)
		if err != nil {
			log.Fatalf("metrics listen: %v", err)
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
		log.Printf("serving metrics on %s/metrics", cfg.Metrics.Listen)
	}

	sup := &supervisor{ctrl: ctrl, params: cfg.NUT.Params(), sink: s, minBackoff: minBackoff, maxBackoff: maxBackoff}
	sup.run(ctx)

	log.Println("shutting down")
	if s.pub != nil {
		if err := publisher.PublishOnline(false, s.pubCfg, s.pub); err != nil {
			log.Printf("publishing offline announcement: %v", err)
		} else {
			log.Println("offline announcement sent")
		}
	}
	log.Println("exiting")
}

// sink fans one session event out to the log, the exporter and, when
// configured, the broker.
type sink struct {
	pub    publisher.Publisher // nil when MQTT is disabled
	pubCfg publisher.PublishConfig
	exp    *exporter.Exporter
}

// handle processes ev. The returned error is a publish failure; the session
// keeps running.
func (s *sink) handle(ev monitor.Event) error {
	switch ev.Kind {
	case monitor.EventDevices:
		names := make([]string, len(ev.Devices))
		for i, d := range ev.Devices {
			names[i] = d.Name
		}
		log.Printf("upsd reports %d device(s): %s", len(names), strings.Join(names, ", "))
	case monitor.EventSnapshot:
		s.exp.Update(ev.Snapshot)
		if s.pub != nil {
			if err := publisher.PublishSnapshot(ev.Snapshot, s.pubCfg, s.pub); err != nil {
				return fmt.Errorf("publishing: %w", err)
			}
		}
	case monitor.EventError:
		s.exp.MarkDown()
	}
	return nil
}

// supervisor keeps a session alive, reconnecting with exponential backoff
// after a failed connect or a session that stopped on error.
type supervisor struct {
	ctrl       *monitor.Controller
	params     nut.Params
	sink       *sink
	minBackoff time.Duration
	maxBackoff time.Duration
}

// run returns once ctx is cancelled and the live session has been torn down.
func (sv *supervisor) run(ctx context.Context) {
	backoff := sv.minBackoff
	for {
		session, err := sv.connect(ctx)
		if err == nil {
			log.Printf("connected to upsd at %s", net.JoinHostPort(sv.params.Host, fmt.Sprint(sv.params.Port)))
			backoff = sv.minBackoff
			err = sv.consume(ctx, session)
			sv.ctrl.Disconnect()
		}
		if ctx.Err() != nil {
			return
		}
		log.Printf("upsd session failed: %v (retrying in %s)", err, backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > sv.maxBackoff {
			backoff = sv.maxBackoff
		}
	}
}

func (sv *supervisor) connect(ctx context.Context) (*monitor.Session, error) {
	select {
	case r := <-sv.ctrl.Connect(ctx, sv.params):
		return r.Session, r.Err
	case <-ctx.Done():
		sv.ctrl.Disconnect()
		return nil, ctx.Err()
	}
}

// consume feeds session events to the sink until the stream ends or ctx
// is cancelled. It returns the session's terminal error.
func (sv *supervisor) consume(ctx context.Context, session *monitor.Session) error {
	for {
		select {
		case ev, ok := <-session.Events():
			if !ok {
				if err := session.Err(); err != nil {
					return err
				}
				return errors.New("session ended")
			}
			if err := sv.sink.handle(ev); err != nil {
				log.Printf("%v", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// startHTTP serves /metrics and /health on addr.
func startHTTP(addr string, exp *exporter.Exporter, ctrl *monitor.Controller) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	registry := exp.Registry()
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "nut_monitor_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler(registry))
	mux.HandleFunc("/health", healthHandler(ctrl))

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics serve: %v", err)
		}
	}()
	return srv, nil
}

// healthHandler reports 200 while a session is live and 503 otherwise.
func healthHandler(ctrl *monitor.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := ctrl.State()
		if state != monitor.Connected {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintln(w, state)
	}
}
