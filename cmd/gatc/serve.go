package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mastercactapus/gatc/atc"
	"github.com/mastercactapus/gatc/config"
	"github.com/mastercactapus/gatc/halt"
	"github.com/mastercactapus/gatc/machine"
	"github.com/mastercactapus/gatc/machine/grbl"
	"github.com/mastercactapus/gatc/pubdata"
	"github.com/mastercactapus/gatc/sensor"
	"github.com/mastercactapus/gatc/spjs"
	"github.com/mastercactapus/gatc/toolrack"
	"github.com/mastercactapus/gatc/toolstate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const (
	// sensorPeriod is the endstop and detector poll period.
	sensorPeriod = time.Millisecond

	tickPeriod = 10 * time.Millisecond
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the controller and serve the tool changer API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func pinLetter(s string, def byte) byte {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return def
	}
	return s[0]
}

func openStore(s config.Store) (toolstate.Store, error) {
	switch s.Driver {
	case "", "bolt":
		return toolstate.OpenBolt(s.Path)
	case "redis":
		return toolstate.NewRedis(s.Redis.Addr, s.Redis.Password, s.Redis.DB, toolstate.WithPrefix(s.Redis.Prefix)), nil
	case "memory":
		return new(toolstate.Memory), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", s.Driver)
}

func openAdapter(ctx context.Context, c config.Controller, log *slog.Logger) (machine.Adapter, func() error, error) {
	switch c.Transport {
	case "spjs":
		sp := spjs.NewSPJS(ctx, c.SPJSURL, log.With("component", "spjs"))
		return grbl.NewSPJSAdapter(sp, c.Port, c.Baud, log.With("component", "grbl")), func() error { return nil }, nil
	case "", "serial":
		rw, err := grbl.OpenSerial(c.Port, c.Baud)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", c.Port, err)
		}
		a := grbl.NewSerialAdapter(rw, c.StatusInterval, log.With("component", "grbl"))
		return a, a.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown controller transport %q", c.Transport)
}

func runServe(cmd *cobra.Command, args []string) error {
	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter, closeAdapter, err := openAdapter(ctx, cfg.Controller, log)
	if err != nil {
		return err
	}
	defer closeAdapter()

	h := new(halt.Signal)
	if f, ok := adapter.(interface{ OnFault(func(error)) }); ok {
		f.OnFault(func(err error) { h.Raise(grbl.HaltReason(err), err.Error()) })
	}
	m := machine.NewMachine(adapter, machine.Options{
		Log:       log.With("component", "machine"),
		Halt:      h,
		ProbePin:  pinLetter(cfg.Controller.ProbePin, 'P'),
		LaserMode: cfg.Controller.LaserMode,
		Switches:  cfg.Controller.Switches,
	})
	go m.Run(ctx)

	vars := machine.NewVariables()
	player := machine.NewPlayer(m, vars, cfg.Controller.Granularity, log.With("component", "player"))

	bus := pubdata.NewBus()
	m.RegisterBus(bus)
	player.RegisterBus(bus)

	store, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	offsets, err := toolstate.Open(ctx, store)
	if err != nil {
		store.Close()
		return fmt.Errorf("load tool state: %w", err)
	}
	defer offsets.Close()

	hc, dc := cfg.ATC.Homing, cfg.ATC.Detector
	sensors := sensor.NewDebouncer(
		sensor.NewInput(m.PinReader(pinLetter(hc.EndstopPin, 'A'), hc.EndstopHigh),
			sensor.Threshold(time.Duration(hc.DebounceMS)*time.Millisecond, sensorPeriod)),
		sensor.NewInput(m.PinReader(pinLetter(dc.Pin, 'B'), true),
			sensor.Threshold(time.Duration(dc.DebounceMS)*time.Millisecond, sensorPeriod)),
		m,
	)
	go sensors.Run(ctx, sensorPeriod)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	o := atc.New(toolrack.New(cfg), atc.Deps{
		Motion:    m,
		Pipeline:  m,
		Bus:       bus,
		Halt:      h,
		Offsets:   offsets,
		Sensors:   sensors,
		Variables: vars,
		Mesh:      player,
		Metrics:   atc.NewMetrics(reg),
		Log:       log.With("component", "atc"),
	})
	o.RegisterBus(bus)
	player.SetHook(o.PlayerHook)

	runErr := make(chan error, 2)
	go func() { runErr <- o.Run(ctx, tickPeriod) }()

	if path != "" {
		go func() {
			err := config.Watch(ctx, path, log, func(c *config.Config) {
				if err := o.Reload(ctx, toolrack.New(c)); err != nil {
					log.Error("reload coordinate model", "err", err)
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("config watcher stopped", "err", err)
			}
		}()
	}

	a := newAPI(o, m, player, h, reg, log.With("component", "api"))
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           a,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("listening", "addr", srv.Addr)
		runErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err = <-runErr:
		if errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) {
			err = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error("http shutdown", "err", serr)
	}
	player.Stop()
	return err
}
