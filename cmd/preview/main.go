package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/camera.preview/internal/api"
	"github.com/banshee-data/camera.preview/internal/compositor"
	"github.com/banshee-data/camera.preview/internal/config"
	"github.com/banshee-data/camera.preview/internal/db"
	"github.com/banshee-data/camera.preview/internal/device"
	"github.com/banshee-data/camera.preview/internal/monitoring"
	"github.com/banshee-data/camera.preview/internal/preview"
	"github.com/banshee-data/camera.preview/internal/serialmux"
	"github.com/banshee-data/camera.preview/internal/session"
	"github.com/banshee-data/camera.preview/internal/tiling"
	"github.com/banshee-data/camera.preview/internal/timeutil"
	"github.com/banshee-data/camera.preview/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run against a simulated machine instead of the serial port")
	devModel    = flag.String("dev-model", "fbm1", "Model of the simulated machine (dev mode)")
	devSerial   = flag.String("dev-serial", "DEV0001", "Serial number of the simulated machine (dev mode)")
	listen      = flag.String("listen", ":8080", "Listen address")
	port        = flag.String("port", "/dev/ttyUSB0", "Serial port of the machine (ignored in dev mode)")
	baud        = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	frame       = flag.String("serial-frame", serialmux.DefaultFrame, "Serial framing, e.g. 8N1")
	listPorts   = flag.Bool("list-ports", false, "List serial ports and exit")
	dbPath      = flag.String("db", "preview.db", "Path to the calibration and session database")
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the preview config JSON")
	snapshotDir = flag.String("snapshot-dir", "", "Directory for saved canvas snapshots (empty disables saving)")
	logJSON     = flag.Bool("log-json", false, "Write logs as JSON records")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// connectMachine opens the serial mux and identifies the machine on it. In
// dev mode the mux is disabled and a simulated machine stands in.
func connectMachine(ctx context.Context, monitor func(serialmux.SerialMuxInterface)) (serialmux.SerialMuxInterface, device.Machine, error) {
	if *devMode {
		info := device.Info{Model: *devModel, Name: "simulated", Serial: *devSerial, Firmware: "5.0.0"}
		if _, ok := device.LookupSpec(info.Model); !ok {
			return nil, nil, fmt.Errorf("%w: %q", preview.ErrUnsupportedModel, info.Model)
		}
		return serialmux.NewDisabledSerialMux(), device.NewFakeMachine(info), nil
	}

	mux, err := serialmux.NewRealSerialMux(*port, serialmux.PortOptions{BaudRate: *baud, Frame: *frame})
	if err != nil {
		return nil, nil, err
	}
	monitor(mux)
	m, err := device.NewSerialMachine(ctx, mux)
	if err != nil {
		mux.Close()
		return nil, nil, err
	}
	return mux, m, nil
}

// newCanvas sizes the canvas to the machine's workarea.
func newCanvas(info device.Info, cfg *config.PreviewConfig) *compositor.Canvas {
	wa := info.Spec().Workarea
	return compositor.New(tiling.Size{W: wa.Width, H: wa.Height}, cfg.GetPreviewPPMM())
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("preview", version.String())
		return
	}
	if *listPorts {
		ports, err := serialmux.ListPorts()
		if err != nil {
			log.Fatal(err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if *logJSON {
		monitoring.UseSlog(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}

	cfg, err := config.LoadPreviewConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the monitor routine manages IO on the serial port and must be running
	// before the handshake
	monitor := func(mux serialmux.SerialMuxInterface) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("failed to monitor serial port: %v", err)
			}
			log.Print("monitor routine terminated")
		}()
	}

	mux, machine, err := connectMachine(ctx, monitor)
	if err != nil {
		log.Fatalf("failed to connect to machine: %v", err)
	}
	defer mux.Close()
	info := machine.Info()
	log.Printf("connected to %s %s (%s, firmware %s)", info.Model, info.Serial, info.Name, info.Firmware)

	hub := api.NewHub(timeutil.RealClock{})
	canvas := newCanvas(info, cfg)
	ctrl := session.NewController(session.Options{
		Connector: device.Static{info.Serial: machine},
		Canvas:    canvas,
		Notifier:  hub,
		Store:     database,
		Config:    cfg,
		Clock:     timeutil.RealClock{},
		Log:       database,
	})
	ctrl.AddObserver(hub)

	wg.Add(1)
	go func() {
		defer wg.Done()

		router := api.NewServer(api.Options{
			Controller:  ctrl,
			Hub:         hub,
			Canvas:      canvas,
			Sessions:    database,
			Config:      cfg,
			Device:      &info,
			SnapshotDir: *snapshotDir,
		}).ServeMux()
		// admin routes are debugging aids; the preview works without them
		if err := database.AttachAdminRoutes(router); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}
		mux.AttachAdminRoutes(router)

		server := &http.Server{
			Addr:              *listen,
			Handler:           api.LoggingMiddleware(router),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("listening on %s", *listen)

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// end the session before the device goes away so the machine is
		// left out of raw mode
		endCtx, endCancel := context.WithTimeout(context.Background(), 30*time.Second)
		ctrl.End(endCtx, true)
		endCancel()
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
