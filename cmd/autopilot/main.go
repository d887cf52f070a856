package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/rover/internal/actuator"
	"github.com/banshee-data/rover/internal/api"
	"github.com/banshee-data/rover/internal/autopilot"
	"github.com/banshee-data/rover/internal/config"
	"github.com/banshee-data/rover/internal/db"
	"github.com/banshee-data/rover/internal/drive"
	"github.com/banshee-data/rover/internal/mission"
	"github.com/banshee-data/rover/internal/ranging"
	"github.com/banshee-data/rover/internal/serialmux"
	"github.com/banshee-data/rover/internal/sim"
	"github.com/banshee-data/rover/internal/version"
)

var (
	configPath  = flag.String("config", "", "Tuning config JSON (defaults built in)")
	devMode     = flag.Bool("dev", false, "Drive a simulated arena instead of the hardware")
	port        = flag.String("port", "/dev/ttyAMA0", "Lidar serial port (ignored in dev mode)")
	baud        = flag.Int("baud", 0, "Lidar baud rate, overriding the config")
	motorPort   = flag.String("motor-port", "", "Motor controller serial port; empty logs commands instead")
	listen      = flag.String("listen", ":8080", "Listen address")
	dbPath      = flag.String("db", "telemetry.db", "Telemetry database; empty disables recording")
	missionName = flag.String("mission", "", "Mission to register: pest-control, or empty for none")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

const missionPestControl = "pest-control"

// arena is the simulated room used in dev mode, in cm.
var arena = struct{ w, h float64 }{400, 300}

func loadTuning(path string, baudOverride int) (*config.TuningConfig, error) {
	tuning := config.DefaultTuningConfig()
	if path != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(path); err != nil {
			return nil, err
		}
	}
	if baudOverride > 0 {
		opts := tuning.GetLidarSerial()
		opts.BaudRate = baudOverride
		tuning.LidarSerial = &opts
		if err := tuning.Validate(); err != nil {
			return nil, err
		}
	}
	return tuning, nil
}

// setupMission builds the registry and controller config for the named
// mission. The returned PestControl is nil when no mission is selected.
func setupMission(name string, tuning *config.TuningConfig) (*autopilot.Registry, autopilot.Config, *mission.PestControl, error) {
	reg := autopilot.NewRegistry()
	cfg := tuning.AutopilotConfig()
	switch name {
	case "":
		return reg, cfg, nil, nil
	case missionPestControl:
		pc, err := mission.New(tuning.MissionConfig())
		if err != nil {
			return nil, cfg, nil, err
		}
		if err := pc.Register(reg); err != nil {
			return nil, cfg, nil, err
		}
		// Periodic area scans look for targets instead of sweeping the lidar.
		cfg.AreaScanState = mission.DetectingTarget
		cfg.AreaScanAngle = tuning.MissionConfig().ScanAngle
		return reg, cfg, pc, nil
	default:
		return nil, cfg, nil, fmt.Errorf("unknown mission %q", name)
	}
}

// newSimWorld places the body in the middle of the arena. With a mission it
// scatters a few pests along the walls.
func newSimWorld(cfg autopilot.Config, mcfg mission.Config, withPests bool) (*sim.World, error) {
	cmPerTick := cfg.CruiseDistancePerTick * 100
	if cmPerTick <= 0 {
		cmPerTick = 0.5
	}
	wc := sim.Config{
		Walls:       sim.Box(arena.w, arena.h),
		Start:       r2.Vec{X: arena.w / 2, Y: arena.h / 2},
		Radius:      10,
		Calibration: sim.CalibrationFor(cfg, cmPerTick),
		FrameWidth:  mcfg.FrameWidth,
		FrameHeight: mcfg.FrameHeight,
		FieldOfView: mcfg.FieldOfView,
	}
	if withPests {
		wc.Pests = []sim.Pest{
			{Pos: r2.Vec{X: 40, Y: 60}},
			{Pos: r2.Vec{X: arena.w - 50, Y: arena.h - 40}},
			{Pos: r2.Vec{X: arena.w / 2, Y: 30}},
		}
	}
	return sim.New(wc)
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Current())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !*devMode && *port == "" {
		log.Fatal("Serial port is required")
	}

	tuning, err := loadTuning(*configPath, *baud)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}
	reg, acfg, pest, err := setupMission(*missionName, tuning)
	if err != nil {
		log.Fatalf("failed to set up mission: %v", err)
	}
	ctrl, err := autopilot.NewController(acfg, reg)
	if err != nil {
		log.Fatalf("failed to create controller: %v", err)
	}
	log.Printf("%s: tick %v, scan %s, mission %q", version.Current(), tuning.GetTickPeriod(), acfg.ScanStrategy, *missionName)

	var (
		sensors drive.SensorSource
		act     actuator.Actuator
		world   *sim.World
		lidar   *ranging.Source
		muxes   []serialmux.SerialMuxInterface
	)
	source := "sim"
	if *devMode {
		world, err = newSimWorld(acfg, tuning.MissionConfig(), pest != nil)
		if err != nil {
			log.Fatalf("failed to create simulated arena: %v", err)
		}
		sensors, act = world, world
		muxes = append(muxes, serialmux.NewDisabledSerialMux("lidar"), serialmux.NewDisabledSerialMux("motor"))
	} else {
		lidarSerial, err := serialmux.NewRealSerialMux("lidar", *port, tuning.GetLidarSerial(), ranging.ScanFrames)
		if err != nil {
			log.Fatalf("failed to open lidar port: %v", err)
		}
		log.Printf("lidar on %s at %s", *port, tuning.GetLidarSerial())
		muxes = append(muxes, lidarSerial)
		lidar = ranging.NewSource(tuning.GetMedianWindow(), tuning.GetReadingMaxAge(), nil)
		sensors = lidar
		source = *port

		if *motorPort != "" {
			motorSerial, err := serialmux.NewRealSerialMux("motor", *motorPort, tuning.GetMotorSerial(), nil)
			if err != nil {
				log.Fatalf("failed to open motor port: %v", err)
			}
			muxes = append(muxes, motorSerial)
			act = actuator.NewLineActuator(motorSerial, actuator.DefaultLimits())
		} else {
			log.Printf("no motor port given; commands will only be logged")
			muxes = append(muxes, serialmux.NewDisabledSerialMux("motor"))
			act = actuator.NewLogActuator(actuator.DefaultLimits())
		}
	}
	for _, m := range muxes {
		defer m.Close()
	}

	var feed *mission.TargetFeed
	if pest != nil {
		feed = mission.NewTargetFeed(tuning.GetDetectionMaxAge(), nil)
	}

	opts := drive.Options{
		Period:      tuning.GetTickPeriod(),
		SettleTicks: tuning.GetSettleTicks(),
	}
	if feed != nil {
		opts.Targets = feed
	}

	var (
		store *db.DB
		rec   *db.Recorder
	)
	if *dbPath != "" {
		store, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer store.Close()

		cfgJSON, err := json.Marshal(tuning)
		if err != nil {
			log.Fatalf("failed to encode tuning config: %v", err)
		}
		rec, err = db.NewRecorder(store, db.Run{Mission: *missionName, Source: source, Config: cfgJSON}, tuning.GetFlushEvery(), nil)
		if err != nil {
			log.Fatalf("failed to start telemetry run: %v", err)
		}
		opts.Recorder = rec
		log.Printf("recording run %s to %s", rec.RunID(), *dbPath)
	}

	loop := drive.New(ctrl, sensors, act, opts)

	// Create a wait group for the HTTP server, serial monitors and the drive loop
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routines to manage IO on the serial ports
	for _, m := range muxes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("failed to monitor serial port: %v", err)
			}
			log.Print("monitor routine terminated")
		}()
	}

	if lidar != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := lidar.Run(ctx, muxes[0]); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("lidar routine failed: %v", err)
			}
			log.Print("lidar routine terminated")
		}()
	}

	// A fatal controller error ends the process the same way a signal does.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stop()
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("drive loop stopped: %v", err)
		}
		log.Print("drive loop terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiOpts := api.Options{
			Registry:      reg,
			Feed:          feed,
			Mission:       pest,
			Lidar:         lidar,
			World:         world,
			AreaScanAngle: acfg.AreaScanAngle,
		}
		if rec != nil {
			apiOpts.DB = store
			apiOpts.RunID = rec.RunID()
		}
		mux := api.NewServer(loop, apiOpts).ServeMux()

		loop.AttachAdminRoutes(mux)
		for _, m := range muxes {
			m.AttachAdminRoutes(mux)
		}
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach database admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()

	// The loop has returned and parked the actuators; write the last batch.
	if rec != nil {
		if err := rec.Close(); err != nil {
			log.Printf("failed to close telemetry run: %v", err)
		}
	}
	if world != nil {
		log.Printf("simulation: pose %+v, %d collisions, %d pests sprayed", world.Pose(), world.Collisions(), world.Sprayed())
	}
	log.Printf("Graceful shutdown complete")
}
