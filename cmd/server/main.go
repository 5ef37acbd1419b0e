package main

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"yuzu/bargein/internal/api"
	"yuzu/bargein/internal/config"
	"yuzu/bargein/internal/health"
	"yuzu/bargein/internal/loop"
	"yuzu/bargein/internal/store"
	"yuzu/bargein/internal/workerws"
)

const floorService = "bargein.Floor"

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()
	snap, err := cfg.FloorSnapshot()
	if err != nil {
		log.Fatalf("floor config: %v", err)
	}

	st := store.New()
	reg := workerws.NewRegistry()
	disp := loop.New(reg, st, cfg.Loop.TTSTimeoutSec, snap)

	wss := workerws.NewServer(cfg, st, reg)
	wss.OnMessage = disp.OnMessage
	// playback dies with the worker; a reconnect starts from worker_hello
	wss.OnDisconnect = disp.End

	h := api.NewHandlers(cfg, st, disp, reg)
	mux := http.NewServeMux()
	mux.Handle("/", api.NewRouter(h))
	mux.HandleFunc("/ws/worker", wss.HandleWorkerWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		hs := health.CheckAll(r.Context(), cfg)
		w.Header().Set("Content-Type", "application/json")
		if !hs.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(hs)
	})

	// gRPC health for orchestrators that probe over gRPC
	hsrv := grpchealth.NewServer()
	gs := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 2 * time.Minute,
			Time:              30 * time.Second,
			Timeout:           10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	healthpb.RegisterHealthServer(gs, hsrv)
	setServing(hsrv, health.CheckAll(context.Background(), cfg))

	if cfg.Server.GRPCAddr != "" {
		l, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			log.Fatalf("listen grpc %s: %v", cfg.Server.GRPCAddr, err)
		}
		go func() {
			log.Printf("grpc health listening on %s", cfg.Server.GRPCAddr)
			if err := gs.Serve(l); err != nil {
				log.Printf("grpc serve: %v", err)
			}
		}()
	}

	// Hot reload of the floor section when a config file is in use
	if config.Watch(func(c config.Config) {
		next, err := c.FloorSnapshot()
		if err != nil {
			log.Printf("[config] reload rejected: %v", err)
			return
		}
		if err := disp.SetSnapshot(next); err != nil {
			log.Printf("[config] apply snapshot: %v", err)
			return
		}
		c.Worker = cfg.Worker // token settings are fixed at startup
		setServing(hsrv, health.CheckAll(context.Background(), c))
		log.Printf("[config] floor snapshot reloaded: window=%s min_words=%d", next.ConfirmWindow(), next.MinWords())
	}) {
		log.Printf("[config] watching %s", cfg.File)
	}

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Printf("shutdown signal received; stopping server...")
		hsrv.Shutdown()
		for _, id := range st.ListSessionIDs() {
			disp.End(id)
			reg.Close(id, "server shutdown")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		gs.GracefulStop()
	}()

	log.Printf("server starting on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Println("server error:", err)
		os.Exit(1)
	}
}

func setServing(hsrv *grpchealth.Server, hs health.HealthStatus) {
	status := healthpb.HealthCheckResponse_SERVING
	if !hs.OK {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		log.Printf("readiness:\n%s", hs)
	}
	hsrv.SetServingStatus("", status)
	hsrv.SetServingStatus(floorService, status)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
