package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/buaazp/fasthttprouter"
	"github.com/valyala/fasthttp"

	"github.com/mr-karan/kvbridge/pkg/engine"
	"github.com/mr-karan/kvbridge/pkg/relay"
)

var (
	// Version of the build. This is injected at build-time.
	buildString = "unknown"
)

// newRouter wires the datapath endpoints. All of them are POST-only.
func newRouter(app *App) *fasthttprouter.Router {
	router := fasthttprouter.New()
	router.POST("/", app.handleBootstrap)
	router.POST("/snapshot_read", app.handleSnapshotRead)
	router.POST("/kv/snapshot_read", app.handleSnapshotRead)
	router.POST("/atomic_write", app.handleAtomicWrite)
	router.POST("/kv/atomic_write", app.handleAtomicWrite)
	router.POST("/kv/watch", app.handleWatch)
	router.NotFound = func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
	router.MethodNotAllowed = func(ctx *fasthttp.RequestCtx) {
		ctx.Response.Header.Set("Allow", "POST")
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
	}
	return router
}

func main() {
	ko, err := initConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := validateConfig(ko); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	lo := initLogger(ko)
	lo.Info("starting kvbridge", "version", buildString)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfgs := []engine.Config{engine.WithDir(ko.String("data-dir"))}
	if ko.Bool("debug") {
		cfgs = append(cfgs, engine.WithDebug())
	}
	eng, err := engine.Init(cfgs...)
	if err != nil {
		lo.Fatal("error opening engine", "error", err)
	}

	app := &App{
		lo:          lo,
		relay:       relay.New(eng, lo),
		tokens:      relay.NewTokenSet(),
		databaseID:  ko.String("database-id"),
		accessToken: ko.String("access-token"),
		tokenTTL:    time.Duration(ko.Int64("ephemeral-token-ttl")) * time.Millisecond,
		baseCtx:     ctx,
	}

	router := newRouter(app)

	s := &fasthttp.Server{
		Handler: router.Handler,
		Name:    "kvbridge",
	}

	addr := fmt.Sprintf("%s:%d", ko.String("host"), ko.Int("port"))
	go func() {
		lo.Info("listening", "addr", addr)
		if err := s.ListenAndServe(addr); err != nil {
			lo.Fatal("error starting server", "error", err)
		}
	}()

	if respAddr := ko.String("resp-addr"); respAddr != "" {
		go func() {
			if err := serveRESP(respAddr, eng, lo); err != nil {
				lo.Fatal("error starting resp listener", "error", err)
			}
		}()
	}

	// Block until interrupted, then drain in-flight requests and close
	// the engine.
	<-ctx.Done()
	lo.Info("shutting down")
	if err := s.Shutdown(); err != nil {
		lo.Error("error shutting down server", "error", err)
	}
	eng.Shutdown()
}
