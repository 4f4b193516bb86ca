// Command server runs a coordination-plane peer: it joins discovery,
// participates in leader election, and runs fault/partition detection. It
// takes no arguments (§6 CLI: "server takes no arguments") — every server
// peer is configured purely by its environment and the shared multicast
// address.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"groupwire/internal/peer"
	"groupwire/pkg/logger"
	"groupwire/pkg/node"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var (
		multicast   = flag.String("multicast", "", "multicast address for the datagram bus (default 224.1.1.1:5008)")
		debug       = flag.Bool("debug", false, "enable debug logging")
		metricsAddr = flag.String("metrics-addr", "", "if set, serve Prometheus metrics at this address's /metrics (e.g. :9100)")
	)
	flag.Parse()

	if *debug {
		if err := logger.ToFile("groupwire-server-debug.log"); err != nil {
			log.Printf("failed to open debug log, logging to stderr: %v", err)
		}
	}
	logger.SetDebug(*debug)

	n, err := node.New(node.Config{
		Kind:          peer.KindServer,
		MulticastAddr: *multicast,
	})
	if err != nil {
		log.Fatalf("failed to build node: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		log.Fatalf("failed to start node: %v", err)
	}
	fmt.Printf("server %s listening, awaiting startup grace period before first election\n", n.Self())

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(n.Metrics().Gatherer(), promhttp.HandlerOpts{
			ErrorLog:          log.Default(),
			ErrorHandling:     promhttp.ContinueOnError,
			EnableOpenMetrics: true,
		}))
		metricsServer := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
		fmt.Printf("metrics listening on %s/metrics\n", *metricsAddr)
	}

	<-ctx.Done()
	fmt.Println("shutting down...")

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Stop(stopCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
