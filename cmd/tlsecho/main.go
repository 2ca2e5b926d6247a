// tlsecho is a TLS echo server.
//
// Usage:
//
//   tlsecho -config <file> [-address address] [-metrics-address address]
//           [-verify-client] [-verbose]
//
//   tlsecho -help
//
// The config file is YAML and must use the server role, e.g.:
//
//   role: server
//   certFile: server.pem
//   keyFile: server.key
//   caBundle: ca.pem
//   handshakeTimeout: 10s
//
// Examples:
//
//   ./tlsecho -config server.yaml -address 127.0.0.1:8443 -metrics-address 127.0.0.1:9090
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/m-lab/go/rtx"
	"github.com/ooni/tlssock"
	"github.com/ooni/tlssock/cmd/common"
	"github.com/ooni/tlssock/handlers"
	"github.com/ooni/tlssock/handlers/logger"
	"github.com/ooni/tlssock/handlers/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	flagAddress        = flag.String("address", "127.0.0.1:8443", "Address to listen on")
	flagConfig         = flag.String("config", "tlsecho.yaml", "YAML config file")
	flagMetricsAddress = flag.String("metrics-address", "", "Address where to expose Prometheus metrics")
	flagVerifyClient   = flag.Bool("verify-client", false, "Require a valid client certificate")
)

var errNotServer = errors.New("tlsecho: config must use the server role")

func main() {
	flag.Parse()
	if *common.FlagHelp {
		flag.CommandLine.SetOutput(os.Stdout)
		fmt.Printf("Usage: tlsecho [flags]\n")
		flag.PrintDefaults()
		fmt.Printf("\nExamples:\n")
		fmt.Printf("%s\n", "  ./tlsecho -config server.yaml -address 127.0.0.1:8443 -metrics-address 127.0.0.1:9090")
		return
	}
	common.SetupLogging()
	rtx.Must(mainWithContext(context.Background()), "tlsecho failed")
}

func mainWithContext(ctx context.Context) error {
	config, err := tlssock.LoadConfig(*flagConfig)
	if err != nil {
		return err
	}
	if config.Role != tlssock.RoleServer {
		return errNotServer
	}
	handler := handlers.Tee(logger.NewHandler(log.Log))
	if *flagMetricsAddress != "" {
		reg := prometheus.NewRegistry()
		mh, err := metrics.NewHandler(reg)
		if err != nil {
			return err
		}
		handler = handlers.Tee(handler, mh)
		srv := &http.Server{
			Addr:              *flagMetricsAddress,
			Handler:           newMetricsMux(reg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Infof("metrics: listening on %s", *flagMetricsAddress)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				log.WithError(err).Warn("metrics: server failed")
			}
		}()
		defer srv.Close()
	}
	config.Handler = handler
	tctx, err := tlssock.NewContext(config)
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", *flagAddress)
	if err != nil {
		return err
	}
	log.Infof("tlsecho: listening on %s", listener.Addr())
	return serve(ctx, listener, tctx, *flagVerifyClient)
}

func newMetricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// serve accepts connections until ctx is done.
func serve(ctx context.Context, listener net.Listener, tctx *tlssock.Context, verify bool) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go echo(tctx, conn, verify)
	}
}

func echo(tctx *tlssock.Context, conn net.Conn, verify bool) {
	sock, err := tlssock.NewSocket(tctx, conn)
	if err != nil {
		conn.Close()
		log.WithError(err).Warn("tlsecho: cannot create socket")
		return
	}
	defer sock.Close()
	if err := sock.Accept(); err != nil {
		log.WithError(err).Warn("tlsecho: handshake failed")
		return
	}
	if verify {
		if err := sock.VerifyConnection(); err != nil {
			log.WithError(err).Warn("tlsecho: client rejected")
			return
		}
	}
	for {
		data, err := sock.Receive(4096)
		if err != nil {
			log.WithError(err).Warn("tlsecho: receive failed")
			return
		}
		if len(data) == 0 {
			return
		}
		if _, err := sock.Send(data); err != nil {
			log.WithError(err).Warn("tlsecho: send failed")
			return
		}
	}
}
