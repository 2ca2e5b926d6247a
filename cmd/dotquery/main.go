// dotquery is a DNS over TLS command line client.
//
// Usage:
//
//   dotquery -address address -sni sni -domain domain -qtype type
//            [-ca-bundle file] [-verbose]
//
//   dotquery -help
//
// Examples:
//
//   ./dotquery -address 1.1.1.1:853 -sni cloudflare-dns.com -domain ooni.io
//   ./dotquery -address 9.9.9.9:853 -sni dns.quad9.net -domain ooni.io -qtype AAAA
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/m-lab/go/rtx"
	"github.com/miekg/dns"
	"github.com/ooni/tlssock"
	"github.com/ooni/tlssock/cmd/common"
	"github.com/ooni/tlssock/handlers/logger"
	"github.com/ooni/tlssock/internal/dnsovertls"
)

var (
	flagAddress  = flag.String("address", "1.1.1.1:853", "Address of the DoT resolver")
	flagCABundle = flag.String("ca-bundle", "", "CA bundle used to verify the resolver")
	flagDomain   = flag.String("domain", "example.com", "Domain to query for")
	flagQType    = flag.String("qtype", "A", "Query type")
	flagSNI      = flag.String("sni", "cloudflare-dns.com", "SNI and name expected in the certificate")
	flagTimeout  = flag.Duration("timeout", 10*time.Second, "Overall timeout")
)

func main() {
	flag.Parse()
	if *common.FlagHelp {
		flag.CommandLine.SetOutput(os.Stdout)
		fmt.Printf("Usage: dotquery [flags]\n")
		flag.PrintDefaults()
		fmt.Printf("\nExamples:\n")
		fmt.Printf("%s\n", "  ./dotquery -address 1.1.1.1:853 -sni cloudflare-dns.com -domain ooni.io")
		fmt.Printf("%s\n", "  ./dotquery -address 9.9.9.9:853 -sni dns.quad9.net -domain ooni.io -qtype AAAA")
		return
	}
	common.SetupLogging()
	reply, err := mainWithContext(context.Background())
	rtx.Must(err, "dotquery failed")
	fmt.Printf("%s\n", reply.String())
}

func mainWithContext(ctx context.Context) (*dns.Msg, error) {
	qtype, ok := dns.StringToType[strings.ToUpper(*flagQType)]
	if !ok {
		return nil, fmt.Errorf("dotquery: unknown query type: %s", *flagQType)
	}
	ctx, cancel := context.WithTimeout(ctx, *flagTimeout)
	defer cancel()
	tctx, err := tlssock.NewContext(tlssock.Config{
		CABundle:   *flagCABundle,
		Handler:    logger.NewHandler(log.Log),
		Role:       tlssock.RoleClient,
		ServerName: *flagSNI,
	})
	if err != nil {
		return nil, err
	}
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", *flagAddress)
	if err != nil {
		return nil, err
	}
	sock, err := tlssock.NewSocket(tctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer sock.Close()
	if deadline, ok := ctx.Deadline(); ok {
		rtx.Must(sock.SetDeadline(deadline), "cannot set deadline")
	}
	if err := sock.ConnectContext(ctx); err != nil {
		return nil, err
	}
	if err := sock.VerifyConnection(); err != nil {
		return nil, err
	}
	return dnsovertls.NewClient(sock).Query(*flagDomain, qtype)
}
