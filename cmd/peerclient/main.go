// Command peerclient runs a single peer's control-plane agent: it
// connects to a collection manager's back_pull/back_pub pair and
// answers transitions until interrupted.
//
//	peerclient --platform <platform> --host <manager host> --level <drp|teb|meb|...>
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/jabolina/go-collect/internal/envelope"
	"github.com/jabolina/go-collect/internal/logging"
	"github.com/jabolina/go-collect/internal/peerclient"
	"github.com/jabolina/go-collect/internal/zmqtransport"
)

var (
	platform = kingpin.Flag("platform", "platform number, 0-7").Default("0").Int()
	host     = kingpin.Flag("host", "collection manager host").Default("localhost").String()
	level    = kingpin.Flag("level", "this peer's role (drp, teb, meb, ...)").Required().String()
)

func main() {
	kingpin.Parse()

	log := logging.NewDefaultLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sockets, err := zmqtransport.DialPeerSockets(ctx, *host,
		envelope.BackPullPort(*platform), envelope.BackPubPort(*platform))
	if err != nil {
		log.Fatalf("dial manager sockets: %v", err)
	}
	defer sockets.Close()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("hostname: %v", err)
	}

	peer := peerclient.New(*level, hostname, os.Getpid(), peerclient.TransportFromZMQ(sockets), log)
	log.Infof("peer id: %s", peer.ID())

	if err := peer.Run(ctx); err != nil {
		log.Fatalf("peer run: %v", err)
	}
}
