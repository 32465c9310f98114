// Command collectmgr runs the collection manager: it binds the four
// control-plane sockets for a platform, starts the state machine at
// reset, and serves operator requests until interrupted.
//
// Replaces collection.py's argparse surface 1:1:
//
//	collectmgr -p <platform> [-a] [-v]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/jabolina/go-collect/internal/envelope"
	"github.com/jabolina/go-collect/internal/fsm"
	"github.com/jabolina/go-collect/internal/logging"
	"github.com/jabolina/go-collect/internal/manager"
	"github.com/jabolina/go-collect/internal/zmqtransport"
)

var (
	platform    = kingpin.Flag("platform", "platform number, 0-7").Short('p').Default("0").Int()
	autoconnect = kingpin.Flag("autoconnect", "drive plat, alloc, connect automatically on startup").Short('a').Bool()
	verbose     = kingpin.Flag("verbose", "enable debug logging").Short('v').Bool()
	structured  = kingpin.Flag("structured", "use logrus for structured log output instead of the default logger").Bool()
)

func main() {
	kingpin.Parse()

	if *platform < 0 || *platform > 7 {
		fmt.Fprintf(os.Stderr, "platform must be between 0 and 7, got %d\n", *platform)
		os.Exit(1)
	}

	log := newLogger(*structured)
	log.ToggleDebug(*verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sockets, err := zmqtransport.BindManagerSockets(ctx, *platform,
		envelope.BackPullPort(*platform), envelope.BackPubPort(*platform),
		envelope.FrontRepPort(*platform), envelope.FrontPubPort(*platform))
	if err != nil {
		log.Fatalf("bind sockets: %v", err)
	}
	defer sockets.Close()

	mgr := manager.New(*platform, manager.SocketsFromZMQ(sockets), log)

	if *autoconnect {
		// Run sequentially before the front_rep loop starts: cmstate/ids
		// are owned by a single actor, and Run has not begun serving
		// requests yet, so firing transitions here directly is still
		// single-threaded with respect to the state machine.
		for _, transition := range []string{fsm.TransPlat, fsm.TransAlloc, fsm.TransConnect} {
			if err := mgr.AutoFire(transition); err != nil {
				log.Errorf("autoconnect %s: %v", transition, err)
				break
			}
		}
	}

	if err := mgr.Run(ctx); err != nil {
		log.Fatalf("manager run: %v", err)
	}
}

// newLogger picks the logging backend: the dependency-free default, or
// logrus when -structured requests leveled, structured output.
func newLogger(structured bool) logging.Logger {
	if structured {
		return logging.NewLogrusLogger(nil)
	}
	return logging.NewDefaultLogger()
}
