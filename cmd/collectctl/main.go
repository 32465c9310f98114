// Command collectctl is the operator-facing CLI over the Control
// Client: getstate, getstatus, setstate, selectplatform, plus two
// supplemented subcommands carried over from the original tooling
// (killPartition.py and monPrint.py):
//
//	collectctl -p <platform> getstate
//	collectctl -p <platform> getstatus
//	collectctl -p <platform> setstate <target>
//	collectctl -p <platform> selectplatform --body '{"drp":{"...":{"active":false}}}'
//	collectctl -p <platform> kill
//	collectctl -p <platform> monitor
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/jabolina/go-collect/internal/control"
	"github.com/jabolina/go-collect/internal/envelope"
	"github.com/jabolina/go-collect/internal/logging"
	"github.com/jabolina/go-collect/internal/monitor"
	"github.com/jabolina/go-collect/internal/zmqtransport"
)

var (
	app      = kingpin.New("collectctl", "operator CLI for the collection manager")
	platform = app.Flag("platform", "platform number, 0-7").Short('p').Default("0").Int()
	host     = app.Flag("host", "collection manager host").Default("localhost").String()
	timeout  = app.Flag("timeout", "RCVTIMEO for control requests").Default("5s").Duration()

	getStateCmd      = app.Command("getstate", "print the manager's current state")
	getStatusCmd     = app.Command("getstatus", "print the manager's (state, transition) pair")
	setStateCmd      = app.Command("setstate", "walk the manager toward a target state")
	setStateTarget   = setStateCmd.Arg("target", "target state").Required().String()
	selectPlatCmd    = app.Command("selectplatform", "toggle peer active flags")
	selectPlatBody   = selectPlatCmd.Flag("body", "JSON body: level -> id -> {active: bool}").Required().String()
	killCmd          = app.Command("kill", "force every known peer back to reset")
	monitorCmd       = app.Command("monitor", "print status/error envelopes as they arrive")
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	log := logging.NewDefaultLogger()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if command == monitorCmd.FullCommand() {
		runMonitor(ctx, log)
		return
	}

	dial, err := control.Dial(ctx, *host, *platform, *timeout)
	if err != nil {
		log.Fatalf("dial control client: %v", err)
	}
	defer dial.Close()
	client := dial.Client

	switch command {
	case getStateCmd.FullCommand():
		state, err := client.GetState()
		exitOnError(log, err)
		fmt.Println(state)

	case getStatusCmd.FullCommand():
		state, transition, err := client.GetStatus()
		exitOnError(log, err)
		fmt.Printf("state=%s transition=%s\n", state, transition)

	case setStateCmd.FullCommand():
		exitOnError(log, client.SetState(*setStateTarget))
		fmt.Println("ok")

	case selectPlatCmd.FullCommand():
		var body map[string]interface{}
		if err := json.Unmarshal([]byte(*selectPlatBody), &body); err != nil {
			log.Fatalf("parse -body: %v", err)
		}
		_, err := client.SelectPlatform(body)
		exitOnError(log, err)
		fmt.Println("ok")

	case killCmd.FullCommand():
		// killPartition.py's one useful residual behavior: force reset
		// regardless of what the manager believes its current state is.
		// The reset transition accepts "any" current state, so this
		// never needs its own protocol path.
		exitOnError(log, client.SetTransition("reset"))
		fmt.Println("ok")
	}
}

func runMonitor(ctx context.Context, log logging.Logger) {
	sock, err := zmqtransport.DialMonitorSub(ctx, *host, envelope.FrontPubPort(*platform))
	if err != nil {
		log.Fatalf("dial front_pub: %v", err)
	}
	defer func() { _ = sock.Close() }()

	m := monitor.New(monitor.SubscriberFromZMQ(sock), func(env envelope.Envelope) {
		switch env.Header.Key {
		case "status":
			fmt.Printf("state=%v transition=%v\n", env.Body["state"], env.Body["transition"])
		case "error":
			fmt.Printf("error: %v\n", env.Body["error"])
		default:
			fmt.Printf("%s: %v\n", env.Header.Key, env.Body)
		}
	}, log)
	m.Run(ctx)
}

func exitOnError(log logging.Logger, err error) {
	if err != nil {
		log.Fatalf("%v", err)
	}
}
