// Command meffd runs a single headless meff peer: no GUI, just the
// network runtime driven by configuration plus a minimal stdin command
// reader.
// It exists so the core can be exercised as a real process instead of
// only in-test, and to give the metrics server somewhere to live.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/meff-network/meff"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML/TOML/JSON config file (optional)")
	flag.Parse()

	listener := &stdoutListener{}
	client, err := meff.BootstrapFromConfigFile(*configPath, listener, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meffd: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("meffd: listening as %q on %s\n", client.Name(), client.Address())
	go readCommands(client)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	client.Quit()
}

// readCommands offers a minimal line-oriented control surface over
// stdin, enough to drive the Request API without a real front-end.
func readCommands(client *meff.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		var err error
		switch fields[0] {
		case "push":
			if len(fields) != 3 {
				fmt.Println("usage: push <path> <title>")
				continue
			}
			err = client.PushFile(fields[1], fields[2])
		case "remove":
			err = client.Remove(arg(fields, 1))
		case "stream":
			err = client.Stream(arg(fields, 1))
		case "download":
			err = client.Download(arg(fields, 1))
		case "play":
			err = client.Play(arg(fields, 1))
		case "pause":
			err = client.Pause()
		case "stop":
			err = client.Stop()
		case "continue":
			err = client.Continue()
		case "status":
			client.RefreshSelfStatus()
			fmt.Println(client.Status())
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "meffd: %v\n", err)
		}
	}
}

func arg(fields []string, i int) string {
	if i >= len(fields) {
		return ""
	}
	return fields[i]
}

// stdoutListener prints upcalls instead of driving a GUI.
type stdoutListener struct{}

func (stdoutListener) NotifyStatus(files []string, name string) {
	fmt.Printf("status: %s holds %v\n", name, files)
}

func (stdoutListener) FileStatusChanged(name string, status meff.FileStatus) {
	fmt.Printf("file %s: %s\n", name, status)
}

func (stdoutListener) PlayerPlaying(title *string) {
	if title != nil {
		fmt.Printf("playing: %s\n", *title)
		return
	}
	fmt.Println("playing: (resumed)")
}

func (stdoutListener) PlayerStopped() {
	fmt.Println("stopped")
}
