// zulipctl - command line client for the submessage API
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yogi2103/zulip/clients/go/zulip"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := zulip.NewClient(os.Getenv("ZULIP_URL"))
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "register":
		requireArgs(3, "zulipctl register <email> [full name]")
		name := strings.Join(os.Args[3:], " ")
		resp, err := client.Register(os.Args[2], name)
		exitOnError(err)
		fmt.Printf("Registered as user %d\n", resp.ID)

	case "streams":
		streams, err := client.ListStreams()
		exitOnError(err)
		for _, st := range streams {
			fmt.Printf("  %d  %s (%d subscribers)\n", st.ID, st.Name, st.Subscribers)
		}

	case "create-stream":
		requireArgs(3, "zulipctl create-stream <name>")
		st, err := client.CreateStream(os.Args[2])
		exitOnError(err)
		fmt.Printf("Created stream %d\n", st.ID)

	case "subscribe":
		requireArgs(3, "zulipctl subscribe <stream_id>")
		exitOnError(client.Subscribe(parseID(os.Args[2])))

	case "send":
		requireArgs(5, "zulipctl send <stream_id> <topic> <content>")
		id, err := client.SendStreamMessage(parseID(os.Args[2]), os.Args[3], os.Args[4])
		exitOnError(err)
		fmt.Printf("Sent message %d\n", id)

	case "pm":
		requireArgs(4, "zulipctl pm <user_id,...> <content>")
		var to []int64
		for _, s := range strings.Split(os.Args[2], ",") {
			to = append(to, parseID(s))
		}
		id, err := client.SendPrivateMessage(to, os.Args[3])
		exitOnError(err)
		fmt.Printf("Sent message %d\n", id)

	case "submessage":
		requireArgs(5, "zulipctl submessage <message_id> <msg_type> <json content>")
		id, err := client.SendSubmessage(parseID(os.Args[2]), os.Args[3], os.Args[4])
		exitOnError(err)
		fmt.Printf("Created submessage %d\n", id)

	case "read":
		requireArgs(3, "zulipctl read <message_id>...")
		var ids []int64
		for _, s := range os.Args[2:] {
			ids = append(ids, parseID(s))
		}
		msgs, err := client.GetMessages(ids...)
		exitOnError(err)
		printJSON(msgs)

	case "events":
		for {
			events, err := client.GetEvents(100, 10*time.Second)
			exitOnError(err)
			for _, ev := range events {
				fmt.Printf("[%s] message %d: %s %s\n", ev.Event.MsgType, ev.Event.MessageID, ev.Event.Type, ev.Event.Content)
			}
		}

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`zulipctl - messages and submessages from the command line

Usage: zulipctl <command> [options]

Commands:
  register <email> [name]                  Register a new user
  streams                                  List streams
  create-stream <name>                     Create a stream
  subscribe <stream_id>                    Subscribe to a stream
  send <stream_id> <topic> <content>       Post to a stream
  pm <user_id,...> <content>               Send a private message
  submessage <message_id> <type> <json>    Attach a submessage
  read <message_id>...                     Show messages with submessages
  events                                   Follow submessage events
  health                                   Check server health

Environment:
  ZULIP_URL      Server URL (default: http://localhost:8080)
  ZULIP_CONFIG   Config directory (default: ~/.zulip-submessages)`)
}

func requireArgs(n int, usage string) {
	if len(os.Args) < n {
		fmt.Fprintln(os.Stderr, "Usage:", usage)
		os.Exit(1)
	}
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid id: %s\n", s)
		os.Exit(1)
	}
	return id
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
