package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"

	"github.com/hashicorp/yamux"
	"github.com/spf13/cobra"

	"github.com/omc/kernel/internal/swarm"
)

var attachAddr string

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Attach to a running watch server and print task snapshots as they arrive",
	RunE:  runAttach,
}

func init() {
	attachCmd.Flags().StringVar(&attachAddr, "addr", "127.0.0.1:4777", "watch server address")
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	conn, err := net.Dial("tcp", attachAddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", attachAddr, err)
	}
	defer conn.Close()

	session, err := yamux.Client(conn, nil)
	if err != nil {
		return err
	}
	defer session.Close()

	return drainWatchSession(session, func(tasks []swarm.TaskRow) {
		fmt.Printf("--- %d task(s) ---\n", len(tasks))
		for _, t := range tasks {
			fmt.Printf("%s\t%s\t%s\n", t.ID, t.Status, t.ClaimedBy)
		}
	})
}

// drainWatchSession accepts the data and ping streams opened by
// serveWatchSession, in the order it opens them, and calls onSnapshot for
// every decoded task list until the connection ends.
func drainWatchSession(session *yamux.Session, onSnapshot func([]swarm.TaskRow)) error {
	dataStream, err := session.Accept()
	if err != nil {
		return err
	}
	defer dataStream.Close()
	pingStream, err := session.Accept()
	if err != nil {
		return err
	}
	defer pingStream.Close()

	go drainPings(pingStream)

	dec := json.NewDecoder(dataStream)
	for {
		var tasks []swarm.TaskRow
		if err := dec.Decode(&tasks); err != nil {
			return err
		}
		onSnapshot(tasks)
	}
}

func drainPings(stream net.Conn) {
	r := bufio.NewReader(stream)
	for {
		if _, err := r.ReadString('\n'); err != nil {
			return
		}
	}
}
