package main

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/yamux"
	"github.com/spf13/cobra"

	"github.com/omc/kernel/internal/swarm"
)

var (
	watchListenAddr string
	watchInterval   time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Serve a live swarm task snapshot to attached clients (see also: attach)",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchListenAddr, "listen", "127.0.0.1:4777", "address to listen on")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "snapshot poll interval")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", watchListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", watchListenAddr, err)
	}
	defer ln.Close()
	fmt.Printf("watching swarm in %s, listening on %s\n", root, ln.Addr())

	snapshot := func() ([]swarm.TaskRow, error) {
		store, err := swarm.OpenExisting(root)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.ListTasks("")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go serveWatchConn(conn, snapshot)
	}
}

// serveWatchConn upgrades conn into a yamux session and runs the two-stream
// protocol until the session closes or a write fails.
func serveWatchConn(conn net.Conn, snapshot func() ([]swarm.TaskRow, error)) {
	defer conn.Close()
	session, err := yamux.Server(conn, nil)
	if err != nil {
		return
	}
	defer session.Close()
	serveWatchSession(session, snapshot)
}

// serveWatchSession opens a data stream (periodic JSON task snapshots) and a
// ping stream (liveness only) over session — two independent yamux streams
// multiplexed on the one underlying connection, so an attached client can
// tell "queue is idle" from "connection died" without a second socket.
// Factored out from serveWatchConn so tests can drive it over an in-memory
// session built on net.Pipe, without a real listener.
func serveWatchSession(session *yamux.Session, snapshot func() ([]swarm.TaskRow, error)) {
	dataStream, err := session.Open()
	if err != nil {
		return
	}
	defer dataStream.Close()
	pingStream, err := session.Open()
	if err != nil {
		return
	}
	defer pingStream.Close()

	enc := json.NewEncoder(dataStream)
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-session.CloseChan():
			return
		case <-ticker.C:
			tasks, err := snapshot()
			if err != nil {
				continue
			}
			if err := enc.Encode(tasks); err != nil {
				return
			}
			if _, err := pingStream.Write([]byte("PONG\n")); err != nil {
				return
			}
		}
	}
}
