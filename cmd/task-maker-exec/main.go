// Command task-maker-exec is the CLI surface described in spec.md §6: it
// runs either as a server (accepting client and worker connections), or
// as a worker attaching to a running server.
package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/olimpiadi-informatica/task-maker-go/cache"
	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/executor"
	"github.com/olimpiadi-informatica/task-maker-go/filestore"
	"github.com/olimpiadi-informatica/task-maker-go/proto"
	"github.com/olimpiadi-informatica/task-maker-go/worker"
	"github.com/olimpiadi-informatica/task-maker-go/workerconfig"
)

// Environment variables from spec.md §6 "A single variable pointing at
// the sandbox helper binary path; a single variable selecting the
// temporary storage root".
const (
	envHelperPath = "TASK_MAKER_SANDBOX_HELPER"
	envStoreDir   = "TASK_MAKER_STORE_DIR"
)

func main() {
	app := &cli.App{
		Name:                   "task-maker-exec",
		Usage:                  "distributed DAG execution server and worker",
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "server",
				Usage: "run in server mode: HOST:CLIENT_PORT HOST:WORKER_PORT",
			},
			&cli.StringFlag{
				Name:  "worker",
				Usage: "attach a worker to HOST:PORT",
			},
			&cli.StringFlag{
				Name:  "store-dir",
				Usage: "content-addressed store directory",
				Value: os.Getenv(envStoreDir),
			},
			&cli.Int64Flag{
				Name:  "max-cache",
				Usage: "store size (bytes) at which eviction begins",
				Value: 4 << 30,
			},
			&cli.Int64Flag{
				Name:  "min-cache",
				Usage: "store size (bytes) eviction stops at",
				Value: 2 << 30,
			},
			&cli.IntFlag{
				Name:  "num-cores",
				Usage: "cores this worker reports to the scheduler (0 = runtime.NumCPU)",
			},
			&cli.StringFlag{
				Name:  "no-cache",
				Usage: "disable caching entirely, or for a comma-separated list of tags",
			},
			&cli.StringFlag{
				Name:  "worker-list",
				Usage: "YAML file of statically configured workers to dial on startup",
			},
			&cli.BoolFlag{
				Name:  "single-client",
				Usage: "shut the server down once the first client's DAG finishes",
			},
			&cli.StringFlag{
				Name:  "helper-path",
				Usage: "path to the sandboxhelper binary",
				Value: os.Getenv(envHelperPath),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "fuzz",
				Usage:  "submit randomized DAGs against a running server and check invariants",
				Action: fuzzCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "server client-port address to dial", Required: true},
					&cli.IntFlag{Name: "rounds", Usage: "number of randomized DAGs to submit", Value: 50},
					&cli.Int64Flag{Name: "seed", Usage: "PRNG seed (0 = derive from time)"},
					&cli.BoolFlag{Name: "keep-sandboxes", Usage: "ask the server to keep every generated DAG's sandbox directories"},
				},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "task-maker-exec: %s\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	storeDir := c.String("store-dir")
	if storeDir == "" {
		return fmt.Errorf("--store-dir (or %s) is required", envStoreDir)
	}
	store, err := filestore.New(storeDir, c.Int64("max-cache"), c.Int64("min-cache"), filestore.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	serverAddrs := c.StringSlice("server")
	workerAddr := c.String("worker")

	switch {
	case len(serverAddrs) > 0:
		if len(serverAddrs) != 2 {
			return fmt.Errorf("--server takes exactly two addresses: HOST:CLIENT_PORT HOST:WORKER_PORT")
		}
		return runServer(c, logger, store, serverAddrs[0], serverAddrs[1])
	case workerAddr != "":
		return runWorker(c, logger, store, workerAddr)
	default:
		return cli.ShowAppHelp(c)
	}
}

// cacheModeFromFlag interprets --no-cache: absent means no server-side
// override (clients' own Config.CacheMode applies), present with no value
// disables caching entirely, present with a value excludes just those tags.
func cacheModeFromFlag(noCache string) dag.CacheMode {
	if noCache == "" {
		return dag.CacheMode{Mode: dag.CacheNothing}
	}
	tags := make(map[string]struct{})
	for _, t := range strings.Split(noCache, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags[t] = struct{}{}
		}
	}
	return dag.CacheMode{Mode: dag.CacheExceptTags, ExceptTags: tags}
}

func runServer(c *cli.Context, logger *log.Logger, store *filestore.Store, clientAddr, workerAddr string) error {
	exec := executor.New(store, cache.New(), logger, c.Bool("single-client"))
	if c.IsSet("no-cache") {
		mode := cacheModeFromFlag(c.String("no-cache"))
		exec.CacheOverride = &mode
	}

	clientLn, err := net.Listen("tcp", clientAddr)
	if err != nil {
		return fmt.Errorf("listening for clients on %s: %w", clientAddr, err)
	}
	defer clientLn.Close()

	workerLn, err := net.Listen("tcp", workerAddr)
	if err != nil {
		return fmt.Errorf("listening for workers on %s: %w", workerAddr, err)
	}
	defer workerLn.Close()

	logger.Printf("listening for clients on %s, workers on %s", clientAddr, workerAddr)

	go acceptLoop(logger, clientLn, func(conn net.Conn) {
		if err := exec.AcceptClient(conn); err != nil {
			logger.Printf("client %s: %s", conn.RemoteAddr(), err)
		}
	})
	go acceptLoop(logger, workerLn, func(conn net.Conn) {
		if err := exec.AcceptWorker(conn); err != nil {
			logger.Printf("worker %s: %s", conn.RemoteAddr(), err)
		}
	})

	if listPath := c.String("worker-list"); listPath != "" {
		list, err := workerconfig.Load(listPath)
		if err != nil {
			return fmt.Errorf("loading worker list: %w", err)
		}
		for _, w := range list.Workers {
			go dialStaticWorker(logger, exec, w)
		}
	}

	<-exec.Done()
	return nil
}

// dialStaticWorker repeatedly dials a statically configured worker's
// listener (workerconfig.Worker.Address is the reverse direction from the
// default --worker attach flow: here the server dials out), reconnecting
// after each disconnect. It stops at the first failed dial or handshake.
func dialStaticWorker(logger *log.Logger, exec *executor.Executor, w workerconfig.Worker) {
	for {
		conn, err := net.Dial("tcp", w.Address)
		if err != nil {
			logger.Printf("static worker %s: dial: %s", w.Address, err)
			return
		}
		if err := proto.Handshake(conn, proto.RoleWorker); err != nil {
			logger.Printf("static worker %s: handshake: %s", w.Address, err)
			conn.Close()
			return
		}
		if err := exec.AcceptWorker(conn); err != nil {
			logger.Printf("static worker %s: %s", w.Address, err)
		}
	}
}

func acceptLoop(logger *log.Logger, ln net.Listener, handle func(net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Printf("accept: %s", err)
			return
		}
		go handle(conn)
	}
}

func runWorker(c *cli.Context, logger *log.Logger, store *filestore.Store, addr string) error {
	helperPath := c.String("helper-path")
	if helperPath == "" {
		return fmt.Errorf("--helper-path (or %s) is required", envHelperPath)
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing server %s: %w", addr, err)
	}
	defer conn.Close()

	if err := proto.Handshake(conn, proto.RoleWorker); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	codec := proto.NewCodec(conn)
	defer codec.Close()

	numCores := c.Int("num-cores")
	if numCores <= 0 {
		numCores = runtime.NumCPU()
	}

	w := &worker.Worker{
		ID:         proto.NewWorkerId(),
		NumCores:   numCores,
		HelperPath: helperPath,
		Store:      store,
		BaseDir:    filepath.Join(c.String("store-dir"), "sandboxes"),
		Logger:     logger,
	}
	return w.Serve(codec)
}
