package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/prudhvinik1/flashsync/internal/config"
	"github.com/prudhvinik1/flashsync/internal/flashes"
	"github.com/prudhvinik1/flashsync/internal/identity"
	"github.com/prudhvinik1/flashsync/internal/localstore"
	"github.com/prudhvinik1/flashsync/internal/logging"
	"github.com/prudhvinik1/flashsync/internal/queue"
	"github.com/prudhvinik1/flashsync/internal/remote"
	"github.com/prudhvinik1/flashsync/internal/syncer"
)

type app struct {
	cfg      *config.ClientConfig
	out      io.Writer
	log      logging.Logger
	store    *localstore.Store
	queue    *queue.Queue
	identity *identity.Manager
	client   *remote.Client
	engine   *flashes.Engine
	coord    *syncer.Coordinator
	monitor  *syncer.Monitor
}

func newApp(ctx context.Context, cfg *config.ClientConfig, out io.Writer) (*app, error) {
	log := logging.New(os.Stderr, cfg.LogLevel, false)

	store, err := localstore.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	q := queue.New(store.DB())
	ident := identity.NewManager(store)

	id, err := ident.Current(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}

	engine, err := flashes.NewEngine(ctx, store, q, id.DeviceID, id.UserID, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	client := remote.NewClient(&http.Client{Timeout: cfg.HTTPTimeout}, cfg.ServerURL)
	coord := syncer.NewCoordinator(store, q, ident, client, syncer.Options{
		PushConcurrency: cfg.PushConcurrency,
		Logger:          log,
		OnMerged:        engine.Merged,
		OnReload:        engine.Reload,
		OnUser:          engine.SetUser,
		Flush:           engine.Flush,
	})
	if _, err := coord.Resume(ctx); err != nil {
		log.Warn(ctx, "failed to resume session", "error", err)
	}

	return &app{
		cfg:      cfg,
		out:      out,
		log:      log,
		store:    store,
		queue:    q,
		identity: ident,
		client:   client,
		engine:   engine,
		coord:    coord,
		monitor:  syncer.NewMonitor(client, coord, cfg.SyncInterval, log),
	}, nil
}

// close flushes pending writes before the store goes away.
func (a *app) close(ctx context.Context) {
	if err := a.engine.Close(ctx); err != nil {
		a.log.Error(ctx, "failed to flush pending writes", "error", err)
	}
	a.store.Close()
}

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"add":         {"add <content>", cmdAdd},
	"list":        {"list [-remote] [status...]", cmdList},
	"edit":        {"edit <id> <content>", cmdEdit},
	"surface":     {"surface <id>", lifecycle((*flashes.Engine).Surface)},
	"archive":     {"archive <id>", lifecycle((*flashes.Engine).Archive)},
	"delete":      {"delete <id>", lifecycle((*flashes.Engine).Delete)},
	"restore":     {"restore <id>", lifecycle((*flashes.Engine).Restore)},
	"purge":       {"purge <id>", cmdPurge},
	"sync":        {"sync", cmdSync},
	"register":    {"register [-password p] <email>", cmdRegister},
	"login":       {"login [-password p] <email>", cmdLogin},
	"logout":      {"logout [-all]", cmdLogout},
	"trash-clear": {"trash-clear", cmdTrashClear},
	"watch":       {"watch", cmdWatch},
	"whoami":      {"whoami", cmdWhoami},
}

var errUsage = errors.New("usage")

func usage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "usage: flash [-server url] [-home dir] <command> [args]")
	fmt.Fprintln(w, "commands:")
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("flash", flag.ContinueOnError)
	fs.SetOutput(out)
	server := fs.String("server", "", "server URL (overrides FLASH_SERVER_URL)")
	home := fs.String("home", "", "data directory (overrides FLASH_HOME)")
	fs.Usage = func() { usage(out) }
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		usage(out)
		return errUsage
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		usage(out)
		return fmt.Errorf("unknown command %q", rest[0])
	}

	cfg, err := config.LoadClientConfig()
	if err != nil {
		return err
	}
	if *server != "" {
		cfg.ServerURL = *server
	}
	if *home != "" {
		cfg.Home = *home
	}

	a, err := newApp(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	if err := cmd.run(ctx, a, rest[1:]); err != nil {
		if errors.Is(err, errUsage) {
			return fmt.Errorf("usage: flash %s", cmd.usage)
		}
		return err
	}
	return nil
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
