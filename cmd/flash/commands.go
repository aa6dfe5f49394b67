package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prudhvinik1/flashsync/internal/flashes"
	"github.com/prudhvinik1/flashsync/internal/models"
	"github.com/prudhvinik1/flashsync/internal/syncer"
)

func cmdAdd(ctx context.Context, a *app, args []string) error {
	content := joinArgs(args)
	if content == "" {
		return errUsage
	}
	f, task, err := a.engine.Create(content)
	if err != nil {
		return err
	}
	if err := task.Wait(ctx); err != nil {
		return fmt.Errorf("saved in memory only: %w", err)
	}
	fmt.Fprintln(a.out, f.ID)
	return nil
}

func cmdList(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fromServer := fs.Bool("remote", false, "list this device's flashes as the server has them")
	if err := fs.Parse(args); err != nil {
		return err
	}

	statuses := make([]models.Status, 0, fs.NArg())
	for _, arg := range fs.Args() {
		s := models.Status(arg)
		if !s.Valid() {
			return fmt.Errorf("unknown status %q", arg)
		}
		statuses = append(statuses, s)
	}
	if len(statuses) == 0 {
		statuses = []models.Status{models.StatusIncubating, models.StatusSurfaced, models.StatusArchived}
	}

	if *fromServer {
		return listRemote(ctx, a, statuses)
	}
	for _, f := range a.engine.List(statuses...) {
		mark := "*"
		if f.SyncedAt != nil {
			mark = " "
		}
		fmt.Fprintf(a.out, "%s %s %-10s %s\n", mark, f.ID, f.Status, f.Content)
	}
	return nil
}

func listRemote(ctx context.Context, a *app, statuses []models.Status) error {
	deviceID, err := a.identity.GetOrCreateDeviceID(ctx)
	if err != nil {
		return err
	}
	server, err := a.client.ListByDevice(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	want := make(map[models.Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	for _, f := range server {
		if want[f.Status] {
			fmt.Fprintf(a.out, "  %s %-10s %s\n", f.ID, f.Status, f.Content)
		}
	}
	return nil
}

func cmdEdit(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	_, task, err := a.engine.Edit(args[0], joinArgs(args[1:]))
	if err != nil {
		return err
	}
	return task.Wait(ctx)
}

func lifecycle(op func(e *flashes.Engine, id string) (models.Flash, *flashes.Task, error)) func(context.Context, *app, []string) error {
	return func(ctx context.Context, a *app, args []string) error {
		if len(args) != 1 {
			return errUsage
		}
		f, task, err := op(a.engine, args[0])
		if err != nil {
			return err
		}
		if err := task.Wait(ctx); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s %s\n", f.ID, f.Status)
		return nil
	}
}

func cmdPurge(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	task, err := a.engine.Purge(args[0])
	if err != nil {
		return err
	}
	return task.Wait(ctx)
}

func cmdSync(ctx context.Context, a *app, _ []string) error {
	if !a.monitor.Tick(ctx) {
		pending, err := a.queue.Len(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "offline, %d mutations queued\n", pending)
		return nil
	}
	pending, err := a.queue.Len(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "synced, %d mutations pending\n", pending)
	return nil
}

// credentialsFlags parses "[-password p] <email>".
func credentialsFlags(name string, args []string) (email, password string, err error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	pw := fs.String("password", "", "account password (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}
	if fs.NArg() != 1 {
		return "", "", errUsage
	}
	password = *pw
	if password == "" {
		password = os.Getenv("FLASH_PASSWORD")
	}
	return fs.Arg(0), password, nil
}

func (a *app) password(given string) (string, error) {
	if given != "" {
		return given, nil
	}
	pw, err := getPassword(a.out)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

func cmdRegister(ctx context.Context, a *app, args []string) error {
	email, password, err := credentialsFlags("register", args)
	if err != nil {
		return err
	}
	if password, err = a.password(password); err != nil {
		return err
	}
	userID, err := a.client.Register(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "registered %s (%s)\n", email, userID)
	return nil
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	email, password, err := credentialsFlags("login", args)
	if err != nil {
		return err
	}
	if password, err = a.password(password); err != nil {
		return err
	}
	deviceID, err := a.identity.GetOrCreateDeviceID(ctx)
	if err != nil {
		return err
	}

	resp, err := a.client.Login(ctx, email, password, deviceID)
	if err != nil {
		return err
	}
	creds := models.Credentials{UserID: resp.UserID, Token: resp.Token, ExpiresAt: resp.ExpiresAt}
	if err := a.coord.SignIn(ctx, creds); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "signed in as %s\n", email)
	return nil
}

func cmdLogout(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("logout", flag.ContinueOnError)
	everywhere := fs.Bool("all", false, "also revoke the account's sessions on every other device")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *everywhere {
		if err := a.client.LogoutAll(ctx); err != nil {
			return fmt.Errorf("failed to sign out everywhere: %w", err)
		}
	}
	if err := a.coord.SignOut(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "signed out")
	return nil
}

func cmdTrashClear(ctx context.Context, a *app, _ []string) error {
	n, err := a.coord.ClearTrash(ctx)
	if errors.Is(err, syncer.ErrNoUser) {
		return errors.New("sign in to clear the trash")
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "purged %d flashes\n", n)
	return nil
}

// cmdWatch keeps syncing in the foreground and prints projection changes.
func cmdWatch(ctx context.Context, a *app, _ []string) error {
	events, cancel := a.engine.Subscribe()
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.monitor.Run(ctx) })
	g.Go(func() error { return a.coord.Run(ctx, a.cfg.SyncInterval) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				if ev.Kind == flashes.EventReloaded {
					fmt.Fprintln(a.out, "reloaded")
					continue
				}
				fmt.Fprintf(a.out, "%s %s %s %s\n", ev.Kind, ev.Flash.ID, ev.Flash.Status, ev.Flash.Content)
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func cmdWhoami(ctx context.Context, a *app, _ []string) error {
	id, err := a.identity.Current(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "device: %s\n", id.DeviceID)
	if id.UserID == nil {
		fmt.Fprintln(a.out, "user:   (anonymous)")
		return nil
	}
	fmt.Fprintf(a.out, "user:   %s\n", *id.UserID)
	if me, err := a.client.Me(ctx); err == nil {
		fmt.Fprintf(a.out, "email:  %s\n", me.Email)
	} else {
		a.log.Debug(ctx, "account lookup failed", "error", err)
	}
	if id.LinkedAt != nil {
		fmt.Fprintf(a.out, "linked: %s\n", id.LinkedAt.Format(time.RFC3339))
	}
	return nil
}
