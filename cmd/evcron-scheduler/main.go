// Command evcron-scheduler is the privileged scheduler daemon: it
// loads allow-listed users' installed snapshots, matches events
// against wall-clock minutes, and dispatches matched events as jobs
// across a bounded worker pool.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/evcron/evcron/config"
	"github.com/evcron/evcron/email"
	"github.com/evcron/evcron/internal/audit"
	"github.com/evcron/evcron/internal/clock"
	"github.com/evcron/evcron/internal/event"
	"github.com/evcron/evcron/internal/hostid"
	"github.com/evcron/evcron/internal/job"
	"github.com/evcron/evcron/internal/lifecycle"
	"github.com/evcron/evcron/internal/ondemand"
	"github.com/evcron/evcron/internal/ratelimit"
	"github.com/evcron/evcron/internal/snapshot"
	"github.com/evcron/evcron/internal/spawn"
	"github.com/evcron/evcron/internal/subst"
	"github.com/evcron/evcron/internal/trackable"
	"github.com/evcron/evcron/logger"
	"github.com/evcron/evcron/scheduler"
)

func main() {
	var (
		configPath   = pflag.String("config", "/etc/hcron/hcron.conf", "scheduler config file")
		allowPath    = pflag.String("allow", "/etc/hcron/allow", "allow-listed username file")
		signalDir    = pflag.String("signal-dir", "/var/hcron/signal", "reload-request signal directory")
		ondemandDir  = pflag.String("ondemand-dir", "/var/hcron/ondemand", "on-demand trigger spool directory")
		treesDir     = pflag.String("trees-dir", "/var/hcron/trees", "directory of installed per-user snapshot files")
		dumpBase     = pflag.String("dump-base", "/var/hcron/dumps", "base directory for SIGUSR1 state dumps")
		pidFilePath  = pflag.String("pid-file", "/var/run/hcron-scheduler.pid", "pid file path")
		auditDBPath  = pflag.String("audit-db", "/var/hcron/audit.db", "job-completion audit journal")
		logHome      = pflag.String("log-home", "/var/hcron", "base directory for relative log_path values")
		workers      = pflag.Int("workers", 8, "worker pool size")
		queueSize    = pflag.Int("queue-size", 1024, "in-memory job queue capacity")
		immediate    = pflag.Bool("immediate", false, "run one tick immediately at startup")
		foreground   = pflag.Bool("foreground", false, "do not daemonize; run attached to the terminal")
		simulateMail = pflag.Bool("simulate-email", false, "log notifications instead of sending them")
		notifyPerSec = pflag.Int("notify-rate", 10, "maximum notification emails sent per second (0 = unlimited)")
	)
	pflag.Parse()

	if !*foreground {
		if err := lifecycle.Daemonize(); err != nil {
			fmt.Fprintln(os.Stderr, "daemonize:", err)
			os.Exit(1)
		}
	}

	cfgFile := trackable.NewConfigFile(*configPath)
	if err := cfgFile.Reload(); err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	cfg := cfgFile.Get()

	lg, err := logger.New(logger.Destination{UseSyslog: cfg.UseSyslog, LogPath: cfg.LogPath, LogHome: *logHome})
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	lg.Start(os.Getpid())
	lg.LoadConfig()
	defer lg.Exit("normal shutdown")

	identity, err := hostid.Resolve()
	if err != nil {
		lg.Status("resolve host identity: " + err.Error())
		os.Exit(1)
	}

	pf := lifecycle.NewPidFile(*pidFilePath)
	if _, stale, err := pf.Create(); err != nil {
		lg.Status(err.Error())
		os.Exit(1)
	} else if stale {
		lg.Status("removed stale pidfile")
	}
	defer pf.Remove()

	allowFile := trackable.NewAllowFile(*allowPath)
	if err := allowFile.Reload(); err != nil {
		lg.Status("load allow file: " + err.Error())
	}
	sigDir := trackable.NewSignalDir(*signalDir)
	_ = sigDir.Mark()

	seed := func(username string) subst.Vars {
		return subst.Vars{
			"when_year":       "*",
			"template_name":   "",
			"HCRON_HOST_NAME": identity.Name,
		}
	}
	loadTree := func(username string) (snapshot.Tree, error) {
		f, err := os.Open(filepath.Join(*treesDir, username))
		if err != nil {
			return nil, err
		}
		defer f.Close()
		opts := snapshot.DefaultOptions()
		opts.MaxSymlinks = cfg.MaxSymlinks
		opts.MaxSize = int64(cfg.MaxHcronTreeSnapshotSize)
		if cfg.NamesToIgnoreRegexp != "" {
			if re, err := regexp.Compile(cfg.NamesToIgnoreRegexp); err == nil {
				opts.IgnoreRegexp = re
			}
		}
		return snapshot.Read(f, opts)
	}
	registry := event.NewRegistry(loadTree, seed, cfg.MaxEventsPerUser)

	users := make([]string, 0, len(allowFile.Users()))
	for u := range allowFile.Users() {
		users = append(users, u)
	}
	lg.LoadAllow(len(users))
	if err := registry.Load(users); err != nil {
		lg.Status("initial registry load: " + err.Error())
	}

	journal, err := audit.Open(*auditDBPath)
	if err != nil {
		lg.Status("open audit journal: " + err.Error())
	} else {
		defer journal.Close()
	}

	queue := scheduler.NewQueue(*queueSize)
	notifier := email.NewNotifier(cfg.SMTPServer, "hcron", identity.Name, *simulateMail)
	notifier.Limiter = ratelimit.New(*notifyPerSec, 0)

	activator := &scheduler.Activator{
		Spawn:    spawn.NewController(),
		Notifier: notifier,
		Logger:   lg,
		Clock:    clock.Real,
		SpawnOpts: spawn.Options{
			AllowLocalhost:  cfg.AllowLocalhost,
			AllowRootEvents: cfg.AllowRootEvents,
			RemoteShellType: cfg.RemoteShellType,
			RemoteShellExec: cfg.RemoteShellExec,
			LocalHostNames:  spawn.LocalHostNames(keys(identity.Aliases)...),
		},
		CommandSpawnTimeout:   time.Duration(cfg.CommandSpawnTimeout) * time.Second,
		ErrorOnEmptyCommand:   cfg.ErrorOnEmptyCommand,
		MaxEmailNotifications: cfg.MaxEmailNotifications,
	}

	generator := job.NewGenerator()
	pool := scheduler.NewPool(queue, registry, activator, lg, generator, *workers, cfg.MaxChainEvents, cfg.MaxNextEvents)
	pool.Journal = journal

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Run(ctx)

	intake := &ondemand.Intake{
		Dir: *ondemandDir, FQDN: identity.Name, Registry: registry,
		Queue: queue, Logger: lg, Generator: generator, Clock: clock.Real,
	}
	go intake.Run(ctx)

	loop := &scheduler.Loop{
		Clock: clock.Real, Registry: registry, Queue: queue, Logger: lg,
		Generator: generator, Config: cfgFile, Allow: allowFile, Signal: sigDir,
		Immediate: *immediate,
		Reexec: func() error { return reexecWithImmediate() },
	}

	sig := lifecycle.NewController()
	sig.Install()
	defer sig.Stop()

	go func() {
		for {
			select {
			case <-sig.Reload:
				lg.Status("SIGHUP: reloading all allow-listed users")
				if err := registry.Load(registry.Users()); err != nil {
					lg.Status("reload all: " + err.Error())
				}
			case <-sig.Dump:
				dumpState(lg, *dumpBase, cfg, allowFile, registry, journal)
			case <-sig.Quit:
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := loop.Run(ctx); err != nil {
		lg.Status("scheduler loop exited: " + err.Error())
	}
	cancel()
	pool.Wait()
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func dumpState(lg *logger.Logger, base string, cfg config.Config, allow *trackable.AllowFile, registry *event.Registry, journal *audit.Journal) {
	dir, err := os.MkdirTemp(base, "dump-")
	if err != nil {
		lg.Status("create dump dir: " + err.Error())
		return
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		lg.Status("chmod dump dir: " + err.Error())
	}

	writeLines(filepath.Join(dir, "config"), []string{fmt.Sprintf("%+v", cfg)})

	users := make([]string, 0, len(allow.Users()))
	for u := range allow.Users() {
		users = append(users, u)
	}
	writeLines(filepath.Join(dir, "allow"), users)

	for _, u := range registry.Users() {
		writeLines(filepath.Join(dir, "events-"+u), registry.DumpLines(u))
	}

	if journal != nil {
		if err := journal.Dump(filepath.Join(dir, "audit")); err != nil {
			lg.Status("dump audit journal: " + err.Error())
		}
	}
}

func writeLines(path string, lines []string) {
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	_ = os.WriteFile(path, []byte(content), 0o600)
}

// reexecWithImmediate replaces the running process image with a fresh
// invocation of the same binary and arguments, appending --immediate so
// the new process performs one tick right away instead of waiting for
// the next minute boundary.
func reexecWithImmediate() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	args := append([]string{exe}, os.Args[1:]...)
	hasImmediate := false
	for _, a := range args {
		if a == "--immediate" {
			hasImmediate = true
			break
		}
	}
	if !hasImmediate {
		args = append(args, "--immediate")
	}
	return syscall.Exec(exe, args, os.Environ())
}
