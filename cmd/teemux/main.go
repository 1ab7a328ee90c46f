package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"teemux/internal/appinfo"
	"teemux/internal/config"
	"teemux/internal/presence"
	"teemux/internal/runner"
	"teemux/internal/statuslog"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 {
		switch args[0] {
		case "serve":
			return report(runServe(args[1:]))
		case "shutdown":
			return report(runShutdown(args[1:]))
		case "version":
			fmt.Println(appinfo.Display())
			return 0
		case "help":
			printRootUsage(os.Stdout)
			return 0
		}
	}
	code, err := runWrap(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

func report(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	return 1
}

// settings holds the flags shared by every subcommand.
type settings struct {
	configPath   string
	name         string
	host         string
	port         int
	tail         int
	forceLeader  bool
	redisURL     string
	logFile      string
	clientBundle string
	debug        bool
}

func newFlagSet(name string, s *settings, usage func(io.Writer)) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() { usage(os.Stderr) }
	fs.StringVar(&s.configPath, "config", "", "config file (.json, .yaml)")
	fs.StringVarP(&s.name, "name", "n", "", "label for the wrapped process")
	fs.StringVar(&s.host, "host", "", "listen host when this process becomes the server")
	fs.IntVarP(&s.port, "port", "p", config.DefaultPort, "shared port")
	fs.IntVarP(&s.tail, "tail", "t", config.DefaultTail, "lines kept in the buffer")
	fs.BoolVar(&s.forceLeader, "force-leader", false, "shut down a running server and take its port")
	fs.StringVar(&s.redisURL, "redis-url", "", "publish source presence to redis")
	fs.StringVar(&s.logFile, "log-file", "", "append status lines to this file")
	fs.StringVar(&s.clientBundle, "client-bundle", "", "viewer script served to browsers")
	fs.BoolVar(&s.debug, "debug", false, "print debug status lines")
	return fs
}

// resolve layers flags over the environment over the config file.
func resolve(fs *pflag.FlagSet, s *settings) (config.Config, error) {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return config.Config{}, err
	}
	if fs.Changed("name") {
		cfg.Name = s.name
	}
	if fs.Changed("host") {
		cfg.Host = s.host
	}
	if fs.Changed("port") {
		cfg.Port = s.port
	}
	if fs.Changed("tail") {
		cfg.Tail = s.tail
	}
	if fs.Changed("force-leader") {
		cfg.ForceLeader = s.forceLeader
	}
	if fs.Changed("redis-url") {
		cfg.RedisURL = s.redisURL
	}
	if fs.Changed("log-file") {
		cfg.LogFile = s.logFile
	}
	if fs.Changed("client-bundle") {
		cfg.ClientBundle = s.clientBundle
	}
	if fs.Changed("debug") {
		cfg.Debug = s.debug
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// environment is what a resolved config turns into at startup.
type environment struct {
	log      *statuslog.Logger
	presence presence.Store
	bundle   []byte
}

func (e *environment) Close() {
	if e.presence != nil {
		_ = e.presence.Close()
	}
	_ = e.log.Close()
}

func setup(cfg config.Config) (*environment, error) {
	opts := statuslog.Options{
		Term:      os.Stderr,
		TermColor: statuslog.TermColorEnabled(os.Stderr),
		Debug:     cfg.Debug,
	}
	if strings.TrimSpace(cfg.LogFile) != "" {
		f, err := statuslog.OpenFile(cfg.LogFile)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		opts.File = f
	}
	env := &environment{log: statuslog.New(opts), presence: presence.NoopStore{}}

	if strings.TrimSpace(cfg.ClientBundle) != "" {
		data, err := os.ReadFile(cfg.ClientBundle)
		if err != nil {
			env.Close()
			return nil, fmt.Errorf("read client bundle: %w", err)
		}
		env.bundle = data
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		store, err := presence.NewRedisStore(cfg.RedisURL)
		if err != nil {
			env.log.Logf(statuslog.KindWarn, "presence disabled: %v", err)
		} else {
			env.presence = store
		}
	}
	return env, nil
}

func runWrap(args []string) (int, error) {
	var s settings
	fs := newFlagSet("teemux", &s, printRootUsage)
	fs.SetInterspersed(false)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0, nil
		}
		return 2, err
	}
	command := fs.Args()
	if len(command) == 0 {
		printRootUsage(os.Stderr)
		return 2, errors.New("no command specified")
	}
	cfg, err := resolve(fs, &s)
	if err != nil {
		return 1, err
	}
	env, err := setup(cfg)
	if err != nil {
		return 1, err
	}
	defer env.Close()

	return runner.Run(context.Background(), runner.Options{
		Config:       cfg,
		Command:      command,
		Presence:     env.presence,
		ClientBundle: env.bundle,
		Logf:         env.log.Func(statuslog.KindInfo),
		Warnf:        env.log.Func(statuslog.KindWarn),
	})
}

func runServe(args []string) error {
	var s settings
	fs := newFlagSet("serve", &s, printServeUsage)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := resolve(fs, &s)
	if err != nil {
		return err
	}
	env, err := setup(cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runner.Serve(ctx, cfg, env.presence, env.bundle, env.log.Func(statuslog.KindInfo))
}

func runShutdown(args []string) error {
	var s settings
	fs := newFlagSet("shutdown", &s, printShutdownUsage)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := resolve(fs, &s)
	if err != nil {
		return err
	}
	ctx := context.Background()
	addr := cfg.DialAddr()
	if !runner.Probe(ctx, nil, addr, runner.DefaultProbeTimeout) {
		return fmt.Errorf("no server answering on %s", addr)
	}
	return runner.RequestShutdown(ctx, nil, addr)
}
