// gatekeeper runs the auth server and offers a small client for it.
//
//	gatekeeper serve                start HTTP, job workers and metrics
//	gatekeeper grant <email>        set the privileged flag
//	gatekeeper revoke <email>       clear the privileged flag
//	gatekeeper disable <email>      block sign in, refresh and admin access
//	gatekeeper enable <email>       lift a disable
//	gatekeeper signup <email>       create an account and sign in
//	gatekeeper signin <email>       sign in and cache the session
//	gatekeeper signout              end the cached session
//	gatekeeper whoami               show the signed in principal
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/goliatone/go-gatekeeper/config"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type command func(ctx context.Context, env *cliEnv, args []string) error

var commands = map[string]command{
	"serve":   serveCmd,
	"grant":   privilegeCmd(true),
	"revoke":  privilegeCmd(false),
	"disable": statusCmd(true),
	"enable":  statusCmd(false),
	"signup":  signUpCmd,
	"signin":  signInCmd,
	"signout": signOutCmd,
	"whoami":  whoAmICmd,
}

type cliEnv struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
}

func run(args []string, out io.Writer) error {
	var (
		configPath string
		addr       string
		serverURL  string
		vaultDir   string
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("gatekeeper", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file (default: $"+config.EnvConfigPath+")")
	flagSet.StringVar(&addr, "addr", "", "HTTP listen address for serve")
	flagSet.StringVar(&serverURL, "server", "", "server base URL for client commands")
	flagSet.StringVar(&vaultDir, "vault", "", "directory of the encrypted credential vault")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(out, flagSet)
			return nil
		}
		return err
	}

	if help, _ := flagSet.GetBool("help"); help || flagSet.NArg() == 0 {
		printHelp(out, flagSet)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.HTTP.Addr = addr
	}
	if serverURL != "" {
		cfg.HTTP.BaseURL = serverURL
	}
	if vaultDir != "" {
		cfg.Keychain.Dir = vaultDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	name := flagSet.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		printHelp(out, flagSet)
		return fmt.Errorf("unknown command %q", name)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := &cliEnv{
		cfg:    cfg,
		logger: newLogger(cfg.Log),
		out:    out,
	}
	return cmd(ctx, env, flagSet.Args()[1:])
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func printHelp(out io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintln(out, "usage: gatekeeper [flags] <serve|grant|revoke|disable|enable|signup|signin|signout|whoami> [email]")
	fmt.Fprintln(out)
	fmt.Fprint(out, flagSet.FlagUsages())
}
