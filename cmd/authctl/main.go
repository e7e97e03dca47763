// Command authctl drives the license authenticator from the shell and can
// serve the control API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"licensecli/internal/app"
	"licensecli/internal/auth"
	"licensecli/internal/config"
	"licensecli/internal/infrastructure"
)

const usage = `usage: authctl [-config FILE] <command> [args]

commands:
  verify [-remember] KEY   verify a license key and store the session
  autologin                restore the stored session (or use the saved key)
  status [-check]          print authentication status
  logout                   remove stored authentication
  reset-hwid               reset the device fingerprint (rate limited)
  serve                    run the control API
`

func main() {
	os.Exit(execute())
}

func execute() int {
	configFile := flag.String("config", "", "path to a YAML config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}
	if *configFile != "" {
		os.Setenv(config.ConfigFileEnv, *configFile)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		return 1
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		slog.Warn("Failed to initialize logger, using default", slog.String("error", err.Error()))
		logger = slog.Default()
	}
	defer infrastructure.CloseLogFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize application", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Close(shutdownCtx); err != nil {
			logger.Warn("Shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	return run(ctx, application, flag.Arg(0), flag.Args()[1:])
}

func run(ctx context.Context, a *app.Application, command string, args []string) int {
	switch command {
	case "verify":
		fs := flag.NewFlagSet("verify", flag.ExitOnError)
		remember := fs.Bool("remember", false, "save the key for auto-login")
		_ = fs.Parse(args)
		if fs.NArg() != 1 {
			fmt.Fprint(os.Stderr, usage)
			return 2
		}
		if *remember {
			if err := a.Auth.SetRememberKey(ctx, true); err != nil {
				return fail(a, "Failed to store remember preference", err)
			}
		}
		return await(ctx, func(cb auth.Callback) { a.Auth.VerifyLicenseAsync(fs.Arg(0), cb) })

	case "autologin":
		return await(ctx, a.Auth.AutoLoginAsync)

	case "status":
		fs := flag.NewFlagSet("status", flag.ExitOnError)
		check := fs.Bool("check", false, "confirm the stored session with the license server")
		_ = fs.Parse(args)

		out := struct {
			auth.Status
			ServerValid *bool `json:"server_valid,omitempty"`
		}{Status: a.Auth.Status(ctx)}
		if *check && out.HasStoredAuth {
			valid, err := a.Auth.QuickCheck(ctx)
			if err != nil {
				return fail(a, "Server check failed", err)
			}
			out.ServerValid = &valid
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return 0

	case "logout":
		if err := a.Auth.ClearStoredAuth(ctx); err != nil {
			return fail(a, "Logout failed", err)
		}
		fmt.Println("Logged out")
		return 0

	case "reset-hwid":
		if err := a.Auth.ResetDeviceFingerprint(ctx); err != nil {
			return fail(a, "Device reset failed", err)
		}
		fmt.Println("Device fingerprint reset")
		return 0

	case "serve":
		if err := a.Serve(ctx); err != nil {
			return fail(a, "Control API stopped", err)
		}
		return 0

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		return 2
	}
}

// await runs an async operation and blocks until its single outcome.
func await(ctx context.Context, start func(auth.Callback)) int {
	done := make(chan int, 1)
	start(auth.CallbackFuncs{
		Success: func(msg string) {
			fmt.Println(msg)
			done <- 0
		},
		Failure: func(msg string) {
			fmt.Fprintln(os.Stderr, msg)
			done <- 1
		},
	})

	select {
	case code := <-done:
		return code
	case <-ctx.Done():
		return 130
	}
}

func fail(a *app.Application, msg string, err error) int {
	a.Logger.Error(msg, slog.String("error", err.Error()))
	fmt.Fprintln(os.Stderr, err)
	return 1
}
