package main

import (
	"os"
	"strings"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"

	"wheelbridge/internal/cmd"
	"wheelbridge/internal/configpaths"
	"wheelbridge/internal/log"
)

// CLI is the top-level Kong command tree: Serve (the default) runs the
// bridge itself, Config scaffolds a configuration file.
type CLI struct {
	Serve  cmd.Serve         `cmd:"" default:"withargs" help:"Run the wheelbridge session loop"`
	Config cmd.ConfigCommand `cmd:"" help:"Configuration file management"`
}

func main() {
	userCfg := findUserConfig(os.Args[1:])
	jsonPaths, yamlPaths, tomlPaths := configpaths.ConfigCandidatePaths(userCfg)

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("wheelbridge"),
		kong.Description("Phone gyro/wheel telemetry to virtual gamepad bridge"),
		kong.UsageOnError(),
		kong.Configuration(kong.JSON, jsonPaths...),
		kong.Configuration(kongyaml.Loader, yamlPaths...),
		kong.Configuration(kongtoml.Loader, tomlPaths...),
	)

	logger, closers, err := log.Setup(cli.Serve.Log.Level, cli.Serve.Log.File)
	if err != nil {
		os.Stderr.WriteString("failed to set up logging: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	var rawLogger log.RawLogger
	if cli.Serve.Log.RawFile != "" {
		f, err := os.OpenFile(cli.Serve.Log.RawFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Error("failed to open raw log file", "file", cli.Serve.Log.RawFile, "error", err)
			rawLogger = log.NewRaw(nil)
		} else {
			rawLogger = log.NewRaw(f)
			closers = append(closers, f)
		}
	} else if cli.Serve.Log.Level == "trace" {
		rawLogger = log.NewRaw(os.Stdout)
	} else {
		rawLogger = log.NewRaw(nil)
	}

	ctx.Bind(logger)
	ctx.BindTo(rawLogger, (*log.RawLogger)(nil))

	err = ctx.Run()
	ctx.FatalIfErrorf(err)
}

func findUserConfig(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "--config=") {
			return a[len("--config="):]
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	if v := os.Getenv("WHEELBRIDGE_CONFIG"); v != "" {
		return v
	}
	return ""
}
