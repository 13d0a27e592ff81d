package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/dynffi/shell"
)

var rootCmd = &cobra.Command{
	Use:   "ffidl",
	Short: "Call native functions from scripts",
	Long: `ffidl binds functions of shared libraries (or wasm modules) to script
commands, with types and signatures described at run time.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(replCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(typesCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default ./"+defaultConfigName+" when present)")
	flags.String("engine", "", "call engine (wazero|libffi)")
	flags.Uint32("memory-limit-pages", 0, "wasm memory limit in 64KiB pages (wazero engine)")
	flags.StringSlice("preload", nil, "libraries to load before running")
	flags.String("log-level", "", "log level (debug|info|warn|error)")
	flags.Bool("log-dev", false, "human-readable development logging")
	flags.String("color", "auto", "colorize output (auto|on|off)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config, applies flag overrides and installs the logger.
func setup(cmd *cobra.Command) (config, *zap.Logger, error) {
	flags := cmd.Flags()

	mode, _ := flags.GetString("color")
	if err := setColor(mode); err != nil {
		return config{}, nil, err
	}

	explicit, _ := flags.GetString("config")
	wd, err := os.Getwd()
	if err != nil {
		return config{}, nil, err
	}
	path, err := findConfig(explicit, wd)
	if err != nil {
		return config{}, nil, err
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return config{}, nil, err
	}

	if flags.Changed("engine") {
		cfg.Engine.Name, _ = flags.GetString("engine")
	}
	if flags.Changed("memory-limit-pages") {
		cfg.Engine.MemoryLimitPages, _ = flags.GetUint32("memory-limit-pages")
	}
	if flags.Changed("preload") {
		libs, _ := flags.GetStringSlice("preload")
		cfg.Preload.Libraries = append(cfg.Preload.Libraries, libs...)
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-dev") {
		cfg.Log.Development, _ = flags.GetBool("log-dev")
	}
	if err := cfg.validate(); err != nil {
		return config{}, nil, err
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		return config{}, nil, fmt.Errorf("logger: %w", err)
	}
	installLogger(log)
	return cfg, log, nil
}

func setColor(mode string) error {
	switch mode {
	case "auto":
		color.NoColor = !isTerminal(os.Stderr)
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		return fmt.Errorf("invalid --color %q (want auto, on or off)", mode)
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

var errorLabel = color.New(color.FgRed, color.Bold)

func printError(w io.Writer, err error) {
	errorLabel.Fprint(w, "error:")
	fmt.Fprintf(w, " %s\n", shell.Message(err))
}
