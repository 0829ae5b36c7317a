// Package cmd contains all CLI commands for sentembed.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hargabyte/sentembed/internal/protocol"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Version is the current version of sentembed
var Version = "0.1.0"

// rootOptions holds the global flags
type rootOptions struct {
	verbose    bool
	configPath string
	forAgents  bool
	batch      bool
	mode       protocol.Mode
}

// newRootCmd builds the command tree. The root command itself is the
// embedding process; subcommands only manage the model cache and config.
// mode is decided from the raw arguments before cobra sees them.
func newRootCmd(mode protocol.Mode) *cobra.Command {
	opts := &rootOptions{mode: mode}

	rootCmd := &cobra.Command{
		Use:   "sentembed",
		Short: "Embed text with a local sentence-transformer over stdio",
		Long: `sentembed loads the all-MiniLM-L6-v2 sentence-embedding model, reads all of
standard input, and writes one JSON line with the embedding to standard output.

It is meant to be spawned by another process that needs vectors: pipe the
request in, read one line out, check the exit code.

Modes:
  single (default)  stdin is raw text, trimmed of surrounding whitespace
                    stdout: {"embedding": [...384 floats...]}
  --batch           stdin is {"texts": ["...", ...]} ("texts" may be omitted)
                    stdout: {"embeddings": [[...], ...]} in input order
                    only recognised as the first argument

Other arguments and unknown flags are ignored.

Nothing is written to stdout unless the whole result is ready. Failures exit
non-zero with a diagnostic on stderr:
  1  usage error
  2  invalid configuration
  3  model could not be loaded
  4  input could not be read or is not valid JSON
  5  inference failed
  6  output could not be written
  130  interrupted by SIGINT or SIGTERM

Examples:
  echo "hello world" | sentembed
  echo '{"texts": ["a", "b"]}' | sentembed --batch
  sentembed model pull                 # prefetch weights before first use`,
		Version:       Version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		// Unrecognised flags fall through to single mode, like extra arguments
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.forAgents {
				return outputAgentHelp(cmd.OutOrStdout(), cmd)
			}
			return runEmbed(cmd, opts, opts.mode)
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging on stderr")
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file (default: .sentembed/config.yaml)")
	// Registered for help and discovery only; it counts when it is the first argument
	rootCmd.Flags().BoolVar(&opts.batch, protocol.BatchFlag, false, `Read {"texts": [...]} and embed every text in one call (must be the first argument)`)
	rootCmd.Flags().BoolVar(&opts.forAgents, "for-agents", false, "Output machine-readable capability discovery JSON")

	// Intercept help so --help --for-agents also yields JSON
	originalHelp := rootCmd.HelpFunc()
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if opts.forAgents {
			outputAgentHelp(cmd.OutOrStdout(), cmd)
			return
		}
		originalHelp(cmd, args)
	})

	rootCmd.AddCommand(newModelCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))

	return rootCmd
}

// Execute runs the command tree against the real process streams and exits
// with the code for the outcome. This is called by main.main().
func Execute() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go exitOnSignal(sigs, os.Stderr, os.Exit)

	os.Exit(Run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// exitOnSignal terminates the process on the first signal. Reading stdin,
// downloading weights and inference block without observing a context, so a
// killed process must not wait for them. Nothing reaches stdout before the
// final write, so exiting here never leaves a partial payload.
func exitOnSignal(sigs <-chan os.Signal, errOut io.Writer, exit func(int)) {
	sig := <-sigs
	fmt.Fprintf(errOut, "Error: interrupted by %v\n", sig)
	exit(ExitInterrupted)
}

// Run executes one invocation and returns its exit code. Errors are
// reported once on errOut.
func Run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	rootCmd := newRootCmd(protocol.SelectMode(args))
	rootCmd.SetArgs(args)
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return ExitCode(err)
	}
	return ExitOK
}

// CommandInfo represents a command for agent discovery
type CommandInfo struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Usage       string        `json:"usage"`
	Flags       []FlagInfo    `json:"flags,omitempty"`
	Subcommands []CommandInfo `json:"subcommands,omitempty"`
	Examples    []string      `json:"examples,omitempty"`
}

// FlagInfo represents a command flag for agent discovery
type FlagInfo struct {
	Name        string `json:"name"`
	Shorthand   string `json:"shorthand,omitempty"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Default     string `json:"default,omitempty"`
}

// outputAgentHelp outputs machine-readable JSON describing all commands
func outputAgentHelp(w io.Writer, cmd *cobra.Command) error {
	root := buildCommandInfo(cmd.Root())

	output := map[string]interface{}{
		"version":    Version,
		"usage":      root.Usage,
		"flags":      root.Flags,
		"commands":   root.Subcommands,
		"exit_codes": exitCodeDescriptions,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

// buildCommandInfo recursively builds command information for agent discovery
func buildCommandInfo(cmd *cobra.Command) CommandInfo {
	info := CommandInfo{
		Name:        cmd.Name(),
		Description: cmd.Short,
		Usage:       cmd.UseLine(),
	}

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		info.Flags = append(info.Flags, FlagInfo{
			Name:        f.Name,
			Shorthand:   f.Shorthand,
			Description: f.Usage,
			Type:        f.Value.Type(),
			Default:     f.DefValue,
		})
	})

	for _, sub := range cmd.Commands() {
		if !sub.Hidden && sub.Name() != "help" && sub.Name() != "completion" {
			info.Subcommands = append(info.Subcommands, buildCommandInfo(sub))
		}
	}

	if cmd.Example != "" {
		lines := strings.Split(cmd.Example, "\n")
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if trimmed != "" {
				info.Examples = append(info.Examples, trimmed)
			}
		}
	}

	return info
}
