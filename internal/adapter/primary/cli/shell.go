package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"tinnicap/internal/logging"
)

func newShellCmd() *cobra.Command {
	var prompt string
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive shell that runs tinnicap subcommands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractiveShell(cmd, prompt, inheritedFlags(cmd))
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "tinnicap> ", "shell prompt")
	return cmd
}

// inheritedFlags returns the persistent flags given to the shell itself, so every
// command typed inside it sees the same settings file and backend.
func inheritedFlags(cmd *cobra.Command) []string {
	persistent := cmd.Root().PersistentFlags()
	var out []string
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if f.Name == "verbose" || persistent.Lookup(f.Name) == nil {
			return
		}
		out = append(out, "--"+f.Name+"="+f.Value.String())
	})
	return out
}

func runInteractiveShell(parent *cobra.Command, prompt string, inherited []string) error {
	historyFile := filepath.Join(os.TempDir(), "tinnicap-shell.history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	out := parent.OutOrStdout()
	sessionVerbosity := verbosity
	fmt.Fprintln(out, "Interactive shell. Type 'help' for examples, 'exit' to quit.")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			fmt.Fprintln(out)
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch line {
		case "exit", "quit":
			fmt.Fprintln(out, "Bye!")
			return nil
		case "help":
			printShellHelp(out)
			continue
		}
		tokens, err := shlex.Split(line)
		if err != nil {
			fmt.Fprintf(out, "parse error: %v\n", err)
			continue
		}
		if len(tokens) == 0 {
			continue
		}
		if tokens[0] == "log" {
			if err := handleShellLog(out, tokens[1:], &sessionVerbosity); err != nil {
				fmt.Fprintf(out, "log: %v\n", err)
			}
			continue
		}
		if tokens[0] == "shell" {
			fmt.Fprintln(out, "Already in the shell. Type a command or 'exit' to quit.")
			continue
		}

		args := append(sessionArgs(inherited, sessionVerbosity), tokens...)
		if err := executeArgs(parent, args); err != nil {
			fmt.Fprintf(out, "command error: %v\n", err)
		}
	}
}

// sessionArgs prefixes every shell command with the shell's flags and log level.
func sessionArgs(inherited []string, sessionVerbosity int) []string {
	args := append([]string(nil), inherited...)
	if sessionVerbosity > 0 {
		args = append(args, fmt.Sprintf("--verbose=%d", sessionVerbosity))
	}
	return args
}

// executeArgs runs args on a fresh root command writing to parent's streams.
func executeArgs(parent *cobra.Command, args []string) error {
	if len(args) == 0 {
		return nil
	}
	root := NewRootCmd()
	root.SetOut(parent.OutOrStdout())
	root.SetErr(parent.ErrOrStderr())
	root.SetArgs(args)
	return root.Execute()
}

func handleShellLog(out io.Writer, args []string, sessionVerbosity *int) error {
	fs := pflag.NewFlagSet("log", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var vcount int
	var level string
	var show bool
	fs.CountVarP(&vcount, "verbose", "v", "Increase verbosity (-v... up to 4)")
	fs.StringVar(&level, "level", "", "set level (error|warn|info|debug|trace)")
	fs.BoolVarP(&show, "show", "s", false, "show the current level")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch {
	case show && vcount == 0 && level == "":
		fmt.Fprintf(out, "log level: %s (-v x%d)\n", logging.LevelName(), logging.Verbosity())
		return nil
	case level != "":
		_, count, err := logging.ParseLevel(level)
		if err != nil {
			return err
		}
		*sessionVerbosity = count
	case vcount > 0:
		*sessionVerbosity = vcount
	default:
		fmt.Fprintf(out, "log level: %s (-v x%d)\n", logging.LevelName(), logging.Verbosity())
		return nil
	}

	verbosity = *sessionVerbosity
	logging.SetVerbosity(*sessionVerbosity)
	fmt.Fprintf(out, "log level set to %s (-v x%d)\n", logging.LevelName(), logging.Verbosity())
	return nil
}

func printShellHelp(out io.Writer) {
	fmt.Fprintln(out, `Examples:
  devices                         # list output devices
  limit set "AirPods Pro" 60%     # cap a device at 60%
  limit set uid:BuiltInSpeaker    # cap at the default 75%
  limit remove "AirPods Pro"      # drop a limit
  limit list                      # every stored limit
  mode warning                    # notify only, never change volume
  cooldown 45s                    # gap between repeated notifications
  enforce                         # run one enforcement pass
  history --limit 10              # recent violations (needs --history)
  config get                      # effective configuration
  log -vv                         # more verbose logging
  log --show                      # current log level
  exit / quit                     # leave the shell`)
}
