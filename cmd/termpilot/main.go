// Command termpilot wraps the user's shell in a PTY and watches the
// session for errors, dangerous commands, and recognizable patterns,
// handing the interesting ones to a local model for analysis.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/halvorsen/termpilot/internal/config"
	"github.com/halvorsen/termpilot/internal/gateway"
	"github.com/halvorsen/termpilot/internal/history"
	"github.com/halvorsen/termpilot/internal/logging"
	"github.com/halvorsen/termpilot/internal/pipeline"
	"github.com/halvorsen/termpilot/internal/shellinfo"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "termpilot",
		Short: "Terminal session with embedded AI assistance",
		Long:  "Wraps your shell in a PTY, watches for errors and dangerous commands, and asks a local model for help. Type '?? your question' at the prompt to ask directly.",
		Args:  cobra.ArbitraryArgs,
		RunE:  runSession,
	}
	rootCmd.Flags().StringP("shell", "s", "", "Shell to run (overrides $SHELL)")
	rootCmd.Flags().StringP("config", "c", "", "Path to config.yaml (default ~/.termpilot/config.yaml)")

	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Start a terminal session with AI superpowers (default command)",
		Args:  cobra.ArbitraryArgs,
		RunE:  runSession,
	}
	sessionCmd.Flags().AddFlagSet(rootCmd.Flags())
	rootCmd.AddCommand(sessionCmd)

	integrationCmd := &cobra.Command{
		Use:   "integration [shell]",
		Short: "Print the OSC 133 shell integration script for zsh, bash, or fish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script := shellinfo.IntegrationScript(args[0])
			if script == "" {
				return fmt.Errorf("no integration script for shell %q", args[0])
			}
			fmt.Println(script)
			return nil
		},
	}
	rootCmd.AddCommand(integrationCmd)

	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search command history",
		Long:  "Full-text search over past commands. Use 'type:error' to filter by classification.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, err := openHistory()
			if err != nil {
				return err
			}
			defer hist.Close()

			results, err := hist.Search(args[0])
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No matches found.")
				return nil
			}
			for _, r := range results {
				fmt.Printf("\033[1;34m%s\033[0m %s: %s\n", r.Timestamp.Format("2006-01-02 15:04"), r.Command, r.Preview)
			}
			return nil
		},
	}
	rootCmd.AddCommand(searchCmd)

	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the model gateway, config, and search index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd)
		},
	}
	rootCmd.AddCommand(doctorCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openHistory() (*history.Manager, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(home, ".termpilot")
	return history.New(filepath.Join(dir, "history.db"), filepath.Join(dir, "history.jsonl"))
}

func runDoctor(cmd *cobra.Command) error {
	fmt.Println("termpilot doctor")
	fmt.Println("================")

	if history.CheckFTS() {
		fmt.Println("✅ SQLite FTS5    : enabled (search available)")
	} else {
		fmt.Println("❌ SQLite FTS5    : disabled — rebuild with -tags sqlite_fts5")
	}

	configPath := config.DefaultConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("✅ Configuration  : found (%s)\n", configPath)
	} else {
		fmt.Printf("⚠️  Configuration  : missing (%s), using defaults\n", configPath)
	}

	cfg, _ := config.Load(configPath)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	gw := gatewayFor(cfg)
	if gw.Health(ctx) {
		fmt.Printf("✅ Model gateway  : reachable (%s)\n", cfg.OllamaHost)
	} else {
		fmt.Printf("❌ Model gateway  : unreachable (%s)\n", cfg.OllamaHost)
	}

	return nil
}

func gatewayFor(cfg config.Config) *gateway.Gateway {
	return gateway.New(cfg.OllamaHost, cfg.OllamaModel, cfg.OllamaTimeout, false)
}

func runSession(cmd *cobra.Command, args []string) error {
	shellOverride, _ := cmd.Flags().GetString("shell")
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.Setup(cfg.LogLevel)

	shell := shellinfo.Detect(firstNonEmpty(shellOverride, cfg.TerminalShell))
	if shell.Path == "" {
		return fmt.Errorf("could not detect a shell to run")
	}

	if cols, rows, err := term.GetSize(int(os.Stdin.Fd())); err == nil {
		cfg.TerminalCols, cfg.TerminalRows = cols, rows
	}

	hist, err := openHistory()
	if err != nil {
		log.Warn("history unavailable, continuing without persistence", "error", err)
		hist = nil
	} else {
		defer hist.Close()
	}

	banner(shell)

	sess, err := pipeline.New(pipeline.Options{
		Config:     cfg,
		Shell:      shell,
		Log:        log,
		History:    hist,
		OnOutput:   func(p []byte) { os.Stdout.Write(p) },
		OnAnalysis: renderAnalysis,
	})
	if err != nil {
		return err
	}
	defer sess.Shutdown()

	if stopWatch, err := config.Watch(configPath, sess.ApplyOverrides); err == nil {
		defer stopWatch()
	}

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("putting terminal in raw mode: %w", err)
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	go watchResize(winch, sess)
	winch <- syscall.SIGWINCH

	inputLines := make(chan string, 8)
	go readStdin(sess, inputLines)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	return sess.Run(ctx, inputLines)
}

func banner(shell shellinfo.Info) {
	fmt.Printf("Starting termpilot session in %s...\r\n", shell.Path)
	fmt.Printf("\033[1;33mType '?? your question' to ask the model directly. Run 'termpilot integration %s' for precise prompt detection.\033[0m\r\n", shell.Name)
}

func watchResize(winch <-chan os.Signal, sess *pipeline.Session) {
	for range winch {
		if cols, rows, err := term.GetSize(int(os.Stdin.Fd())); err == nil {
			_ = sess.Resize(uint16(cols), uint16(rows))
		}
	}
}

// readStdin intercepts raw keystrokes from the controlling terminal. A
// line starting with "??" is held back from the shell and submitted as
// a manual analysis request instead of being executed; every other
// line is forwarded to the shell and also queued on inputLines so the
// pipeline's CommandTracker learns what was submitted.
func readStdin(sess *pipeline.Session, inputLines chan<- string) {
	defer close(inputLines)

	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			return
		}
		b := buf[0]

		switch {
		case b == '\r' || b == '\n':
			text := string(line)
			line = line[:0]

			trimmed := strings.TrimSpace(text)
			if strings.HasPrefix(trimmed, "??") {
				sess.Write([]byte{21}) // Ctrl-U: clear the shell's pending input
				fmt.Print("\r\n")
				query := strings.TrimSpace(strings.TrimPrefix(trimmed, "??"))
				if query != "" {
					if err := sess.SubmitManual(query); err != nil {
						fmt.Printf("\033[31manalysis request dropped: %v\033[0m\r\n", err)
					}
				}
				sess.Write([]byte{'\r'})
				continue
			}

			sess.Write([]byte{b})
			select {
			case inputLines <- text:
			default:
			}

		case b == 127 || b == 8: // backspace
			if len(line) > 0 {
				line = line[:len(line)-1]
			}
			sess.Write([]byte{b})

		case b == 3: // Ctrl-C
			line = line[:0]
			sess.Write([]byte{b})

		default:
			line = append(line, b)
			sess.Write([]byte{b})
		}
	}
}

var (
	summaryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	suggestStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// renderAnalysis prints one completed orchestrator result beneath the
// shell's own output, styled by bucket like the teacher's shell
// assistant menu.
func renderAnalysis(a pipeline.Analysis) {
	fmt.Print("\r\n")
	if a.Result.Err != nil {
		fmt.Printf("%s\r\n", errStyle.Render(fmt.Sprintf("[%s] analysis failed: %v", a.TriggerName, a.Result.Err)))
		return
	}

	res := a.Result.Result
	header := fmt.Sprintf("[termpilot:%s]", a.TriggerName)
	fmt.Printf("%s %s\r\n", dimStyle.Render(header), summaryStyle.Render(firstLine(res.Summary)))
	for _, s := range res.Suggestions {
		fmt.Printf("  %s %s\r\n", suggestStyle.Render("SUGGESTION:"), s)
	}
	for _, w := range res.Warnings {
		fmt.Printf("  %s %s\r\n", warnStyle.Render("WARNING:"), w)
	}
	for _, e := range res.Errors {
		fmt.Printf("  %s %s\r\n", errStyle.Render("ERROR:"), e)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
