package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fupingyezi/mini-DeepResearch/config"
	"github.com/fupingyezi/mini-DeepResearch/internal/client"
	"github.com/fupingyezi/mini-DeepResearch/internal/logging"
	"github.com/fupingyezi/mini-DeepResearch/internal/streaming"
	"github.com/fupingyezi/mini-DeepResearch/models"
)

func askCMD() *cobra.Command {
	var serverURL string
	var mode string
	var sessionID string
	var logLevel string

	var ask = &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a running server and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := models.Mode(mode)
			if !m.Valid() {
				return fmt.Errorf("unknown mode %q (chat, search, deepResearch)", mode)
			}
			logger, err := logging.New(config.GeneralConfig{LogLevel: logLevel})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			// Ctrl-C stops the stream; the partial answer is still saved
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			h := client.New(client.NewHTTPAPI(serverURL, nil), logger)
			if sessionID != "" {
				h.SelectSession(sessionID, nil)
			}
			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			printed := ""
			flush := func(content string) {
				if rest, ok := strings.CutPrefix(content, printed); ok {
					fmt.Fprint(out, rest)
				} else {
					fmt.Fprint(out, "\n"+content)
				}
				printed = content
			}
			h.OnEvent = func(ev streaming.Event, assistant models.ChatMessage) {
				if m == models.ModeDeepResearch {
					progress(errOut, ev)
				}
				flush(assistant.Content)
			}

			res, err := h.Send(ctx, strings.Join(args, " "), m)
			if err != nil {
				return err
			}
			flush(res.Assistant.Content)
			fmt.Fprintln(out)
			fmt.Fprintf(errOut, "session %s: %s\n", res.SessionID, res.Phase)
			if res.PersistErr != nil {
				fmt.Fprintf(errOut, "warning: exchange not saved: %v\n", res.PersistErr)
			}
			if res.Phase == client.PhaseErrored {
				return fmt.Errorf("research failed")
			}
			return nil
		},
	}
	ask.Flags().StringVar(&serverURL, "server", getenv("DEEPRESEARCH_SERVER", "http://localhost:8080"), "server base URL")
	ask.Flags().StringVar(&mode, "mode", string(models.ModeDeepResearch), "chat, search or deepResearch")
	ask.Flags().StringVar(&sessionID, "session", "", "continue an existing session")
	ask.Flags().StringVar(&logLevel, "log-level", "warn", "log level")

	return ask
}

// progress prints the research ledger as it changes.
func progress(w io.Writer, ev streaming.Event) {
	switch ev.Type {
	case streaming.TypeTasksInitial:
		tasks, err := streaming.DecodeTasks(ev)
		if err != nil {
			return
		}
		for _, t := range tasks {
			fmt.Fprintf(w, "  [%s] %s\n", t.ID, t.Description)
		}
	case streaming.TypeTaskUpdate:
		t, err := streaming.DecodeTask(ev)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "  [%s] %s\n", t.ID, t.Status)
	}
}
