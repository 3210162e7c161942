package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/x-cli-team/x-cli-sub003/internal/chat"
	"github.com/x-cli-team/x-cli-sub003/internal/config"
	"github.com/x-cli-team/x-cli-sub003/internal/session"
	"github.com/x-cli-team/x-cli-sub003/internal/ui"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved chat sessions",
	Long: `List, search, inspect and delete saved sessions.

Examples:
  x-cli sessions                         # List recent sessions
  x-cli sessions list -p anthropic --status error
  x-cli sessions list --filter "auth bug"
  x-cli sessions search "migration"
  x-cli sessions show <id>
  x-cli sessions delete <id>
  x-cli sessions export <id> [path.md]`,
	RunE: runSessionsList, // Default to list
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Fuzzy search session summaries",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSessionsSearch,
}

var sessionsShowCmd = &cobra.Command{
	Use:               "show <id>",
	Short:             "Show a session's conversation",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: SessionIDCompletion,
	RunE:              runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:               "delete <id>",
	Short:             "Delete a session and its log",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: SessionIDCompletion,
	RunE:              runSessionsDelete,
}

var sessionsExportCmd = &cobra.Command{
	Use:               "export <id> [path]",
	Short:             "Export a session as markdown",
	Args:              cobra.RangeArgs(1, 2),
	ValidArgsFunction: SessionIDCompletion,
	RunE:              runSessionsExport,
}

// Flags
var (
	sessionsLimit  int
	sessionsJSON   bool
	sessionsStatus string
	sessionsMode   string
	sessionsFilter string
)

var validStatuses = []string{
	string(session.StatusActive),
	string(session.StatusComplete),
	string(session.StatusError),
	string(session.StatusInterrupted),
}

func init() {
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum number of sessions to list")
	sessionsListCmd.Flags().StringVar(&sessionsStatus, "status", "", "Filter by status (active, complete, error, interrupted)")
	sessionsListCmd.Flags().StringVar(&sessionsMode, "mode", "", "Filter by mode (chat, ask)")
	sessionsListCmd.Flags().StringVar(&sessionsFilter, "filter", "", "Fuzzy filter on session summaries")
	sessionsShowCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Output as JSON")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsSearchCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsExportCmd)

	rootCmd.AddCommand(sessionsCmd)
}

// sessionEnv is the index plus the directory holding session logs.
type sessionEnv struct {
	store session.Store
	dir   string
}

func openSessions() (*sessionEnv, error) {
	cfg, err := loadConfig(&common)
	if err != nil {
		return nil, err
	}
	if !cfg.Sessions.Enabled {
		return nil, fmt.Errorf("session storage is disabled in config")
	}
	return openSessionsFor(cfg)
}

func openSessionsFor(cfg *config.Config) (*sessionEnv, error) {
	dir, err := cfg.SessionDir()
	if err != nil {
		return nil, err
	}
	store, err := openSessionStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open session index: %w", err)
	}
	return &sessionEnv{store: store, dir: dir}, nil
}

func (e *sessionEnv) resolve(ctx context.Context, ref string) (*session.Session, error) {
	sess, err := session.ResolveID(ctx, e.store, ref)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("session '%s' not found", ref)
	}
	return sess, err
}

func (e *sessionEnv) entries(id string) ([]chat.Entry, error) {
	entries, err := session.ReadLog(session.LogPath(e.dir, id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read session log: %w", err)
	}
	return entries, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	if sessionsStatus != "" && !slices.Contains(validStatuses, sessionsStatus) {
		return fmt.Errorf("invalid status %q: must be one of %v", sessionsStatus, validStatuses)
	}
	if sessionsMode != "" && sessionsMode != string(session.ModeChat) && sessionsMode != string(session.ModeAsk) {
		return fmt.Errorf("invalid mode %q: must be chat or ask", sessionsMode)
	}
	provider, _, err := parseProviderModel(common.Provider)
	if err != nil {
		return err
	}

	env, err := openSessions()
	if err != nil {
		return err
	}
	defer env.store.Close()

	opts := session.ListOptions{
		Provider: provider,
		Mode:     session.Mode(sessionsMode),
		Status:   session.Status(sessionsStatus),
		Limit:    sessionsLimit,
	}
	if sessionsFilter != "" {
		opts.Limit = -1
	}
	sessions, err := env.store.List(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if sessionsFilter != "" {
		sessions = searchSessions(sessions, sessionsFilter)
		if sessionsLimit > 0 && len(sessions) > sessionsLimit {
			sessions = sessions[:sessionsLimit]
		}
	}
	printSessionTable(sessions)
	return nil
}

func runSessionsSearch(cmd *cobra.Command, args []string) error {
	env, err := openSessions()
	if err != nil {
		return err
	}
	defer env.store.Close()

	all, err := env.store.List(cmd.Context(), session.ListOptions{Limit: -1})
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	printSessionTable(searchSessions(all, strings.Join(args, " ")))
	return nil
}

// searchSessions fuzzy-matches query against summaries, best match first.
func searchSessions(all []session.Session, query string) []session.Session {
	summaries := make([]string, len(all))
	for i, s := range all {
		summaries[i] = s.Summary
	}
	matches := fuzzy.Find(query, summaries)
	out := make([]session.Session, 0, len(matches))
	for _, m := range matches {
		out = append(out, all[m.Index])
	}
	return out
}

func printSessionTable(sessions []session.Session) {
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return
	}

	fmt.Printf("%-10s %-40s %5s %-5s %-11s %s\n", "ID", "SUMMARY", "MSGS", "MODE", "STATUS", "AGE")
	fmt.Println(strings.Repeat("-", 84))
	for _, s := range sessions {
		summary := strings.Join(strings.Fields(s.Summary), " ")
		if summary == "" {
			summary = "(empty)"
		}
		status := string(s.Status)
		if status == "" {
			status = string(session.StatusActive)
		}
		fmt.Printf("%-10s %-40s %5d %-5s %-11s %s\n",
			session.ShortID(s.ID), ui.Truncate(summary, 40), s.EntryCount, s.Mode, status, formatRelativeTime(s.UpdatedAt))
	}
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	env, err := openSessions()
	if err != nil {
		return err
	}
	defer env.store.Close()

	sess, err := env.resolve(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	entries, err := env.entries(sess.ID)
	if err != nil {
		return err
	}

	if sessionsJSON {
		data := struct {
			Session *session.Session `json:"session"`
			Entries []chat.Entry     `json:"entries"`
		}{
			Session: sess,
			Entries: entries,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}

	fmt.Printf("Session: %s\n", sess.ID)
	fmt.Printf("Provider: %s\n", sess.Provider)
	fmt.Printf("Model: %s\n", sess.Model)
	fmt.Printf("Mode: %s\n", sess.Mode)
	fmt.Printf("Status: %s\n", sess.Status)
	fmt.Printf("Created: %s\n", sess.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated: %s\n", sess.UpdatedAt.Format(time.RFC3339))
	if sess.CWD != "" {
		fmt.Printf("CWD: %s\n", sess.CWD)
	}
	fmt.Printf("Entries: %d\n\n", len(entries))

	r := &ui.EntryRenderer{Styles: ui.NewStyles(os.Stdout), Width: 100, Markdown: true}
	fmt.Println(r.RenderAll(entries))
	fmt.Printf("\nResume with: x-cli chat --resume %s\n", session.ShortID(sess.ID))
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	env, err := openSessions()
	if err != nil {
		return err
	}
	defer env.store.Close()

	sess, err := env.resolve(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := env.store.Delete(cmd.Context(), sess.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := session.RemoveLog(env.dir, sess.ID); err != nil {
		return fmt.Errorf("failed to delete session log: %w", err)
	}
	fmt.Printf("Deleted session: %s\n", session.ShortID(sess.ID))
	return nil
}

func runSessionsExport(cmd *cobra.Command, args []string) error {
	env, err := openSessions()
	if err != nil {
		return err
	}
	defer env.store.Close()

	sess, err := env.resolve(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	entries, err := env.entries(sess.ID)
	if err != nil {
		return err
	}

	md := exportMarkdown(sess, entries)
	if len(args) < 2 {
		fmt.Print(md)
		return nil
	}
	if err := os.WriteFile(args[1], []byte(md), 0644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	fmt.Printf("Exported %d entries to %s\n", len(entries), args[1])
	return nil
}

// exportMarkdown renders a session as a standalone markdown document.
func exportMarkdown(sess *session.Session, entries []chat.Entry) string {
	var b strings.Builder
	title := sess.Summary
	if title == "" {
		title = "Session " + session.ShortID(sess.ID)
	}
	fmt.Fprintf(&b, "# %s\n\n", strings.Join(strings.Fields(title), " "))
	fmt.Fprintf(&b, "- Provider: %s\n- Model: %s\n- Created: %s\n\n",
		sess.Provider, sess.Model, sess.CreatedAt.Format(time.RFC3339))

	for _, e := range entries {
		switch e.Kind {
		case chat.KindUser:
			fmt.Fprintf(&b, "## User\n\n%s\n\n", e.Content)
		case chat.KindAssistant:
			fmt.Fprintf(&b, "## Assistant\n\n%s\n\n", e.Content)
		case chat.KindToolCall, chat.KindToolResult:
			name := ""
			var args string
			if e.ToolCall != nil {
				name = e.ToolCall.Name
				args = string(e.ToolCall.Arguments)
			}
			fmt.Fprintf(&b, "### Tool: %s\n\n```json\n%s\n```\n\n", name, args)
			if e.Kind == chat.KindToolResult {
				fmt.Fprintf(&b, "```\n%s\n```\n\n", e.Content)
			}
		}
	}
	return b.String()
}

// formatRelativeTime returns a human-readable relative time string
func formatRelativeTime(t time.Time) string {
	dur := time.Since(t)
	switch {
	case dur < time.Minute:
		return "just now"
	case dur < time.Hour:
		return fmt.Sprintf("%dm ago", int(dur.Minutes()))
	case dur < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(dur.Hours()))
	case dur < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(dur.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}
