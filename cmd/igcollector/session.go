package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"igcollector/pkg/models"
	"igcollector/pkg/ui"
)

var (
	clearBlocked    bool
	clearChallenged bool
	clearTemp       bool
	passwordStdin   bool
)

// sessionCmd represents the session command
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage the session pool",
	Long: `Manage the platform sessions the collector rotates through.

Passwords are sealed before they are stored. Settings saved by a login are
reused until the platform rejects them.`,
}

var sessionAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Store credentials without logging in",
	Long: `Store credentials without contacting the platform. The first fetch that
leases the session logs it in.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionAdd,
}

var sessionInitCmd = &cobra.Command{
	Use:   "init <username>",
	Short: "Log in and store a session",
	Long: `Log in with the given credentials and store the session. An existing
session for the username gets the new password and fresh settings; its
challenge and temporary block flags are cleared. Blocked sessions are refused.`,
	Example: `  igcollector session init myaccount
  echo "$PASSWORD" | igcollector session init myaccount --password-stdin`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionInit,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions with their health",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <id|username>",
	Short: "Clear health flags",
	Long: `Clear health flags of a session. Without flag selectors every flag is
cleared. This is the only way to return a blocked session to the pool.`,
	Example: `  igcollector session clear 3
  igcollector session clear myaccount --challenged`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionClear,
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <id|username>",
	Short: "Delete a session",
	Long:  `Delete a session. Content collected with it is kept.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionDelete,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionAddCmd, sessionInitCmd, sessionListCmd, sessionClearCmd, sessionDeleteCmd)

	for _, c := range []*cobra.Command{sessionAddCmd, sessionInitCmd} {
		c.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	}
	sessionClearCmd.Flags().BoolVar(&clearBlocked, "blocked", false, "clear the blocked flag")
	sessionClearCmd.Flags().BoolVar(&clearChallenged, "challenged", false, "clear the challenged flag")
	sessionClearCmd.Flags().BoolVar(&clearTemp, "temp-blocked", false, "clear the temporarily blocked flag")
}

func runSessionAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	username := strings.TrimSpace(args[0])
	password, err := promptPassword(username)
	if err != nil {
		return err
	}

	sess := &models.Session{Username: username, Secret: password}
	if err := a.store.CreateSession(cmd.Context(), sess); err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Session %d stored for %s", sess.ID, username))
	return nil
}

func runSessionInit(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	username := strings.TrimSpace(args[0])
	password, err := promptPassword(username)
	if err != nil {
		return err
	}

	ui.PrintInfo("Logging in", username)
	sess, err := a.orch.InitSession(cmd.Context(), username, password)
	if err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Session %d ready", sess.ID))
	fmt.Println(ui.SessionTable([]models.Session{*sess}))
	return nil
}

func runSessionList(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.store.ListSessions(cmd.Context())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		ui.PrintWarning("No sessions stored. Add one with 'igcollector session init <username>'")
		return nil
	}

	fmt.Println(ui.SessionTable(sessions))
	eligible, err := a.pool.EligibleCount(cmd.Context())
	if err == nil {
		ui.PrintInfo("Eligible", fmt.Sprintf("%d of %d", eligible, len(sessions)))
	}
	return nil
}

func runSessionClear(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := resolveSession(cmd.Context(), a, args[0])
	if err != nil {
		return err
	}

	which := models.HealthFlags{Blocked: clearBlocked, Challenged: clearChallenged, TemporarilyBlocked: clearTemp}
	if which.Clear() {
		which = models.HealthFlags{Blocked: true, Challenged: true, TemporarilyBlocked: true}
	}
	sess, err := a.pool.ClearFlags(cmd.Context(), id, which)
	if err != nil {
		return err
	}
	fmt.Println(ui.SessionTable([]models.Session{*sess}))
	return nil
}

func runSessionDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := resolveSession(cmd.Context(), a, args[0])
	if err != nil {
		return err
	}
	if err := a.store.DeleteSession(cmd.Context(), id); err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Session %d deleted", id))
	return nil
}

// resolveSession accepts a numeric id or a username
func resolveSession(ctx context.Context, a *app, ref string) (int64, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return id, nil
	}
	sess, err := a.store.FindSessionByUsername(ctx, ref)
	if err != nil {
		return 0, err
	}
	if sess == nil {
		return 0, fmt.Errorf("no session for username %q", ref)
	}
	return sess.ID, nil
}

func promptPassword(username string) (string, error) {
	if !passwordStdin {
		fmt.Printf("Password for %s: ", username)
	}
	password, err := readPassword()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return "", fmt.Errorf("password is required")
	}
	return password, nil
}

// readPassword reads without echo from a terminal and falls back to a line
// from stdin
func readPassword() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return string(password), nil
		}
	}

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
