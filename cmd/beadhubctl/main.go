package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const version = "1.0.0"

var (
	serverURL string
	apiKey    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "beadhubctl",
		Short: "BeadHub CLI - interact with a BeadHub server",
		Long: `beadhubctl is a command-line interface for a BeadHub coordination server.
All output is structured JSON (pipe through jq for human-readable formatting).`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", getDefaultServer(), "BeadHub server URL")
	rootCmd.PersistentFlags().StringVarP(&apiKey, "key", "k", os.Getenv("BEADHUB_API_KEY"), "API key (defaults to BEADHUB_API_KEY)")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newWorkspaceCommand())
	rootCmd.AddCommand(newIssueCommand())
	rootCmd.AddCommand(newClaimCommand())
	rootCmd.AddCommand(newEscalationCommand())
	rootCmd.AddCommand(newSubscriptionCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getDefaultServer() string {
	if server := os.Getenv("BEADHUB_SERVER"); server != "" {
		return server
	}
	return "http://localhost:8777"
}

// resolveKey returns the API key, prompting on the terminal when neither
// the flag nor the environment supplied one.
func resolveKey() (string, error) {
	if apiKey != "" {
		return apiKey, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("no API key: set BEADHUB_API_KEY or pass --key")
	}
	fmt.Fprint(os.Stderr, "API key: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	key := strings.TrimSpace(string(raw))
	if key == "" {
		return "", fmt.Errorf("empty API key")
	}
	apiKey = key
	return key, nil
}

// --- HTTP client ---

type Client struct {
	BaseURL string
	Key     string
	HTTP    *http.Client
}

func newClient(authenticated bool) (*Client, error) {
	c := &Client{
		BaseURL: serverURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
	if authenticated {
		key, err := resolveKey()
		if err != nil {
			return nil, err
		}
		c.Key = key
	}
	return c, nil
}

func (c *Client) do(method, path string, params url.Values, data interface{}) ([]byte, error) {
	u := fmt.Sprintf("%s%s", c.BaseURL, path)
	if params != nil {
		u += "?" + params.Encode()
	}

	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}
		body = strings.NewReader(string(jsonData))
	}

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Key != "" {
		req.Header.Set("Authorization", "Bearer "+c.Key)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func (c *Client) get(path string, params url.Values) ([]byte, error) {
	return c.do("GET", path, params, nil)
}

func (c *Client) post(path string, data interface{}) ([]byte, error) {
	return c.do("POST", path, nil, data)
}

func (c *Client) delete(path string) ([]byte, error) {
	return c.do("DELETE", path, nil, nil)
}

// streamSSE reads an SSE stream and prints each event's data field as JSON.
func (c *Client) streamSSE(path string, params url.Values) error {
	u := fmt.Sprintf("%s%s", c.BaseURL, path)
	if params != nil {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequest("GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.Key != "" {
		req.Header.Set("Authorization", "Bearer "+c.Key)
	}

	// No client timeout: the stream stays open until interrupted.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			fmt.Println(line[6:])
		}
	}
	return scanner.Err()
}

// outputJSON pretty-prints raw JSON data.
func outputJSON(data []byte) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Println(string(data))
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// --- init ---

func newInitCommand() *cobra.Command {
	var (
		projectSlug string
		projectName string
		alias       string
		humanName   string
		lifetime    string
		repoOrigin  string
		role        string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Bootstrap an agent identity and mint an API key",
		Example: `  beadhubctl init --project=myproj --repo=git@github.com:org/repo.git --role=reviewer
  beadhubctl init --project=myproj --alias=swift-falcon-dev`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(false)
			if err != nil {
				return err
			}
			hostname, _ := os.Hostname()
			wd, _ := os.Getwd()
			body := map[string]interface{}{
				"project_slug":   projectSlug,
				"project_name":   projectName,
				"alias":          alias,
				"human_name":     humanName,
				"lifetime":       lifetime,
				"repo_origin":    repoOrigin,
				"role":           role,
				"hostname":       hostname,
				"workspace_path": wd,
			}
			data, err := client.post("/v1/init", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectSlug, "project", "", "Project slug (inferred from repo when omitted)")
	cmd.Flags().StringVar(&projectName, "project-name", "", "Display name for a new project")
	cmd.Flags().StringVar(&alias, "alias", "", "Agent alias (auto-suggested when omitted)")
	cmd.Flags().StringVar(&humanName, "human", "", "Responsible human's name")
	cmd.Flags().StringVar(&lifetime, "lifetime", "", "Agent lifetime: persistent or ephemeral")
	cmd.Flags().StringVar(&repoOrigin, "repo", "", "Git remote origin URL")
	cmd.Flags().StringVar(&role, "role", "", "Workspace role (e.g. dev, reviewer)")
	return cmd
}

// --- workspace ---

func newWorkspaceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Inspect workspaces",
	}
	cmd.AddCommand(newWorkspaceListCommand())
	cmd.AddCommand(newWorkspaceTeamCommand())
	cmd.AddCommand(newWorkspaceOnlineCommand())
	cmd.AddCommand(newWorkspaceDeleteCommand())
	return cmd
}

func newWorkspaceListCommand() *cobra.Command {
	var (
		repo           string
		alias          string
		humanName      string
		includeDeleted bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workspaces in the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(true)
			if err != nil {
				return err
			}
			params := url.Values{}
			if repo != "" {
				params.Set("repo", repo)
			}
			if alias != "" {
				params.Set("alias", alias)
			}
			if humanName != "" {
				params.Set("human_name", humanName)
			}
			if includeDeleted {
				params.Set("include_deleted", "true")
			}
			data, err := client.get("/v1/workspaces", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "Filter by canonical repo origin")
	cmd.Flags().StringVar(&alias, "alias", "", "Filter by alias")
	cmd.Flags().StringVar(&humanName, "human", "", "Filter by responsible human")
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "Include soft-deleted workspaces")
	return cmd
}

func newWorkspaceTeamCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "team",
		Short: "Show the project team roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(true)
			if err != nil {
				return err
			}
			data, err := client.get("/v1/workspaces/team", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newWorkspaceOnlineCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "online",
		Short: "Show workspaces with live presence",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(true)
			if err != nil {
				return err
			}
			data, err := client.get("/v1/workspaces/online", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newWorkspaceDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <workspace-id>",
		Short: "Soft-delete a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(true)
			if err != nil {
				return err
			}
			data, err := client.delete("/v1/workspaces/" + args[0])
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

// --- issue ---

func newIssueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Browse synced issues",
	}
	cmd.AddCommand(newIssueListCommand())
	cmd.AddCommand(newIssueShowCommand())
	cmd.AddCommand(newIssueReadyCommand())
	return cmd
}

func newIssueListCommand() *cobra.Command {
	var (
		repo      string
		branch    string
		status    string
		issueType string
		assignee  string
		search    string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		Example: `  beadhubctl issue list --repo=github.com/org/repo
  beadhubctl issue list --repo=github.com/org/repo --status=open --q=auth`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(true)
			if err != nil {
				return err
			}
			params := url.Values{}
			params.Set("repo", repo)
			if branch != "" {
				params.Set("branch", branch)
			}
			if status != "" {
				params.Set("status", status)
			}
			if issueType != "" {
				params.Set("issue_type", issueType)
			}
			if assignee != "" {
				params.Set("assignee", assignee)
			}
			if search != "" {
				params.Set("q", search)
			}
			if limit > 0 {
				params.Set("limit", fmt.Sprintf("%d", limit))
			}
			data, err := client.get("/v1/beads/issues", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "Canonical repo origin (required)")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch (default main)")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&issueType, "type", "", "Filter by issue type")
	cmd.Flags().StringVar(&assignee, "assignee", "", "Filter by assignee")
	cmd.Flags().StringVar(&search, "q", "", "Search bead IDs and titles")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size")
	cmd.MarkFlagRequired("repo")
	return cmd
}

func newIssueShowCommand() *cobra.Command {
	var (
		repo   string
		branch string
	)
	cmd := &cobra.Command{
		Use:   "show <bead-id>",
		Short: "Show one issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(true)
			if err != nil {
				return err
			}
			params := url.Values{}
			params.Set("repo", repo)
			if branch != "" {
				params.Set("branch", branch)
			}
			data, err := client.get("/v1/beads/issues/"+args[0], params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "Canonical repo origin (required)")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch (default main)")
	cmd.MarkFlagRequired("repo")
	return cmd
}

func newIssueReadyCommand() *cobra.Command {
	var (
		repo   string
		branch string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "ready",
		Short: "List open issues with no open blockers",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(true)
			if err != nil {
				return err
			}
			params := url.Values{}
			params.Set("repo", repo)
			if branch != "" {
				params.Set("branch", branch)
			}
			if limit > 0 {
				params.Set("limit", fmt.Sprintf("%d", limit))
			}
			data, err := client.get("/v1/beads/ready", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "Canonical repo origin (required)")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch (default main)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size")
	cmd.MarkFlagRequired("repo")
	return cmd
}

// --- claim ---

func newClaimCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Inspect bead claims",
	}

	var workspaceID string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List active claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(true)
			if err != nil {
				return err
			}
			params := url.Values{}
			if workspaceID != "" {
				params.Set("workspace_id", workspaceID)
			}
			data, err := client.get("/v1/claims", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	listCmd.Flags().StringVar(&workspaceID, "workspace", "", "Filter by workspace ID")
	cmd.AddCommand(listCmd)
	return cmd
}

// --- escalation ---

func newEscalationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escalation",
		Short: "Raise and answer escalations",
	}
	cmd.AddCommand(newEscalationListCommand())
	cmd.AddCommand(newEscalationCreateCommand())
	cmd.AddCommand(newEscalationRespondCommand())
	return cmd
}

func newEscalationListCommand() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List escalations",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(true)
			if err != nil {
				return err
			}
			params := url.Values{}
			if state != "" {
				params.Set("status", state)
			}
			data, err := client.get("/v1/escalations", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "status", "", "Filter by status (pending, responded, expired)")
	return cmd
}

func newEscalationCreateCommand() *cobra.Command {
	var (
		alias     string
		subject   string
		situation string
		options   []string
		expiresIn int
		email     string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Raise an escalation for a human",
		Example: `  beadhubctl escalation create --alias=swift-falcon-dev \
    --subject="Schema migration approval" \
    --situation="Migration drops a column" \
    --option=proceed --option=abort`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(true)
			if err != nil {
				return err
			}
			body := map[string]interface{}{
				"alias":     alias,
				"subject":   subject,
				"situation": situation,
				"options":   options,
			}
			if expiresIn > 0 {
				body["expires_in_hours"] = expiresIn
			}
			if email != "" {
				body["member_email"] = email
			}
			data, err := client.post("/v1/escalations", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&alias, "alias", "", "Calling workspace's alias (required)")
	cmd.Flags().StringVar(&subject, "subject", "", "One-line summary (required)")
	cmd.Flags().StringVar(&situation, "situation", "", "What happened and why a human is needed (required)")
	cmd.Flags().StringArrayVar(&options, "option", nil, "Proposed response option (repeatable)")
	cmd.Flags().IntVar(&expiresIn, "expires-in", 0, "Hours until the escalation expires")
	cmd.Flags().StringVar(&email, "email", "", "Notify this team member by email")
	cmd.MarkFlagRequired("alias")
	cmd.MarkFlagRequired("subject")
	cmd.MarkFlagRequired("situation")
	return cmd
}

func newEscalationRespondCommand() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "respond <escalation-id> <response>",
		Short: "Answer an escalation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(true)
			if err != nil {
				return err
			}
			body := map[string]interface{}{
				"response": args[1],
			}
			if note != "" {
				body["note"] = note
			}
			data, err := client.post("/v1/escalations/"+args[0]+"/respond", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "Free-form note alongside the response")
	return cmd
}

// --- subscription ---

func newSubscriptionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscription",
		Short: "Watch beads for status changes",
	}
	cmd.AddCommand(newSubscriptionListCommand())
	cmd.AddCommand(newSubscriptionCreateCommand())
	cmd.AddCommand(newSubscriptionDeleteCommand())
	return cmd
}

func newSubscriptionListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List this workspace's subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(true)
			if err != nil {
				return err
			}
			data, err := client.get("/v1/subscriptions", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newSubscriptionCreateCommand() *cobra.Command {
	var (
		alias string
		repo  string
	)
	cmd := &cobra.Command{
		Use:   "create <bead-id>",
		Short: "Subscribe to a bead's status changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(true)
			if err != nil {
				return err
			}
			body := map[string]interface{}{
				"alias":   alias,
				"bead_id": args[0],
			}
			if repo != "" {
				body["repo"] = repo
			}
			data, err := client.post("/v1/subscriptions", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&alias, "alias", "", "Calling workspace's alias (required)")
	cmd.Flags().StringVar(&repo, "repo", "", "Scope to one canonical repo origin")
	cmd.MarkFlagRequired("alias")
	return cmd
}

func newSubscriptionDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <subscription-id>",
		Short: "Remove a subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(true)
			if err != nil {
				return err
			}
			data, err := client.delete("/v1/subscriptions/" + args[0])
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

// --- status ---

func newStatusCommand() *cobra.Command {
	var (
		workspaceID string
		limit       int
		follow      bool
		categories  string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the project status snapshot",
		Example: `  beadhubctl status
  beadhubctl status --follow --categories=bead,escalation`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(true)
			if err != nil {
				return err
			}
			if follow {
				params := url.Values{}
				if categories != "" {
					params.Set("categories", categories)
				}
				return client.streamSSE("/v1/status/stream", params)
			}
			params := url.Values{}
			if workspaceID != "" {
				params.Set("workspace_id", workspaceID)
			}
			if limit > 0 {
				params.Set("limit", fmt.Sprintf("%d", limit))
			}
			data, err := client.get("/v1/status", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "Scope to one workspace")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max items per section")
	cmd.Flags().BoolVar(&follow, "follow", false, "Stream live events over SSE instead")
	cmd.Flags().StringVar(&categories, "categories", "", "Comma-separated event categories for --follow")
	return cmd
}

// --- token ---

func newTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Mint a short-lived dashboard JWT",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(true)
			if err != nil {
				return err
			}
			data, err := client.post("/v1/auth/dashboard-token", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}
