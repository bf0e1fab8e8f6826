package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	serverURL string
	authToken string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "qfctl",
		Short: "QueryForge CLI - ask questions, steer sessions, inspect lessons",
		Long: `qfctl is a command-line interface for a QueryForge server.
All output is structured JSON (pipe through jq for human-readable formatting).`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", getDefaultServer(), "QueryForge server URL")
	rootCmd.PersistentFlags().StringVarP(&authToken, "token", "t", os.Getenv("QUERYFORGE_TOKEN"), "Bearer token for authenticated servers")

	rootCmd.AddCommand(newQueryCommand())
	rootCmd.AddCommand(newSessionCommand())
	rootCmd.AddCommand(newLessonCommand())
	rootCmd.AddCommand(newStatusCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getDefaultServer() string {
	if server := os.Getenv("QUERYFORGE_SERVER"); server != "" {
		return server
	}
	return "http://localhost:8080"
}

// --- HTTP client ---

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func newClient() *Client {
	return &Client{
		BaseURL: serverURL,
		// Submissions block until the pipeline parks or finishes.
		HTTP: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *Client) do(method, path string, params url.Values, data interface{}) ([]byte, error) {
	u := fmt.Sprintf("%s%s", c.BaseURL, path)
	if params != nil {
		u += "?" + params.Encode()
	}

	var body io.Reader
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return raw, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

func printJSON(raw []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(buf.String())
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// --- Commands ---

func newQueryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "query <natural language question>",
		Short: "Submit a natural language query",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			raw, err := newClient().do(http.MethodPost, "/api/v1/queries", nil,
				map[string]string{"query": strings.Join(args, " ")})
			if err != nil {
				fail(err)
			}
			printJSON(raw)
		},
	}
}

func newSessionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and steer query sessions",
	}

	var state string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Run: func(cmd *cobra.Command, args []string) {
			params := url.Values{}
			if state != "" {
				params.Set("state", state)
			}
			if limit > 0 {
				params.Set("limit", fmt.Sprintf("%d", limit))
			}
			raw, err := newClient().do(http.MethodGet, "/api/v1/sessions", params, nil)
			if err != nil {
				fail(err)
			}
			printJSON(raw)
		},
	}
	listCmd.Flags().StringVar(&state, "state", "", "Filter by state (e.g. AWAITING_CORRECTION)")
	listCmd.Flags().IntVar(&limit, "limit", 0, "Maximum sessions to return")

	getCmd := &cobra.Command{
		Use:   "get <session-id>",
		Short: "Show a session with its full attempt history",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			raw, err := newClient().do(http.MethodGet, "/api/v1/sessions/"+args[0], nil, nil)
			if err != nil {
				fail(err)
			}
			printJSON(raw)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session record",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			raw, err := newClient().do(http.MethodDelete, "/api/v1/sessions/"+args[0], nil, nil)
			if err != nil {
				fail(err)
			}
			printJSON(raw)
		},
	}

	var joinCondition, term, replacement, table string
	var tables, rejected []string
	correctCmd := &cobra.Command{
		Use:   "correct <session-id> [free text correction]",
		Short: "Resume a parked session with a correction",
		Long: `Resume a session that is awaiting correction or was interrupted.
Flags build a structured correction; trailing arguments are sent as
free text instead. Examples:

  qfctl session correct abc123 --tables orders,users --join "orders.user_id = users.id"
  qfctl session correct abc123 --term revenue --replacement orders.total_amount
  qfctl session correct abc123 --table fct_orders
  qfctl session correct abc123 revenue means orders.total_amount`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			payload := map[string]interface{}{}
			switch {
			case joinCondition != "":
				payload["type"] = "join_selection"
				payload["tables"] = tables
				payload["join_condition"] = joinCondition
			case term != "":
				payload["type"] = "identifier_mapping"
				payload["term"] = term
				payload["replacement"] = replacement
			case table != "":
				payload["type"] = "table_selection"
				payload["selected_table"] = table
				if len(rejected) > 0 {
					payload["rejected_tables"] = rejected
				}
			case len(args) > 1:
				payload["type"] = "free_text"
				payload["text"] = strings.Join(args[1:], " ")
			default:
				fail(fmt.Errorf("provide a structured flag or free text"))
			}

			raw, err := newClient().do(http.MethodPost,
				"/api/v1/sessions/"+args[0]+"/corrections", nil, payload)
			if err != nil {
				fail(err)
			}
			printJSON(raw)
		},
	}
	correctCmd.Flags().StringSliceVar(&tables, "tables", nil, "Tables the join correction applies to")
	correctCmd.Flags().StringVar(&joinCondition, "join", "", "Join condition, e.g. \"orders.user_id = users.id\"")
	correctCmd.Flags().StringVar(&term, "term", "", "Query term to remap")
	correctCmd.Flags().StringVar(&replacement, "replacement", "", "Schema identifier the term maps to")
	correctCmd.Flags().StringVar(&table, "table", "", "Table to select for an ambiguous query")
	correctCmd.Flags().StringSliceVar(&rejected, "reject", nil, "Tables to drop from the selection")

	cmd.AddCommand(listCmd, getCmd, deleteCmd, correctCmd)
	return cmd
}

func newLessonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lesson",
		Short: "Inspect learned schema lessons",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List lessons ordered by confidence",
		Run: func(cmd *cobra.Command, args []string) {
			params := url.Values{}
			if limit > 0 {
				params.Set("limit", fmt.Sprintf("%d", limit))
			}
			raw, err := newClient().do(http.MethodGet, "/api/v1/lessons", params, nil)
			if err != nil {
				fail(err)
			}
			printJSON(raw)
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 0, "Maximum lessons to return")

	getCmd := &cobra.Command{
		Use:   "get <lesson-id>",
		Short: "Show a lesson",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			raw, err := newClient().do(http.MethodGet, "/api/v1/lessons/"+args[0], nil, nil)
			if err != nil {
				fail(err)
			}
			printJSON(raw)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <lesson-id>",
		Short: "Delete a learned lesson",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			raw, err := newClient().do(http.MethodDelete, "/api/v1/lessons/"+args[0], nil, nil)
			if err != nil {
				fail(err)
			}
			printJSON(raw)
		},
	}

	cmd.AddCommand(listCmd, getCmd, deleteCmd)
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check server health",
		Run: func(cmd *cobra.Command, args []string) {
			raw, err := newClient().do(http.MethodGet, "/api/v1/health", nil, nil)
			if err != nil {
				fail(err)
			}
			printJSON(raw)
		},
	}
}
