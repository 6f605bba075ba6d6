package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sutraworks/sutra/pkg/core"
)

// cli holds the shared state for all subcommands.
type cli struct {
	conn       *core.ConnInfo
	httpClient *http.Client
}

func main() {
	var connectStr string

	c := &cli{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	rootCmd := &cobra.Command{
		Use:   "sutra-cli",
		Short: "Interactive shell for a sutrad instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := core.ParseConnString(connectStr)
			if err != nil {
				return err
			}
			c.conn = conn
			return c.repl()
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&connectStr, "connect", "c", "sutra://localhost:7070", "Connection string")

	sendCmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Send one command and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := core.ParseConnString(connectStr)
			if err != nil {
				return err
			}
			c.conn = conn
			return c.sendIntent(strings.Join(args, " "))
		},
	}
	rootCmd.AddCommand(sendCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// post sends a JSON body and decodes the JSON response.
func (c *cli) post(path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.conn.BaseURL()+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.conn.User != "" {
		req.SetBasicAuth(c.conn.User, c.conn.Password)
	}
	return c.do(req, out)
}

// get fetches and decodes a JSON response.
func (c *cli) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.conn.BaseURL()+path, nil)
	if err != nil {
		return err
	}
	if c.conn.User != "" {
		req.SetBasicAuth(c.conn.User, c.conn.Password)
	}
	return c.do(req, out)
}

func (c *cli) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var envelope struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
			return fmt.Errorf("%s (%s)", envelope.Error, envelope.Code)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

type intentReply struct {
	Concept    string  `json:"concept"`
	Name       string  `json:"name"`
	Confidence float32 `json:"confidence"`
	Stage      string  `json:"stage"`
	Handled    bool    `json:"handled"`
	Output     string  `json:"output"`
}

// sendIntent posts one PARSE_INTENT round trip.
func (c *cli) sendIntent(text string) error {
	var reply intentReply
	if err := c.post("/v1/intent", map[string]string{"text": text}, &reply); err != nil {
		return err
	}
	printIntent(reply)
	return nil
}

func printIntent(r intentReply) {
	label := r.Name
	if label == "" {
		label = r.Concept
	}
	fmt.Printf("→ %s (conf %.2f, via %s)\n", label, r.Confidence, r.Stage)
	if r.Output != "" {
		fmt.Println(r.Output)
	} else if !r.Handled {
		fmt.Println("(no handler claimed it)")
	}
}
