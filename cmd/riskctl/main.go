package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// riskctl is the operator CLI for a running bot: status inspection,
// kill-switch control and daily resets over the bot's HTTP API.

var addr string

func apiGet(path string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(addr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func apiPost(path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(addr+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, string(body))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

func main() {
	root := &cobra.Command{
		Use:   "riskctl",
		Short: "Operator CLI for the trade guard bot",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "bot API address")

	root.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show risk and stream status",
			RunE: func(cmd *cobra.Command, args []string) error {
				return apiGet("/status")
			},
		},
		&cobra.Command{
			Use:   "positions",
			Short: "List open positions",
			RunE: func(cmd *cobra.Command, args []string) error {
				return apiGet("/positions")
			},
		},
		&cobra.Command{
			Use:   "history",
			Short: "Show closed position history",
			RunE: func(cmd *cobra.Command, args []string) error {
				return apiGet("/history")
			},
		},
		&cobra.Command{
			Use:   "audit",
			Short: "Tail the audit trail",
			RunE: func(cmd *cobra.Command, args []string) error {
				return apiGet("/audit")
			},
		},
		&cobra.Command{
			Use:   "kill [reason]",
			Short: "Activate the kill switch",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return apiPost("/killswitch/activate", map[string]string{"reason": args[0]})
			},
		},
		&cobra.Command{
			Use:   "unkill [reason]",
			Short: "Deactivate the kill switch",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return apiPost("/killswitch/deactivate", map[string]string{"reason": args[0]})
			},
		},
		&cobra.Command{
			Use:   "reset-breaker [name]",
			Short: "Force a circuit breaker back to CLOSED",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return apiPost("/breakers/"+args[0]+"/reset", map[string]string{})
			},
		},
		&cobra.Command{
			Use:   "reset-daily",
			Short: "Clear cool-down and daily PnL cache",
			RunE: func(cmd *cobra.Command, args []string) error {
				return apiPost("/reset-daily", map[string]string{})
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
