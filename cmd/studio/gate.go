package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/esnunes/studio/internal/models"
)

func newGateCmd(load configLoader) *cobra.Command {
	var addr, user string

	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Inspect or toggle the safety gate of a running server",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "", "server address (default: listen from config)")
	cmd.PersistentFlags().StringVar(&user, "user", os.Getenv("USER"), "actor recorded for the toggle")

	client := func() (*gateClient, error) {
		if addr == "" {
			cfg, err := load()
			if err != nil {
				return nil, err
			}
			addr = cfg.Listen
		}
		return &gateClient{base: "http://" + addr, user: user, http: &http.Client{Timeout: 10 * time.Second}}, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether mutations are blocked",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			st, err := c.do(http.MethodGet, nil)
			if err != nil {
				return err
			}
			printGate(cmd.OutOrStdout(), st)
			return nil
		},
	})
	for _, v := range []struct {
		use     string
		enabled bool
		short   string
	}{
		{"on", true, "Block every mutating operation"},
		{"off", false, "Allow mutating operations again"},
	} {
		enabled := v.enabled
		cmd.AddCommand(&cobra.Command{
			Use:   v.use,
			Short: v.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := client()
				if err != nil {
					return err
				}
				st, err := c.do(http.MethodPost, map[string]bool{"enabled": enabled})
				if err != nil {
					return err
				}
				printGate(cmd.OutOrStdout(), st)
				return nil
			},
		})
	}
	return cmd
}

type gateClient struct {
	base string
	user string
	http *http.Client
}

func (c *gateClient) do(method string, body any) (*models.GateState, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+"/api/admin/gate", r)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", c.user)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting server: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	var st models.GateState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decoding gate state: %w", err)
	}
	return &st, nil
}

func printGate(w io.Writer, st *models.GateState) {
	status := color.GreenString("off")
	if st.Enabled {
		status = color.RedString("ON (mutations blocked)")
	}
	fmt.Fprintf(w, "safety gate: %s\n", status)
	if st.LastToggledBy != "" {
		fmt.Fprintf(w, "last toggled by %s at %s\n", st.LastToggledBy, st.LastToggledAt.Local().Format(time.DateTime))
	}
}
