package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/FFTY50/micromanager-pos-sub000/internal/cli/output"
	"github.com/FFTY50/micromanager-pos-sub000/pkg/health"
)

var (
	statusOutput string
	statusHost   string
	statusPort   int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent status",
	Long: `Display the current status of a running agent.

This command calls the agent's health endpoint and displays pipeline
vitals: device id, serial port, queue depth, and uptime.

Examples:
  # Check status (uses default health port)
  mmagent status

  # Check status on a custom port
  mmagent status --port 9000

  # Output as JSON
  mmagent status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusHost, "host", "localhost", "Agent health host")
	statusCmd.Flags().IntVar(&statusPort, "port", 8844, "Agent health port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s:%d/healthz", statusHost, statusPort)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Println("Agent is not running (health endpoint unreachable)")
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	var st health.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("invalid health response: %w", err)
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, st)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, st)
	default:
		return printStatusTable(st)
	}
}

func printStatusTable(st health.Status) error {
	queueStore := "disk"
	if st.InMemory {
		queueStore = "memory (volatile)"
	}

	fmt.Println()
	return output.SimpleTable(os.Stdout, [][2]string{
		{"Status", st.Status},
		{"Device", st.DeviceID},
		{"Serial port", st.SerialPort},
		{"Queue depth", strconv.FormatInt(st.QueueDepth, 10)},
		{"Queue store", queueStore},
		{"Version", st.Version},
		{"Uptime", (time.Duration(st.UptimeSec) * time.Second).String()},
	})
}
