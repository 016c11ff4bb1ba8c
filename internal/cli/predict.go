package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/sentinel/internal/domain"
)

func init() {
	predictCmd.Flags().StringVar(&predictModel, "model", "", "model name to request (empty leaves the choice to the model service)")
	predictCmd.Flags().StringVar(&predictServerAddr, "server", "http://127.0.0.1:8733", "address of a running sentinel daemon")
	rootCmd.AddCommand(predictCmd)
}

var (
	predictModel      string
	predictServerAddr string
)

var predictCmd = &cobra.Command{
	Use:   "predict [text]",
	Short: "Classify a single piece of text against a running daemon",
	Long:  `Sends text to a running sentinel daemon's POST /predict endpoint and prints the resulting verdict.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runPredict,
}

func runPredict(cmd *cobra.Command, args []string) error {
	body, err := json.Marshal(map[string]string{"text": args[0], "model": predictModel})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(predictServerAddr+"/predict", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, msg)
	}

	var verdict domain.SentimentVerdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	fmt.Printf("%s (confidence %.2f, compound %.3f, source %s)\n", verdict.Label, verdict.Confidence, verdict.Compound, verdict.Source)
	return nil
}
