package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tutu-network/sentinel/internal/domain"
)

func init() {
	runCmd.Flags().StringVar(&runSubreddit, "subreddit", "", "subreddit to scrape")
	runCmd.Flags().IntVar(&runPostLimit, "posts", 25, "maximum posts to fetch")
	runCmd.Flags().IntVar(&runCommentLimit, "comments", 10, "maximum comments per post")
	runCmd.Flags().BoolVar(&runAlerts, "alerts", true, "evaluate alert rules during persist")
	runCmd.Flags().StringVar(&runServerAddr, "server", "http://127.0.0.1:8733", "address of a running sentinel daemon")
	runCmd.MarkFlagRequired("subreddit")
	rootCmd.AddCommand(runCmd)
}

var (
	runSubreddit    string
	runPostLimit    int
	runCommentLimit int
	runAlerts       bool
	runServerAddr   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit a one-off pipeline run against a running daemon",
	Long:  `Submits a full scrape/process/clean/persist pipeline and polls its status until it reaches a terminal state, printing stage progress.`,
	RunE:  runPipelineRun,
}

func runPipelineRun(cmd *cobra.Command, args []string) error {
	if runSubreddit == "" {
		return fmt.Errorf("--subreddit is required")
	}

	req := domain.PipelineRequest{
		SourceParams: domain.SourceParams{
			Subreddit:           runSubreddit,
			PostLimit:           runPostLimit,
			CommentLimitPerPost: runCommentLimit,
			Sort:                domain.SortNew,
		},
		Stages:       []domain.Stage{domain.StageScrape, domain.StageProcess, domain.StageClean, domain.StagePersist},
		EnableAlerts: runAlerts,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	started := time.Now()

	resp, err := client.Post(runServerAddr+"/pipeline/run", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("submit pipeline: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, msg)
	}

	var submitResp map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&submitResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	id := submitResp["pipeline_id"]
	if id == "" {
		return fmt.Errorf("daemon did not return a pipeline_id")
	}

	return pollPipeline(client, id, started)
}

func pollPipeline(client *http.Client, id string, started time.Time) error {
	for {
		pipeline, err := fetchPipelineStatus(client, id)
		if err != nil {
			clearLine()
			return err
		}

		stage := currentStage(pipeline)
		renderStage(stage.Type, stage.Progress)

		if pipeline.State.IsTerminal() {
			clearLine()
			startedAgo := humanize.Time(started)
			switch pipeline.State {
			case domain.TaskSucceeded:
				fmt.Printf("pipeline %s succeeded (started %s)\n", id, startedAgo)
				return nil
			case domain.TaskCancelled:
				fmt.Printf("pipeline %s cancelled (started %s)\n", id, startedAgo)
				return nil
			default:
				return fmt.Errorf("pipeline %s failed: %s", id, pipeline.Error)
			}
		}

		time.Sleep(200 * time.Millisecond)
	}
}

func fetchPipelineStatus(client *http.Client, id string) (domain.Pipeline, error) {
	resp, err := client.Get(runServerAddr + "/pipeline/" + id + "/status")
	if err != nil {
		return domain.Pipeline{}, fmt.Errorf("poll pipeline: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return domain.Pipeline{}, fmt.Errorf("daemon returned %d: %s", resp.StatusCode, msg)
	}

	var pipeline domain.Pipeline
	if err := json.NewDecoder(resp.Body).Decode(&pipeline); err != nil {
		return domain.Pipeline{}, fmt.Errorf("decode status: %w", err)
	}
	return pipeline, nil
}

// currentStage returns the first non-terminal stage, or the last stage
// if the pipeline has already finished.
func currentStage(p domain.Pipeline) domain.Task {
	for _, s := range p.Stages {
		if !s.State.IsTerminal() {
			return s
		}
	}
	if len(p.Stages) > 0 {
		return p.Stages[len(p.Stages)-1]
	}
	return p.Task
}
