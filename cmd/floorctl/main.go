package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"yuzu/bargein/internal/config"
	"yuzu/bargein/internal/health"
	"yuzu/bargein/internal/replay"
)

var rootCmd = &cobra.Command{
	Use:   "floorctl",
	Short: "Offline tools for the barge-in floor engine",
	Long: `floorctl classifies utterances and replays scripted timelines through the
floor engine using the same configuration sources as the server.`,
	SilenceUsage: true,
}

var classifyCmd = &cobra.Command{
	Use:   "classify <text...>",
	Short: "Classify an utterance with the configured word lists",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := config.Load().FloorSnapshot()
		if err != nil {
			return err
		}
		res := snap.Classify(strings.Join(args, " "))
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "normalized:       %q\n", res.Normalized)
		fmt.Fprintf(out, "tokens:           %v\n", res.Tokens)
		fmt.Fprintf(out, "backchannels:     %v\n", res.MatchedBackchannels)
		fmt.Fprintf(out, "commands:         %v\n", res.MatchedCommands)
		fmt.Fprintf(out, "has_command:      %v\n", res.HasCommand)
		fmt.Fprintf(out, "backchannel_only: %v\n", res.BackchannelOnly)
		return nil
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay <script.yaml>",
	Short: "Replay a scripted event timeline through a floor engine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		s, err := replay.Parse(data)
		if err != nil {
			return err
		}
		res, err := replay.Run(s)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			if err := json.NewEncoder(out).Encode(res); err != nil {
				return err
			}
		} else {
			for _, st := range res.Steps {
				fmt.Fprintln(out, st)
			}
		}
		if len(res.Failures) > 0 {
			for _, f := range res.Failures {
				fmt.Fprintln(cmd.ErrOrStderr(), "FAIL:", f)
			}
			return fmt.Errorf("%d expectation(s) failed", len(res.Failures))
		}
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration the way the server's readiness probe does",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		hs := health.CheckAll(ctx, config.Load())
		fmt.Fprint(cmd.OutOrStdout(), hs)
		if !hs.OK {
			return fmt.Errorf("configuration not ready")
		}
		return nil
	},
}

func init() {
	classifyCmd.Flags().Bool("json", false, "print the raw classification as JSON")
	replayCmd.Flags().Bool("json", false, "print the replay result as JSON")
	rootCmd.AddCommand(classifyCmd, replayCmd, checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
