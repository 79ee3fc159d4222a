package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/app"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/audio"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/live"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/mcp"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

const replayChunk = 100 * time.Millisecond

var replaySpeed float64

var liveCmd = &cobra.Command{
	Use:   "live <audio>",
	Short: "Replay an audio file through the live transcriber at real-time pace",
	Args:  cobra.ExactArgs(1),
	RunE:  runLive,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the job tools over MCP on stdio",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func init() {
	liveCmd.Flags().Float64Var(&replaySpeed, "speed", 1, "Replay speed multiplier; 0 feeds as fast as possible")
}

func runLive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	samples, err := loadReplayAudio(ctx, a, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	finals := make(chan model.Result, 1)
	transcriber, err := a.NewLiveTranscriber(ctx, live.Delegate{
		OnPartial: func(segments []model.Segment) {
			for _, seg := range segments {
				fmt.Fprintf(out, "[%6.2f - %6.2f] %s\n", seg.Start, seg.End, seg.Text)
			}
		},
		OnError: func(err error) {
			fmt.Fprintf(cmd.ErrOrStderr(), "live error: %s\n", model.UserMessage(err))
		},
		OnFinal: func(result model.Result) {
			finals <- result
		},
	})
	if err != nil {
		return utils.WrapIfNotNil(err)
	}

	chunk := int(replayChunk.Seconds() * float64(audio.DefaultSampleRate))
	pace := time.Duration(0)
	if replaySpeed > 0 {
		pace = time.Duration(float64(replayChunk) / replaySpeed)
	}

feed:
	for start := 0; start < len(samples); start += chunk {
		end := min(start+chunk, len(samples))
		transcriber.Ingest(samples[start:end])
		if pace == 0 {
			continue
		}
		select {
		case <-ctx.Done():
			break feed
		case <-time.After(pace):
		}
	}
	transcriber.Stop()

	result := <-finals
	fmt.Fprintf(out, "\nfinal: %s\n", strings.TrimSpace(result.Text))
	if err := transcriber.LastError(); err != nil {
		return utils.WrapIfNotNil(err)
	}
	return nil
}

// loadReplayAudio returns 16 kHz mono samples, converting through ffmpeg when needed.
func loadReplayAudio(ctx context.Context, a *app.App, path string) ([]float32, error) {
	samples, rate, err := audio.ReadWAV(path)
	if err == nil && rate == audio.DefaultSampleRate {
		return samples, nil
	}

	tmp, err := os.MkdirTemp("", "sttctl-live-*")
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	defer os.RemoveAll(tmp)

	preparer := audio.NewFFmpegPreparer(a.Config.FFmpegPath, tmp, nil)
	prepared, err := preparer.Prepare(ctx, path)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	samples, _, err = audio.ReadWAV(filepath.Clean(prepared.Path))
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	return samples, nil
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		return err
	}

	srv, err := a.MCPServer()
	if err != nil {
		return utils.WrapIfNotNil(err)
	}
	return mcp.ServeStdio(ctx, srv)
}
