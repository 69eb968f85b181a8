// Command sistemas is the terminal companion to the interview server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sistemas-dev/sistemas/internal/catalog"
	"github.com/sistemas-dev/sistemas/internal/config"
	"github.com/sistemas-dev/sistemas/internal/credential"
	"github.com/sistemas-dev/sistemas/internal/diagram"
	"github.com/sistemas-dev/sistemas/internal/domain"
	"github.com/sistemas-dev/sistemas/internal/gemini"
	"github.com/sistemas-dev/sistemas/internal/health"
	"github.com/sistemas-dev/sistemas/internal/interview"
	"github.com/sistemas-dev/sistemas/internal/session"
	"github.com/sistemas-dev/sistemas/internal/tui"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sistemas",
		Short:         "System design mock interviews in the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newProblemsCmd())
	root.AddCommand(newDiagramCmd())
	root.AddCommand(newChatCmd())
	root.AddCommand(newHealthCmd())
	return root
}

func newProblemsCmd() *cobra.Command {
	var width int
	cmd := &cobra.Command{
		Use:   "problems",
		Short: "List the interview problems",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return tui.RenderProblems(cmd.OutOrStdout(), catalog.Default(), width)
		},
	}
	cmd.Flags().IntVar(&width, "width", 80, "output width")
	return cmd
}

func newDiagramCmd() *cobra.Command {
	diagramCmd := &cobra.Command{Use: "diagram", Short: "Architecture diagram tools"}

	var width, height float64
	var pinFlags []string
	render := &cobra.Command{
		Use:   "render <graph.json>",
		Short: "Render an architecture graph as SVG on stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, err := readGraph(args[0])
			if err != nil {
				return err
			}
			pins := make([]diagram.Pin, 0, len(pinFlags))
			for _, raw := range pinFlags {
				p, err := diagram.ParsePin(raw)
				if err != nil {
					return err
				}
				pins = append(pins, p)
			}
			for _, l := range graph.DanglingLinks() {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "skipping link %s -> %s: unknown endpoint\n", l.Source, l.Target)
			}
			return diagram.Render(cmd.OutOrStdout(), graph, width, height, pins...)
		},
	}
	render.Flags().Float64Var(&width, "width", 800, "canvas width")
	render.Flags().Float64Var(&height, "height", 600, "canvas height")
	render.Flags().StringArrayVar(&pinFlags, "pin", nil, "hold a node in place, as id:x:y (repeatable)")

	diagramCmd.AddCommand(render)
	return diagramCmd
}

// readGraph accepts a bare graph document or a reply containing a
// json_architecture block. "-" reads stdin.
func readGraph(path string) (*domain.ArchitectureGraph, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}

	if strings.Contains(string(data), "```json_architecture") {
		_, graph, err := interview.ExtractArchitecture(string(data))
		if err != nil {
			return nil, err
		}
		if graph == nil {
			return nil, fmt.Errorf("no architecture block in %s", path)
		}
		return graph, nil
	}

	var graph domain.ArchitectureGraph
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	return &graph, nil
}

func newChatCmd() *cobra.Command {
	var problemID, apiKey string
	cmd := &cobra.Command{
		Use:   "chat --problem <id>",
		Short: "Run a text interview in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(problemID) == "" {
				return fmt.Errorf("--problem is required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if apiKey == "" {
				apiKey = cfg.APIKey
			}
			if err := credential.Validate(apiKey); err != nil {
				return fmt.Errorf("%w (set GEMINI_API_KEY or pass --key)", err)
			}

			ctx := context.Background()
			client, err := gemini.NewClient(ctx, apiKey)
			if err != nil {
				return err
			}
			turner := interview.NewTextClient(client, interview.Options{
				Model:       cfg.Text.Model,
				Temperature: cfg.Text.Temperature,
				TopP:        cfg.Text.TopP,
			}, nil)

			s, err := session.NewManager(catalog.Default(), nil).Create(ctx, problemID)
			if err != nil {
				return err
			}

			_, err = tea.NewProgram(tui.NewChat(s, turner), tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&problemID, "problem", "", "problem id (see `sistemas problems`)")
	cmd.Flags().StringVar(&apiKey, "key", "", "Gemini API key (defaults to GEMINI_API_KEY)")
	return cmd
}

func newHealthCmd() *cobra.Command {
	var addr, service string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe a server's gRPC health endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := health.DefaultClientConfig()
			cfg.ConnectTimeout = timeout
			client, err := health.NewClient(addr, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			status, err := client.Check(ctx, service)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), status.String())
			if status.String() != "SERVING" {
				return fmt.Errorf("%s is %s", addr, status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:9090", "gRPC health address")
	cmd.Flags().StringVar(&service, "service", health.Service, "service name, empty for the whole server")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "connect and check timeout")
	return cmd
}
