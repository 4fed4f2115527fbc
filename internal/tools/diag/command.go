package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimbuschat/gatekeeper/internal/tools/common"
	"github.com/nimbuschat/gatekeeper/internal/tools/loadgen"
	"github.com/nimbuschat/gatekeeper/internal/tools/ui"
)

type options struct {
	baseURL  string
	token    string
	profile  string
	duration time.Duration
	rps      int
	ci       bool
}

// NewCommand builds the diag subcommand: smoke-check a running instance and
// optionally push synthetic traffic through the admission path.
func NewCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "diag", Short: "Probe a running instance and exercise the admission path"}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.PersistentFlags().StringVar(&opts.token, "token", "", "access token for authenticated endpoints")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newTrafficCommand(opts))
	return cmd
}

func newCheckCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify liveness, readiness and the public catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "diag check", func(ctx context.Context) ([]string, error) {
				var details []string
				for _, path := range []string{"/health/live", "/health/ready", "/api/v1/plans"} {
					status, err := probe(ctx, opts.baseURL+path)
					if err != nil {
						return details, err
					}
					if status != http.StatusOK {
						return details, fmt.Errorf("%s returned %d", path, status)
					}
					details = append(details, path+": ok")
				}
				return details, nil
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "diag check", details, err)
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
}

func newTrafficCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "traffic",
		Short: "Generate synthetic traffic against the admission endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "diag traffic", func(ctx context.Context) ([]string, error) {
				result, err := loadgen.Run(ctx, loadgen.Config{
					BaseURL:  opts.baseURL,
					Profile:  opts.profile,
					Duration: opts.duration,
					RPS:      opts.rps,
					Seed:     time.Now().UnixNano(),
					Token:    opts.token,
				})
				if err != nil {
					return nil, err
				}
				details := []string{
					fmt.Sprintf("requests total=%d failures=%d", result.TotalRequests, result.Failures),
				}
				for class, count := range result.StatusClasses {
					details = append(details, fmt.Sprintf("status %s: %d", class, count))
				}
				if result.Failures > 0 {
					return details, fmt.Errorf("%d requests failed", result.Failures)
				}
				return details, nil
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "diag traffic", details, err)
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.profile, "profile", "mixed", "traffic profile: mixed, health, plans, usage")
	cmd.Flags().DurationVar(&opts.duration, "duration", 10*time.Second, "how long to generate traffic")
	cmd.Flags().IntVar(&opts.rps, "rps", 20, "requests per second")
	return cmd
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

func probe(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	// Every endpoint speaks the response envelope; a non-JSON body means the
	// target is not a gatekeeper instance.
	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err != nil {
		return resp.StatusCode, fmt.Errorf("unexpected response body from %s", url)
	}
	return resp.StatusCode, nil
}
