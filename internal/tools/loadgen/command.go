package loadgen

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/secure-session-store/internal/tools/common"
	"github.com/sandeepkv93/secure-session-store/internal/tools/ui"
)

func NewRootCommand() *cobra.Command {
	cfg := Config{}
	var ci bool
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Drive session traffic against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			fn := func(ctx context.Context) ([]string, error) {
				res, err := Run(ctx, cfg)
				return Summary(res), err
			}
			if ci {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration+30*time.Second)
				defer cancel()
				details, err := fn(ctx)
				common.PrintCIResult(err == nil, "loadgen", details, err)
				return err
			}
			_, err := ui.Run("loadgen "+normalizeProfile(cfg.Profile), fn)
			return err
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: create, read or mixed")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 10*time.Second, "how long to send traffic")
	cmd.Flags().IntVar(&cfg.RPS, "rps", 10, "requests per second")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "parallel workers")
	cmd.Flags().Uint64Var(&cfg.Seed, "seed", 42, "random seed for operation selection")
	cmd.Flags().BoolVar(&ci, "ci", false, "non-interactive machine-readable output")
	return cmd
}

// Summary renders a result as stable detail lines.
func Summary(res Result) []string {
	lines := []string{fmt.Sprintf("total=%d failures=%d elapsed=%s", res.TotalRequests, res.Failures, res.Elapsed.Truncate(time.Millisecond))}
	lines = append(lines, counts("op", res.Operations)...)
	return append(lines, counts("status", res.StatusClasses)...)
}

func counts(label string, m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s %s=%d", label, k, m[k]))
	}
	return out
}
