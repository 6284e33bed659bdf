package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/sandeepkv93/secure-session-store/internal/config"
	"github.com/sandeepkv93/secure-session-store/internal/database"
	"github.com/sandeepkv93/secure-session-store/internal/di"
	"github.com/sandeepkv93/secure-session-store/internal/domain"
	"github.com/sandeepkv93/secure-session-store/internal/repository"
	"github.com/sandeepkv93/secure-session-store/internal/security"
	"github.com/sandeepkv93/secure-session-store/internal/service"
	"github.com/sandeepkv93/secure-session-store/internal/tools/common"
	"github.com/sandeepkv93/secure-session-store/internal/tools/ui"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Width(16)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
)

type options struct {
	ci bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "admin", Short: "Session store maintenance"}
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(
		newMigrateCommand(opts),
		newSIDCommand(),
		newInspectCommand(),
		newReindexCommand(opts),
		newIdentityCommand(),
	)
	return cmd
}

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the sessions and identities tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, "migrate", func(ctx context.Context) ([]string, error) {
				cfg, err := config.Load()
				if err != nil {
					return nil, err
				}
				db, err := database.Open(cfg, quietLogger())
				if err != nil {
					return nil, err
				}
				defer closeDB(db)
				if err := database.Migrate(db); err != nil {
					return nil, err
				}
				return []string{"driver=" + cfg.DatabaseDriver, "schema: ok"}, nil
			})
		},
	}
}

func newSIDCommand() *cobra.Command {
	var (
		count     int
		length    int
		timestamp bool
	)
	cmd := &cobra.Command{
		Use:   "sid",
		Short: "Generate session identifiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return generateIDs(cmd.OutOrStdout(), count, length, timestamp)
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "number of identifiers")
	cmd.Flags().IntVar(&length, "length", security.DefaultSIDLength, "random suffix length")
	cmd.Flags().BoolVar(&timestamp, "timestamp", false, "prefix identifiers with the creation time")
	return cmd
}

func generateIDs(w io.Writer, count, length int, timestamp bool) error {
	if count < 1 {
		return errors.New("count must be positive")
	}
	if length < 0 {
		return errors.New("length must not be negative")
	}
	gen := security.NewSIDGenerator(length, timestamp)
	for range count {
		id, err := gen.Generate()
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, id); err != nil {
			return err
		}
	}
	return nil
}

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <session-id>",
		Short: "Show a stored session without touching it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg, quietLogger())
			if err != nil {
				return err
			}
			defer closeDB(db)
			return inspectSession(cmd.Context(), cmd.OutOrStdout(), repository.NewSessionRepository(db), cfg.TTLPolicy(), args[0], time.Now())
		},
	}
}

func inspectSession(ctx context.Context, w io.Writer, repo repository.SessionRepository, policy domain.TTLPolicy, id string, now time.Time) error {
	sess, err := repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	identity := "anonymous"
	if sess.IdentityRef != nil {
		identity = *sess.IdentityRef
	}
	ttl := "never expires"
	if remaining, ok := policy.Remaining(sess, now); ok {
		if remaining == 0 {
			ttl = warnStyle.Render("expired")
		} else {
			ttl = remaining.Truncate(time.Second).String()
		}
	}
	rows := [][2]string{
		{"id", sess.ID},
		{"identity", identity},
		{"created", formatMillis(sess.CreatedAt)},
		{"last access", formatMillis(sess.LastAccessAt)},
		{"last update", formatMillis(sess.LastUpdateAt)},
		{"expires in", ttl},
		{"data keys", strings.Join(sortedKeys(sess.SessionData), ", ")},
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(row[0]), valueStyle.Render(row[1]))); err != nil {
			return err
		}
	}
	return nil
}

func newReindexCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the shared identity index from stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, "reindex", func(ctx context.Context) ([]string, error) {
				cfg, err := config.Load()
				if err != nil {
					return nil, err
				}
				if !di.UsesRedis(cfg) {
					return nil, errors.New("reindex requires SESSION_MODE=system and IDENTITY_INDEX_BACKEND=redis")
				}
				db, err := database.Open(cfg, quietLogger())
				if err != nil {
					return nil, err
				}
				defer closeDB(db)
				client := di.ProvideRedis(cfg)
				defer func() { _ = client.Close() }()
				index := di.ProvideIdentityIndex(cfg, client)
				svc := service.NewSessionService(
					repository.NewSessionRepository(db),
					repository.NewIdentityRepository(db),
					index, cfg.TTLPolicy(), nil, quietLogger(),
				)
				n := svc.LoadIdentityIndex(ctx)
				return []string{fmt.Sprintf("indexed=%d", n)}, nil
			})
		},
	}
}

type identityInput struct {
	ID       string
	Name     string
	Password string
	Attrs    []string
}

func newIdentityCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "identity", Short: "Manage identities sessions can be bound to"}
	in := identityInput{}
	create := &cobra.Command{
		Use:   "create",
		Short: "Register an identity with a password",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg, quietLogger())
			if err != nil {
				return err
			}
			defer closeDB(db)
			identity, err := createIdentity(cmd.Context(), repository.NewIdentityRepository(db), in)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created identity id=%s name=%s\n", identity.ID, identity.DisplayName)
			return err
		},
	}
	create.Flags().StringVar(&in.ID, "id", "", "identity id (generated when empty)")
	create.Flags().StringVar(&in.Name, "name", "", "display name used to log in")
	create.Flags().StringVar(&in.Password, "password", "", "login password")
	create.Flags().StringArrayVar(&in.Attrs, "attr", nil, "identity attribute as key=value, repeatable")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("password")
	cmd.AddCommand(create)
	return cmd
}

func createIdentity(ctx context.Context, repo repository.IdentityRepository, in identityInput) (*domain.Identity, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, errors.New("name is required")
	}
	attrs := make(map[string]any, len(in.Attrs))
	for _, kv := range in.Attrs {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid attribute %q, want key=value", kv)
		}
		attrs[key] = value
	}
	hash, err := security.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	identity := &domain.Identity{ID: id, DisplayName: name, Attributes: attrs, PasswordHash: hash}
	if err := repo.Create(ctx, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) error {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		details, err := fn(ctx)
		common.PrintCIResult(err == nil, title, details, err)
		return err
	}
	_, err := ui.Run(title, fn)
	return err
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
