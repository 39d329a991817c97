package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/cornchan/cornchan/internal/ban"
	"github.com/cornchan/cornchan/internal/board"
	"github.com/cornchan/cornchan/internal/store"
	"github.com/cornchan/cornchan/pkg/config"
	"github.com/cornchan/cornchan/pkg/logging"
)

const usage = `Usage: cornchan-admin <command> [flags]

Commands:
  seed    create or replace boards (--name/--slug/--description or --file)
  ban     ban an address (--ip, --duration)
  unban   lift a ban (--ip)
  boards  list boards
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()
	logger := logging.WithComponent("admin")

	st, err := store.New(&cfg.Store, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "seed":
		err = runSeed(ctx, st, args, logger)
	case "ban":
		err = runBan(ctx, st, args, logger)
	case "unban":
		err = runUnban(ctx, st, args, logger)
	case "boards":
		err = runBoards(ctx, st, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("Command failed", zap.String("command", cmd), zap.Error(err))
		os.Exit(1)
	}
}

// The admin commands never touch images
func newBoards(st store.Store) *board.Service {
	return board.NewService(st, nil)
}

func runSeed(ctx context.Context, st store.Store, args []string, logger *zap.Logger) error {
	fs := pflag.NewFlagSet("seed", pflag.ContinueOnError)
	name := fs.String("name", "", "board name")
	slug := fs.String("slug", "", "board slug, derived from the name when empty")
	description := fs.String("description", "", "board description")
	file := fs.StringP("file", "f", "", "YAML file with a boards list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var seeds []config.BoardSeed
	if *file != "" {
		loaded, err := config.LoadBoardSeeds(*file)
		if err != nil {
			return err
		}
		seeds = loaded
	}
	if *name != "" || *slug != "" {
		seeds = append(seeds, config.BoardSeed{Name: *name, Slug: *slug, Description: *description})
	}
	if len(seeds) == 0 {
		return fmt.Errorf("nothing to seed, pass --name or --file")
	}

	boards := newBoards(st)
	for _, s := range seeds {
		b, err := boards.SeedBoard(ctx, s.Name, s.Slug, s.Description)
		if err != nil {
			return err
		}
		logger.Info("Seeded board", zap.String("slug", b.Slug), zap.String("key", b.Ident()))
	}
	return nil
}

func runBan(ctx context.Context, st store.Store, args []string, logger *zap.Logger) error {
	fs := pflag.NewFlagSet("ban", pflag.ContinueOnError)
	ip := fs.String("ip", "", "address to ban")
	duration := fs.Duration("duration", 24*time.Hour, "ban length")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ip == "" {
		return fmt.Errorf("--ip is required")
	}
	if *duration <= 0 {
		return fmt.Errorf("--duration must be positive")
	}

	until := time.Now().Add(*duration)
	if err := ban.NewGate(st).Ban(ctx, *ip, until); err != nil {
		return err
	}
	logger.Info("Banned", zap.String("ip", *ip), zap.Time("until", until))
	return nil
}

func runUnban(ctx context.Context, st store.Store, args []string, logger *zap.Logger) error {
	fs := pflag.NewFlagSet("unban", pflag.ContinueOnError)
	ip := fs.String("ip", "", "address to unban")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ip == "" {
		return fmt.Errorf("--ip is required")
	}

	if err := ban.NewGate(st).Unban(ctx, *ip); err != nil {
		return err
	}
	logger.Info("Unbanned", zap.String("ip", *ip))
	return nil
}

func runBoards(ctx context.Context, st store.Store, logger *zap.Logger) error {
	boards, err := newBoards(st).ListBoards(ctx)
	if err != nil {
		return err
	}
	for _, b := range boards {
		logger.Info("Board",
			zap.String("slug", b.Slug),
			zap.String("name", b.Name),
			zap.String("description", b.Description))
	}
	logger.Info("Boards listed", zap.Int("count", len(boards)))
	return nil
}
