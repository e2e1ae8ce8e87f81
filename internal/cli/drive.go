package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"quiz-battle-service/internal/client"
	"quiz-battle-service/internal/domain"
	transport "quiz-battle-service/internal/transport/http"
	"github.com/spf13/cobra"
)

type driveOptions struct {
	server          string
	userID          string
	name            string
	secret          string
	code            string
	sourceKind      string
	sourceID        string
	mode            string
	wager           int
	timer           int
	minParticipants int
	verbose         bool
}

// NewDriveCmd runs a battle from the terminal the way the host page does:
// create or join, poll, count down locally, advance when the timer expires.
func NewDriveCmd() *cobra.Command {
	opts := driveOptions{}
	cmd := &cobra.Command{
		Use:   "drive",
		Short: "Create or follow a battle and drive it as host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrive(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.server, "server", "http://localhost:8080", "battle service base URL")
	f.StringVar(&opts.userID, "user", "host", "identity to act as")
	f.StringVar(&opts.name, "name", "", "display name")
	f.StringVar(&opts.secret, "secret", os.Getenv("JWT_SECRET"), "JWT secret to mint a bearer token with")
	f.StringVar(&opts.code, "code", "", "follow an existing battle instead of creating one")
	f.StringVar(&opts.sourceKind, "source-kind", string(domain.SourceQuiz), "question source kind (topic or quiz)")
	f.StringVar(&opts.sourceID, "source", "quiz-1", "question source id")
	f.StringVar(&opts.mode, "mode", string(domain.ModeClassic), "battle mode (classic or wager)")
	f.IntVar(&opts.wager, "wager", 0, "stake per participant in wager mode")
	f.IntVar(&opts.timer, "timer", 0, "seconds per question")
	f.IntVar(&opts.minParticipants, "min-participants", 1, "participants required before starting; 0 waits for a manual start")
	f.BoolVar(&opts.verbose, "verbose", false, "log every poll")
	return cmd
}

func runDrive(cmd *cobra.Command, opts driveOptions) error {
	ctx := cmd.Context()
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	who := domain.Identity{ID: opts.userID, DisplayName: opts.name}
	if who.DisplayName == "" {
		who.DisplayName = who.ID
	}
	var clientOpts []client.Option
	if opts.secret != "" {
		token, err := transport.NewAuthenticator(opts.secret, logger).IssueToken(who, 12*time.Hour)
		if err != nil {
			return err
		}
		clientOpts = append(clientOpts, client.WithToken(token))
	}
	c := client.New(opts.server, who, clientOpts...)

	code := opts.code
	host := true
	if code == "" {
		created, err := c.Create(ctx, client.CreateRequest{
			Source:       domain.SourceRef{Kind: domain.SourceKind(opts.sourceKind), ID: opts.sourceID},
			Mode:         domain.Mode(opts.mode),
			WagerAmount:  opts.wager,
			TimerSeconds: opts.timer,
		})
		if err != nil {
			return err
		}
		code = created.Code
		fmt.Fprintf(cmd.OutOrStdout(), "battle %s created, join at %s\n", code, created.JoinURL)
	} else {
		view, err := c.Status(ctx, code)
		if err != nil {
			return err
		}
		host = view.ViewerIsHost
	}

	syncOpts := []client.SyncOption{client.WithLogger(logger)}
	if host {
		syncOpts = append(syncOpts, client.AsHost(opts.minParticipants))
	}
	driver := client.NewSynchronizer(c, code, syncOpts...)
	lastIndex := -1
	driver.OnView = func(view domain.SessionView, remaining int) {
		logger.Debug("poll", "status", view.Status, "question", view.CurrentQuestionIndex, "remaining", remaining, "participants", len(view.Participants))
		if view.Status == domain.StatusInProgress && view.CurrentQuestionIndex != lastIndex {
			lastIndex = view.CurrentQuestionIndex
			if q := view.CurrentQuestion; q != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Q%d/%d %s %v (%ds)\n", q.Index+1, view.QuestionCount, q.Text, q.Options, remaining)
			}
		}
	}

	final, err := driver.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "battle %s finished\n", final.Code)
	for _, entry := range final.Leaderboard {
		fmt.Fprintf(cmd.OutOrStdout(), "%3d. %-20s %d\n", entry.Rank, entry.DisplayName, entry.Score)
	}
	return nil
}
