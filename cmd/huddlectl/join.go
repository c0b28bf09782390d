package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dkeye/huddle/internal/client"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/protocol"
)

var (
	flagJoinRole     string
	flagJoinName     string
	flagJoinID       string
	flagJoinPublish  []string
	flagJoinDuration time.Duration
)

var joinCmd = &cobra.Command{
	Use:   "join <conference>",
	Short: "Join a conference as a headless participant",
	Long: `Join a conference, publish the requested streams and consume every stream other
participants publish. Runs until interrupted or until --duration elapses.

Examples:
  huddlectl join standup
  huddlectl join standup --publish audio,video --name bot
  huddlectl join keynote --role viewer --duration 30s`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinConference(cmd.Context(), domain.ConferenceID(args[0]))
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagJoinRole, "role", string(domain.RoleParticipant), "organizer, participant or viewer")
	joinCmd.Flags().StringVar(&flagJoinName, "name", "", "display name")
	joinCmd.Flags().StringVar(&flagJoinID, "id", "", "participant id (defaults to the client token)")
	joinCmd.Flags().StringSliceVar(&flagJoinPublish, "publish", nil, "media kinds to publish: audio, video")
	joinCmd.Flags().DurationVar(&flagJoinDuration, "duration", 0, "leave after this long (0 runs until interrupted)")
}

func joinConference(parent context.Context, conf domain.ConferenceID) error {
	if parent == nil {
		parent = context.Background()
	}
	role, err := domain.ParseRole(flagJoinRole)
	if err != nil {
		return err
	}
	kinds := make([]domain.MediaKind, 0, len(flagJoinPublish))
	for _, k := range flagJoinPublish {
		kind := domain.MediaKind(k)
		if !kind.Valid() {
			return fmt.Errorf("unknown media kind %q", k)
		}
		kinds = append(kinds, kind)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if flagJoinDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flagJoinDuration)
		defer cancel()
	}

	wsURL, err := signalURL(flagServer)
	if err != nil {
		return err
	}
	conn, err := client.Dial(ctx, wsURL, tokenHeader())
	if err != nil {
		return err
	}
	defer conn.Close()

	sess := client.NewSession(conn, client.NewHeadlessDevice(), client.ReconcilerOptions{
		OnStreamActive: func(s client.StreamInfo) {
			fmt.Printf("+ %s %s (%s)\n", s.Owner, s.Kind, s.ProducerID)
		},
		OnStreamRemoved: func(s client.StreamInfo) {
			fmt.Printf("- %s %s (%s)\n", s.Owner, s.Kind, s.ProducerID)
		},
		OnFallback: func(reason string) {
			fmt.Printf("! fallback delivery: %s\n", reason)
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "! %v\n", err)
		},
	})

	resp, err := sess.Join(ctx, protocol.JoinRoomRequest{
		ConferenceID:  conf,
		ParticipantID: domain.ParticipantID(flagJoinID),
		DisplayName:   flagJoinName,
		Role:          role,
	})
	if err != nil {
		return err
	}
	fmt.Printf("joined %s as %s, %d stream(s) already published\n", conf, resp.ParticipantID, len(resp.ExistingProducers))

	for _, kind := range kinds {
		id, err := sess.Publish(ctx, kind)
		if err != nil {
			return fmt.Errorf("publish %s: %w", kind, err)
		}
		fmt.Printf("publishing %s (%s)\n", kind, id)
	}

	select {
	case <-ctx.Done():
	case <-conn.Done():
		return errors.New("connection to server lost")
	}

	if rec := sess.Reconciler(); rec != nil {
		fmt.Print(renderStreams(rec))
	}
	leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sess.Leave(leaveCtx)
}

func renderStreams(rec *client.Reconciler) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Participant", "Kind", "Producer", "Active"})
	for _, p := range rec.Participants() {
		for _, s := range rec.Streams(p) {
			t.AppendRow(table.Row{p, s.Kind, s.ProducerID, s.Active})
		}
	}
	return t.Render() + "\n"
}
