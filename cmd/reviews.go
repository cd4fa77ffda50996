package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ibstudy-server/client"
	"ibstudy-server/models"
	"ibstudy-server/offline"
)

var (
	reviewCard    string
	reviewQuality int
)

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "Send flashcard reviews, queueing them while the server is unreachable",
}

var reviewsQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Send one review, or queue it if the server cannot be reached",
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now().UTC()
		r := models.ReviewRequest{CardID: reviewCard, Quality: reviewQuality, ReviewedAt: &now}
		if err := client.ValidateReview(r); err != nil {
			return err
		}
		ctx := context.Background()

		res, err := newClient().Review(ctx, r)
		if err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Reviewed. Next review %s.\n", res.Card.DueAt.Local().Format("Mon 2 Jan 15:04"))
			return nil
		}
		if !client.IsNetworkError(err) {
			return err
		}

		q, qerr := offline.Open(cfg.Client.QueuePath)
		if qerr != nil {
			return qerr
		}
		defer q.Close()
		id, qerr := q.Enqueue(ctx, r)
		if qerr != nil {
			return qerr
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Server unreachable (%v). Review queued as #%d.\n", err, id)
		return nil
	},
}

var reviewsFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Replay every queued review",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := offline.Open(cfg.Client.QueuePath)
		if err != nil {
			return err
		}
		defer q.Close()

		c := newClient()
		res, err := q.Flush(context.Background(), func(ctx context.Context, r models.ReviewRequest) error {
			_, err := c.Review(ctx, r)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d sent, %d rejected by the server, %d still queued.\n", res.Sent, res.Dropped, res.Failed)
		return nil
	},
}

var reviewsPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List queued reviews",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := offline.Open(cfg.Client.QueuePath)
		if err != nil {
			return err
		}
		defer q.Close()

		items, err := q.Pending(context.Background())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintln(out, "No queued reviews.")
			return nil
		}
		for _, it := range items {
			fmt.Fprintf(out, "#%d card=%s quality=%d attempts=%d %s\n",
				it.ID, it.Review.CardID, it.Review.Quality, it.Attempts, it.LastError)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reviewsCmd)
	reviewsCmd.AddCommand(reviewsQueueCmd, reviewsFlushCmd, reviewsPendingCmd)
	reviewsQueueCmd.Flags().StringVarP(&reviewCard, "card", "c", "", "flashcard id")
	reviewsQueueCmd.Flags().IntVarP(&reviewQuality, "quality", "q", 0, "1 again, 2 hard, 3 good, 4 easy")
	reviewsQueueCmd.MarkFlagRequired("card")
	reviewsQueueCmd.MarkFlagRequired("quality")
}
