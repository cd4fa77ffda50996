package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"ibstudy-server/client"
	"ibstudy-server/exam"
	"ibstudy-server/utils"
)

var examCmd = &cobra.Command{
	Use:   "exam <paper-id>",
	Short: "Sit a timed mock paper in the terminal",
	Long: `Starts an exam session for the paper, shows reading time and then each
question in turn. Finish an answer with a line holding only ".". When time
runs out, answers are locked and the paper is submitted as it stands.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		out := cmd.OutOrStdout()
		c := newClient()

		started, err := c.StartExam(ctx, args[0])
		if err != nil {
			return err
		}

		expired := make(chan struct{})
		active := make(chan struct{}, 1)
		store := client.NewExamStore(c, started,
			exam.OnExpire(func() { close(expired) }),
			exam.OnPhase(func(p exam.Phase) {
				if p == exam.PhaseActive {
					select {
					case active <- struct{}{}:
					default:
					}
				}
			}),
		)
		defer store.Close()

		paper := store.Paper()
		fmt.Fprintf(out, "%s\n%d questions, %d marks, %s writing time\n",
			paper.Title, len(paper.Questions), paper.TotalMarks, utils.FormatClock(paper.DurationMinutes*60))

		lines := stdinLines()
		if err := store.Start(); err != nil {
			return err
		}
		if store.Phase() == exam.PhaseReading {
			fmt.Fprintf(out, "\nReading time: %d min. Press Enter to start writing early.\n", paper.ReadingMinutes)
			for _, q := range paper.Questions {
				fmt.Fprintf(out, "%d. [%d] %s\n", q.Number, q.Marks, q.Text)
			}
			select {
			case <-lines:
				err := store.StartWriting(ctx)
				var apiErr *client.APIError
				switch {
				case err == nil, errors.Is(err, exam.ErrInvalidTransition):
				case errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict:
					// reading already ended on the server; the local timer follows
					<-active
				default:
					return err
				}
			case <-active:
			}
		}

		fmt.Fprintln(out, "\nWriting time has started.")
	answering:
		for _, q := range paper.Questions {
			fmt.Fprintf(out, "\n%d. [%d marks] %s\n", q.Number, q.Marks, q.Text)
			text, stop := readAnswer(lines, expired)
			if text != "" {
				err := store.Answer(ctx, q.Number, text)
				switch {
				case errors.Is(err, exam.ErrAnswersLocked):
					break answering
				case err != nil:
					fmt.Fprintf(out, "Could not save answer %d: %v\n", q.Number, err)
				}
			}
			if stop {
				break
			}
		}

		select {
		case <-expired:
			fmt.Fprintln(out, "\nTime is up. Answers are locked.")
		default:
			_ = store.Session().Review()
		}

		if st, err := c.ExamStatus(ctx, started.Session.ID); err == nil {
			fmt.Fprintf(out, "\n%d answered, %d blank, %s left\n", st.AnsweredCount, st.RemainingCount, st.TimeRemaining)
		}
		sub := store.Session().Submission()
		fmt.Fprintf(out, "Estimated before marking: %d/%d\n", exam.EstimateMarks(paper, sub.Answers), paper.TotalMarks)

		for {
			res, err := store.Submit(ctx)
			if err == nil {
				printResult(cmd, res.AwardedMarks, res.TotalMarks, res.Percentage, res.Grade, res.TopicBreakdown)
				return nil
			}
			fmt.Fprintf(out, "Submit failed: %v\nPress Enter to try again.\n", err)
			if _, ok := <-lines; !ok {
				return err
			}
		}
	},
}

func printResult(cmd *cobra.Command, awarded, total int, pct float64, grade int, topics map[string]int) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nMarked: %d/%d (%.1f%%), grade %d\n", awarded, total, pct, grade)
	names := make([]string, 0, len(topics))
	for t := range topics {
		names = append(names, t)
	}
	sort.Strings(names)
	for _, t := range names {
		fmt.Fprintf(out, "  %-30s %d\n", t, topics[t])
	}
}

func stdinLines() <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

// readAnswer collects lines up to a "." line. stop is true when input ended
// or time ran out before the answer was finished.
func readAnswer(lines <-chan string, expired <-chan struct{}) (text string, stop bool) {
	var b []string
	for {
		select {
		case <-expired:
			return strings.Join(b, "\n"), true
		case l, ok := <-lines:
			if !ok {
				return strings.Join(b, "\n"), true
			}
			if strings.TrimSpace(l) == "." {
				return strings.Join(b, "\n"), false
			}
			b = append(b, l)
		}
	}
}

func init() {
	rootCmd.AddCommand(examCmd)
}
