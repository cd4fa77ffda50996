package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ibstudy-server/models"
	"ibstudy-server/utils"
)

var (
	studySubject     string
	studyTopic       string
	studyLevel       string
	studyCommandTerm string
	studyMarks       int
	studyGrade       bool
)

var studyCmd = &cobra.Command{
	Use:   "study",
	Short: "Generate a practice question and optionally grade your answer",
	Long: `Streams a freshly generated IB question from the server to the terminal.
With --grade the answer is read from stdin (end with Ctrl-D) and marked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		level := strings.ToUpper(studyLevel)
		if level != "SL" && level != "HL" {
			return fmt.Errorf("level must be SL or HL, got %q", studyLevel)
		}
		term := studyCommandTerm
		if term != "" {
			t, ok := utils.NormalizeCommandTerm(term)
			if !ok {
				return fmt.Errorf("unknown command term %q", term)
			}
			term = t
		}

		ctx := context.Background()
		c := newClient()
		out := cmd.OutOrStdout()

		q, err := c.GenerateQuestion(ctx, models.GenerateRequest{
			Subject:     studySubject,
			Level:       level,
			Topic:       studyTopic,
			CommandTerm: term,
			Marks:       studyMarks,
		}, func(tok string) { fmt.Fprint(out, tok) })
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n\n[%d marks] %s\n", q.Marks, q.Question)

		if !studyGrade {
			return nil
		}
		if q.ID == "" {
			return fmt.Errorf("the server did not store the question, cannot grade it")
		}
		fmt.Fprintln(out, "\nYour answer (Ctrl-D to finish):")
		answer, err := io.ReadAll(bufio.NewReader(os.Stdin))
		if err != nil {
			return err
		}
		res, err := c.Grade(ctx, q.ID, strings.TrimSpace(string(answer)))
		if err != nil {
			return err
		}
		r := res.Result
		fmt.Fprintf(out, "\n%d/%d (%.1f%%), grade %d\n", r.MarkEarned, r.MarkTotal, r.Percentage, r.Grade)
		for _, s := range r.Strengths {
			fmt.Fprintf(out, "  + %s\n", s)
		}
		for _, s := range r.Improvements {
			fmt.Fprintf(out, "  - %s\n", s)
		}
		if r.Commentary != "" {
			fmt.Fprintf(out, "\n%s\n", r.Commentary)
		}
		if res.ModelAnswer != nil {
			fmt.Fprintf(out, "\nMarkscheme:\n%s\n", *res.ModelAnswer)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(studyCmd)
	studyCmd.Flags().StringVarP(&studySubject, "subject", "s", "", "IB subject, e.g. \"Biology\"")
	studyCmd.Flags().StringVarP(&studyTopic, "topic", "t", "", "syllabus topic")
	studyCmd.Flags().StringVarP(&studyLevel, "level", "l", "SL", "SL or HL")
	studyCmd.Flags().StringVar(&studyCommandTerm, "command-term", "", "IB command term, e.g. explain")
	studyCmd.Flags().IntVarP(&studyMarks, "marks", "m", 0, "marks for the question")
	studyCmd.Flags().BoolVarP(&studyGrade, "grade", "g", false, "read an answer from stdin and grade it")
	studyCmd.MarkFlagRequired("subject")
	studyCmd.MarkFlagRequired("topic")
}
