package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ibstudy-server/models"
	"ibstudy-server/utils"
)

var paperReq models.PaperRequest
var paperWeights string

var paperCmd = &cobra.Command{
	Use:   "paper",
	Short: "Assemble a mock paper from the question bank and print it",
	Example: `  ibstudy paper -s Biology -l HL -n 2 -c 6 -d 135 \
    --weights "Cell biology:0.5|Genetics:0.5"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		weights, err := utils.ParseTopicWeights(paperWeights)
		if err != nil {
			return err
		}
		req := paperReq
		req.Level = strings.ToUpper(req.Level)
		req.TopicWeights = weights

		paper, err := newClient().CreatePaper(context.Background(), req)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (id %s)\n", paper.Title, paper.ID)
		fmt.Fprintf(out, "Reading time %d min, writing time %s, %d marks\n\n",
			paper.ReadingMinutes, utils.FormatClock(paper.DurationMinutes*60), paper.TotalMarks)
		for _, q := range paper.Questions {
			fmt.Fprintf(out, "%d. [%d] %s\n\n", q.Number, q.Marks, q.Text)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(paperCmd)
	f := paperCmd.Flags()
	f.StringVarP(&paperReq.Subject, "subject", "s", "", "IB subject")
	f.StringVarP(&paperReq.Level, "level", "l", "SL", "SL or HL")
	f.IntVarP(&paperReq.PaperNumber, "number", "n", 1, "paper number (1-3)")
	f.IntVarP(&paperReq.QuestionCount, "count", "c", 5, "number of questions")
	f.IntVarP(&paperReq.DurationMinutes, "duration", "d", 60, "writing time in minutes")
	f.IntVar(&paperReq.ReadingMinutes, "reading", 5, "reading time in minutes")
	f.StringVar(&paperWeights, "weights", "", "topic weights as \"Topic:0.5|Other:0.5\"")
	paperCmd.MarkFlagRequired("subject")
}
