package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/goextract"
	"github.com/brunobiangulo/goextract/eval"
	"github.com/brunobiangulo/goextract/task"
)

func newEvalCmd(g *globalFlags) *cobra.Command {
	var (
		taskName       string
		constraintFile string
		mode           string
		sample         int
		updateCase     bool
		reportPath     string
	)
	cmd := &cobra.Command{
		Use:   "eval <dataset>",
		Short: "Score extraction against a labelled JSONL dataset",
		Long: `Runs every item of a dataset through the engine and reports the average
set-based precision, recall and F1. Each line holds the text under "sentence"
or "text" and the gold records under the task's list key (entity_list,
relation_list, event_list or triple_list).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := task.ParseType(taskName)
			if err != nil {
				return err
			}
			ds, err := eval.LoadDataset(args[0], t)
			if err != nil {
				return err
			}
			if constraintFile != "" {
				if ds.Constraint, err = eval.LoadConstraint(constraintFile); err != nil {
					return err
				}
			}

			engine, err := g.openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			ev := eval.NewEvaluator(engine, eval.Options{
				Mode:       mode,
				UpdateCase: updateCase,
				Sample:     sample,
			})
			report, err := ev.Run(cmd.Context(), ds)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), eval.FormatReport(report))

			if reportPath != "" {
				f, err := os.Create(reportPath)
				if err != nil {
					return fmt.Errorf("creating report: %w", err)
				}
				defer f.Close()
				if err := printJSON(f, report); err != nil {
					return fmt.Errorf("writing report: %w", err)
				}
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&taskName, "task", "t", "NER", "Task: NER, RE, EE or Triple")
	fl.StringVar(&constraintFile, "constraint-file", "", "Label set sent with every item, such as class.json")
	fl.StringVarP(&mode, "mode", "m", goextract.ModeQuick, "Extraction mode")
	fl.IntVar(&sample, "sample", 0, "Only evaluate the first n items")
	fl.BoolVar(&updateCase, "update-case", false, "Learn from every item's gold records")
	fl.StringVar(&reportPath, "report", "", "Write the full report as JSON to this file")
	return cmd
}
