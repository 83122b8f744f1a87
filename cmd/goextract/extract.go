package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/goextract"
	"github.com/brunobiangulo/goextract/result"
	"github.com/brunobiangulo/goextract/task"
)

type extractFlags struct {
	task             string
	text             string
	file             string
	instruction      string
	constraint       string
	schema           string
	mode             string
	schemaAgent      string
	extractionAgent  string
	reflectionAgent  string
	updateCase       bool
	truth            string
	interactiveTruth bool
	full             bool
}

func newExtractCmd(g *globalFlags) *cobra.Command {
	f := &extractFlags{}
	cmd := &cobra.Command{
		Use:   "extract [text]",
		Short: "Extract structured information from text or a file",
		Example: `  goextract extract --task NER --constraint '["person","location"]' "Obama visited Kenya."
  goextract extract --task RE --file report.pdf --mode standard
  goextract extract --task Base --instruction "List the products and prices." --file catalog.xlsx`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if f.text != "" {
					return fmt.Errorf("give the text either as an argument or with --text")
				}
				f.text = args[0]
			}
			req, err := f.request(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			engine, err := g.openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			resp, err := engine.Extract(cmd.Context(), req)
			if err != nil {
				return err
			}
			for _, w := range resp.Warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}
			if f.full {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			return printJSON(cmd.OutOrStdout(), resp.Prediction)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.task, "task", "t", "Base", "Task: Base, NER, RE, EE or Triple")
	fl.StringVar(&f.text, "text", "", "Input text")
	fl.StringVarP(&f.file, "file", "f", "", "Input file (.pdf .txt .md .docx .html .json .xlsx)")
	fl.StringVarP(&f.instruction, "instruction", "i", "", "Task instruction")
	fl.StringVarP(&f.constraint, "constraint", "c", "", "Constraint as JSON or plain text")
	fl.StringVar(&f.schema, "schema", "", "Catalog schema name for the retrieved schema")
	fl.StringVarP(&f.mode, "mode", "m", goextract.ModeQuick, "Mode: quick, standard, customized or a configured mode")
	fl.StringVar(&f.schemaAgent, "schema-agent", "", "Schema method for the customized mode")
	fl.StringVar(&f.extractionAgent, "extraction-agent", "", "Extraction method for the customized mode")
	fl.StringVar(&f.reflectionAgent, "reflection-agent", "", "Reflection method for the customized mode")
	fl.BoolVar(&f.updateCase, "update-case", false, "Store the truth in the case repository")
	fl.StringVar(&f.truth, "truth", "", "Correct answer as JSON, used with --update-case")
	fl.BoolVar(&f.interactiveTruth, "interactive-truth", false, "Ask for the correct answer on stdin after extraction")
	fl.BoolVar(&f.full, "full", false, "Print the whole response instead of the prediction")
	return cmd
}

func (f *extractFlags) request(in io.Reader, out io.Writer) (goextract.Request, error) {
	t, err := task.ParseType(f.task)
	if err != nil {
		return goextract.Request{}, err
	}
	if f.text == "" && f.file == "" {
		return goextract.Request{}, fmt.Errorf("no input: give text or --file")
	}
	req := goextract.Request{
		Task:        t,
		Instruction: f.instruction,
		Text:        f.text,
		FilePath:    f.file,
		SchemaName:  f.schema,
		Mode:        f.mode,
		UpdateCase:  f.updateCase,
	}
	if f.constraint != "" {
		req.Constraint = f.constraint
	}
	if f.truth != "" {
		req.Truth = f.truth
	}
	if f.schemaAgent != "" || f.extractionAgent != "" || f.reflectionAgent != "" {
		if f.mode != goextract.ModeCustomized {
			return req, fmt.Errorf("--schema-agent, --extraction-agent and --reflection-agent need --mode customized")
		}
		req.Custom = &goextract.Mode{
			Schema:     goextract.Method(f.schemaAgent),
			Extraction: goextract.Method(f.extractionAgent),
			Reflection: goextract.Method(f.reflectionAgent),
		}
	}
	if f.interactiveTruth {
		if !f.updateCase {
			return req, fmt.Errorf("--interactive-truth needs --update-case")
		}
		req.ConfirmTruth = promptTruth(in, out)
	}
	return req, nil
}

// promptTruth shows the prediction and reads the correct answer as one line
// of JSON. An empty line accepts the prediction.
func promptTruth(in io.Reader, out io.Writer) func(context.Context, result.Result) (result.Result, error) {
	r := bufio.NewReader(in)
	return func(ctx context.Context, pred result.Result) (result.Result, error) {
		fmt.Fprintln(out, "Prediction:")
		fmt.Fprintln(out, result.MarshalIndent(pred))
		for {
			fmt.Fprint(out, "Correct answer as JSON (Enter accepts the prediction): ")
			line, err := r.ReadString('\n')
			if err != nil && err != io.EOF {
				return result.Result{}, err
			}
			line = strings.TrimSpace(line)
			if line == "" {
				return pred, nil
			}
			truth := result.Parse(line)
			if truth.IsStructured() {
				return truth, nil
			}
			fmt.Fprintln(out, "not a JSON object, try again")
			if err == io.EOF {
				return result.Result{}, fmt.Errorf("no truth given")
			}
		}
	}
}
