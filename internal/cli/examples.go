package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/mangaba-ai/mangaba-go"
	"github.com/mangaba-ai/mangaba-go/internal/render"
)

func (a *app) newExamplesCommand() *cobra.Command {
	var (
		format string
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "examples [KEY...]",
		Short: "List the example catalog or fetch examples",
		Long: `Without arguments, list the example keys and the files they map to.
With keys, fetch those examples from the backend concurrently.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := render.ParseFormat(format)
			if err != nil {
				return err
			}

			client, err := a.newClient()
			if err != nil {
				return err
			}

			refs := client.Examples()
			fetch := all
			if len(args) > 0 {
				fetch = true
				refs = refs[:0]
				for _, arg := range args {
					ref, err := mangaba.ParseExampleRef(arg)
					if err != nil {
						return err
					}
					refs = append(refs, ref)
				}
			}

			var data map[mangaba.ExampleRef]json.RawMessage
			if fetch {
				data, err = client.GetExamples(cmd.Context(), refs...)
				if err != nil {
					return err
				}
			}

			examples := make([]render.Example, 0, len(refs))
			for _, ref := range refs {
				file, err := client.ExampleFile(ref)
				if err != nil {
					return err
				}
				examples = append(examples, render.NewExample(ref, file, data[ref]))
			}

			return render.New(f, a.stdout).Examples(examples)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "o", "", "output format: table, json or yaml")
	cmd.Flags().BoolVar(&all, "all", false, "fetch every example in the catalog")
	return cmd
}
