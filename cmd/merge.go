package cmd

import (
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"s2-datacube/pipeline"
)

// mergeCmd represents the merge command
var mergeCmd = &cobra.Command{
	Use:   "merge [dataset.nc...]",
	Short: "Outer-join dataset files into one",
	Long: `Merges dataset files on their poi and date axes. Cells missing from
	every input stay missing; a cell holding two different values is a
	conflict and nothing is written.`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() {
			if err := closeLog(); err != nil {
				logrus.Error(err)
			}
		}()

		out := viper.GetString("out")
		if out == "" {
			return eris.New("--out is required")
		}
		d, err := pipeline.MergeFiles(args, out)
		if err != nil {
			return err
		}
		logrus.Infof("Merged %d files into %s", len(args), out)
		cmd.Println(d.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)
	mergeCmd.Flags().StringP("out", "o", "", "Merged dataset file")
}
