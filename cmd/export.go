package cmd

import (
	"github.com/golang/geo/s2"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"s2-datacube/datasetio"
	"s2-datacube/groundtruth"
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export [dataset.nc] [output_path]",
	Short: "Write a dataset as a long table of (s2_id, poi, date, band, value)",
	Long: `Flattens a dataset file into one row per present sample, sorted by
	poi, date and band.

	Options:
		--format:          parquet or csv.
		--groundTruthFile: Ground truth the dataset was built from. When its
		                   spatial reference is known each row carries the S2
		                   cell of its point, otherwise s2_id is 0.
		--s2Lvl:           S2 cell level of s2_id.`,
	Args:    cobra.ExactArgs(2),
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() {
			if err := closeLog(); err != nil {
				logrus.Error(err)
			}
		}()

		d, err := datasetio.ReadNetCDF(args[0])
		if err != nil {
			return err
		}

		var cells map[string]s2.CellID
		if path := viper.GetString("groundTruthFile"); path != "" {
			opts := cubeOptions(c).GroundTruth
			opts.Logger = logrus.StandardLogger()
			gt, err := groundtruth.Load(path, opts)
			if err != nil {
				return err
			}
			if cells, err = gt.S2Cells(c.S2Lvl); err != nil {
				return err
			}
		}

		rows := datasetio.LongTable(d, cells)
		switch format := viper.GetString("format"); format {
		case "parquet":
			return datasetio.WriteParquet(rows, args[1])
		case "csv":
			return datasetio.WriteCSV(rows, args[1])
		default:
			return eris.Errorf("unknown format %q, choose from: parquet, csv", format)
		}
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringP("format", "f", "parquet", "Output format: parquet or csv")
	exportCmd.Flags().String("groundTruthFile", "", "Ground truth file providing the S2 cell of every point")
	exportCmd.Flags().IntP("s2Lvl", "l", 13, "S2 cell level to generate results for")
	exportCmd.Flags().String("idField", "Id_sitesAS", "Ground truth field holding the unique site identifier")
}
