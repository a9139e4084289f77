package cmd

import (
	"github.com/gocarina/gocsv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"s2-datacube/groundtruth"
	"s2-datacube/poitools"
)

type sampleRow struct {
	POI   string  `csv:"poi"`
	Band  string  `csv:"band"`
	Value float64 `csv:"value"`
}

// sampleCmd represents the sample command
var sampleCmd = &cobra.Command{
	Use:   "sample [slice_dir] [ground_truth_file]",
	Short: "Print the band values of one slice under the ground truth points",
	Long: `Samples every band file of one slice folder under the points of one
	ground truth file and prints poi,band,value rows, bands in roster order.
	Points outside the rasters print NaN.`,
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

		opts := cubeOptions(c)
		gtOpts := opts.GroundTruth
		gtOpts.Logger = opts.Logger
		gt, err := groundtruth.Load(args[1], gtOpts)
		if err != nil {
			return err
		}
		slice, err := poitools.NewTileSlice(args[0], opts)
		if err != nil {
			return err
		}
		values, err := slice.Sample(gt.POIs())
		if err != nil {
			return err
		}

		rows := make([]sampleRow, 0, len(values)*len(poitools.Bands))
		for _, id := range gt.IDs() {
			for i, b := range poitools.Bands {
				rows = append(rows, sampleRow{POI: id, Band: b, Value: values[id][i]})
			}
		}
		return gocsv.Marshal(&rows, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(sampleCmd)
	addSamplingFlags(sampleCmd)
}
