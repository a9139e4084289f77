package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"s2-datacube/config"
	"s2-datacube/groundtruth"
	"s2-datacube/pipeline"
	"s2-datacube/poitools"
)

// buildCmd represents the build command
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Sample every tile of every year and merge the datasets",
	Long: `Walks <tiles>/<year>/<prefix><tile>/<slice>/ and samples every band file
	under the points of the tile's ground truth, then writes

		<out>/<year>/dataset_<year>_<tile>.nc   one per tile
		<out>/<year>/dataset_<year>.nc          tiles of the year merged
		<out>/dataset.nc                        every year merged

	A tile that fails (no ground truth, malformed folders) is reported and
	left out of the merges.

	Options:
		--numWorkers: Number of tiles built concurrently.
		--window:     Side of the pixel window sampled around each point (odd).
		--aggFunc:    Function aggregating the window. Default is the mean,
		              choose from: mean, sum, max, min`,
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
		if err := c.ValidateBuild(); err != nil {
			return err
		}

		pc := pipelineConfig(c)
		runner, err := pipeline.NewRunner(pc)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		report, err := runner.Run(ctx)
		if report != nil {
			for _, t := range report.Failed() {
				logrus.WithFields(logrus.Fields{"year": t.Year, "tile": t.Key}).Error(t.Err)
			}
			cmd.Println(report.String())
		}
		return err
	},
}

func cubeOptions(c *config.Config) poitools.Options {
	return poitools.Options{
		DateOffset: c.DateOffset,
		DateLayout: c.DateLayout,
		Window:     c.Window,
		Agg:        chooseAggFunc(c.AggFunc),
		GroundTruth: groundtruth.Options{
			IDField:       c.IDField,
			PrimaryField:  c.PrimaryField,
			FallbackField: c.FallbackField,
		},
		Logger: logrus.StandardLogger(),
	}
}

func pipelineConfig(c *config.Config) pipeline.Config {
	pc := pipeline.Config{
		TilesDir:       c.Tiles,
		GroundTruthDir: c.GroundTruth,
		OutDir:         c.Out,
		Years:          c.Years,
		TilePrefix:     c.TilePrefix,
		NumWorkers:     c.NumWorkers,
		Cube:           cubeOptions(c),
		Logger:         logrus.StandardLogger(),
	}
	if len(c.GroundTruthIndex) > 0 {
		pc.Matcher = pipeline.IndexMatcher(c.GroundTruthIndex)
	}
	return pc
}

func chooseAggFunc(funcFlag string) poitools.AggFunc {
	switch funcFlag {
	case "mean":
		return poitools.Mean
	case "sum":
		return poitools.Sum
	case "max":
		return poitools.Max
	case "min":
		return poitools.Min
	default:
		logrus.Warnf("Aggregation function %s not recognized, using mean", funcFlag)
		return poitools.Mean
	}
}

// addSamplingFlags declares the flags shared by the commands that sample rasters.
func addSamplingFlags(cmd *cobra.Command) {
	cmd.Flags().String("idField", "Id_sitesAS", "Ground truth field holding the unique site identifier")
	cmd.Flags().String("primaryField", "typo_veg", "Vegetation type field")
	cmd.Flags().String("fallbackField", "MILIEU", "Field filling the vegetation type where it is empty, then dropped")
	cmd.Flags().Int("dateOffset", 4, "Position of the acquisition date in slice folder names")
	cmd.Flags().String("dateLayout", "20060102", "Go time layout of the acquisition date in slice folder names")
	cmd.Flags().IntP("window", "w", 1, "Side of the pixel window sampled around each point, odd")
	cmd.Flags().StringP("aggFunc", "a", "mean", "Function aggregating the sampling window, choose from: mean, sum, max, min")
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().String("tiles", "", "Root folder of <year>/<tile>/<slice> band files")
	buildCmd.Flags().String("groundTruth", "", "Folder of ground truth point files, matched to tiles by name")
	buildCmd.Flags().StringP("out", "o", "", "Output folder of the datasets")
	buildCmd.Flags().StringSlice("years", nil, "Years to process, all year folders when empty")
	buildCmd.Flags().String("tilePrefix", "sortie", "Prefix stripped from tile folder names")
	buildCmd.Flags().IntP("numWorkers", "n", 1, "Number of tiles built concurrently")
	addSamplingFlags(buildCmd)
}
