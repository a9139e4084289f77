package cmd

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"s2-datacube/groundtruth"
)

// convertCmd represents the convert command
var convertCmd = &cobra.Command{
	Use:   "convert [polygons] [out_dir]",
	Short: "Turn polygon ground truth files into point files",
	Long: `Fills every polygon with a grid of points and writes the points inside
	it to <out_dir>/point_from_<file>.json (GeoJSON). [polygons] is a polygon
	file or a folder whose shapefiles are all converted.

	Each point is named <polygon id>_<i> and carries the polygon's type, so
	the output can be used as ground truth by build and sample.

	Options:
		--resolution: Spacing of the point grid, in layer units (meters for
		              projected layers).`,
	Args:    cobra.ExactArgs(2),
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

		opts := groundtruth.PolygonOptions{
			IDField:        viper.GetString("polygonIdField"),
			TypeField:      viper.GetString("polygonTypeField"),
			PointIDField:   viper.GetString("pointIdField"),
			PointTypeField: viper.GetString("pointTypeField"),
			Resolution:     viper.GetFloat64("resolution"),
			Logger:         logrus.StandardLogger(),
		}

		src, dir := args[0], args[1]
		info, err := os.Stat(src)
		if err != nil {
			return eris.Wrapf(err, "stat %s", src)
		}
		files := []string{src}
		if info.IsDir() {
			if files, err = groundtruth.PolygonFiles(src); err != nil {
				return err
			}
			if len(files) == 0 {
				return eris.Errorf("no shapefile in %s", src)
			}
		}
		for _, f := range files {
			dst := groundtruth.PointsPath(dir, f)
			n, err := groundtruth.ConvertPolygons(f, dst, opts)
			if err != nil {
				return err
			}
			cmd.Printf("%s: %d points\n", dst, n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(convertCmd)

	d := groundtruth.DefaultPolygonOptions()
	convertCmd.Flags().String("polygonIdField", d.IDField, "Polygon field holding the polygon identifier")
	convertCmd.Flags().String("polygonTypeField", d.TypeField, "Polygon field holding the vegetation type")
	convertCmd.Flags().String("pointIdField", d.PointIDField, "Point field receiving the point name")
	convertCmd.Flags().String("pointTypeField", d.PointTypeField, "Point field receiving the vegetation type")
	convertCmd.Flags().Float64("resolution", d.Resolution, "Spacing of the point grid")
}
