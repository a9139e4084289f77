package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"s2-datacube/config"
)

var Verbose bool
var Debug bool
var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "s2-datacube",
	Short: "Sample Sentinel-2 tiles at ground truth points and build datasets",
	Long: `Samples the band rasters of Sentinel-2 tiles under ground truth survey
	points and assembles (poi, date, band) datasets as NetCDF files.

	./s2-datacube build --tiles [dir] --groundTruth [dir] --out [dir]
	./s2-datacube merge --out [file] [dataset.nc...]
	./s2-datacube sample [slice_dir] [ground_truth_file]
	./s2-datacube export [dataset.nc] [output_path]
	./s2-datacube convert [polygons] [out_dir]`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (yaml, toml or json)")
	rootCmd.PersistentFlags().BoolVarP(&Verbose, "verbose", "v", false, "Verbose output")
	err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	if err != nil {
		logrus.Exit(1)
	}
	rootCmd.PersistentFlags().BoolVarP(&Debug, "debug", "d", false, "Debug output")
	err = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	if err != nil {
		logrus.Exit(1)
	}
	rootCmd.PersistentFlags().String("logFile", "", "Also write the log to this file, truncated at start")
	err = viper.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("logFile"))
	if err != nil {
		logrus.Exit(1)
	}
}

func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		logrus.WithError(err).Fatalf("Cannot read config file %s", cfgFile)
	}
}

// bindFlags binds the local flags of the running command. Commands share
// keys such as numWorkers, so binding happens when a command runs rather
// than in init.
func bindFlags(cmd *cobra.Command, _ []string) error {
	var err error
	cmd.LocalNonPersistentFlags().VisitAll(func(f *pflag.Flag) {
		if err == nil {
			err = viper.BindPFlag(f.Name, f)
		}
	})
	return err
}

// loadConfig decodes the settings and sets up logging. The returned function
// closes the log file.
func loadConfig() (*config.Config, func() error, error) {
	c, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	closeLog, err := config.SetupLogging(logrus.StandardLogger(), c)
	if err != nil {
		return nil, nil, err
	}
	return c, closeLog, nil
}
