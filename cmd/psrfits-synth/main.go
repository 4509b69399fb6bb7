// psrfits-synth - write a synthetic PSRFITS observation
// The archive holds Gaussian noise with an optional periodic pulse and is
// split into numbered files exactly as an acquisition run would be.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"psrfits-tools/internal/config"
	"psrfits-tools/internal/logging"
	"psrfits-tools/internal/psrfits"
	"psrfits-tools/internal/synth"
	"psrfits-tools/internal/version"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	printConfig bool
	showVersion bool
)

var rootCmd = &cobra.Command{
	Use:   "psrfits-synth",
	Short: "Write a synthetic PSRFITS archive",
	Long: `psrfits-synth writes a SEARCH or PSR (fold) mode PSRFITS archive filled with
noise and an optional pulse train, for exercising readers and converters.
Files are named <basename>_0001.fits, <basename>_0002.fits, ...`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersionInfo("psrfits-synth"))
			return
		}
		if err := runSynth(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.Flags().BoolVar(&printConfig, "print-config", false, "print the effective configuration and exit")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")

	rootCmd.Flags().StringP("output", "o", "./synth/synth", "archive basename")
	rootCmd.Flags().String("mode", "SEARCH", "observation mode: SEARCH or PSR")
	rootCmd.Flags().IntP("rows", "n", 10, "subintegrations to write")
	rootCmd.Flags().Int("nchan", 64, "frequency channels")
	rootCmd.Flags().Int("npol", 4, "polarization products (1, 2 or 4)")
	rootCmd.Flags().Int("nbits", 8, "bits per sample (8 or 16)")
	rootCmd.Flags().Int("nsblk", 64, "samples per subintegration (SEARCH)")
	rootCmd.Flags().Int("nbin", 128, "phase bins (PSR)")
	rootCmd.Flags().Float64("tbin", 6.4e-5, "sample time in seconds")
	rootCmd.Flags().Float64("fcent", 1400, "centre frequency in MHz")
	rootCmd.Flags().Float64("bw", -100, "bandwidth in MHz, negative for descending channels")
	rootCmd.Flags().Float64("period", 0.0333924, "pulse period in seconds (0 = noise only)")
	rootCmd.Flags().Int64("seed", 1, "noise seed")
	rootCmd.Flags().Int("rows-per-file", 0, "rows per file (0 = size by --max-file-size)")
	rootCmd.Flags().String("max-file-size", "10 GiB", "payload volume per file")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("synth.basename", rootCmd.Flags().Lookup("output"))
	viper.BindPFlag("synth.obs_mode", rootCmd.Flags().Lookup("mode"))
	viper.BindPFlag("synth.rows", rootCmd.Flags().Lookup("rows"))
	viper.BindPFlag("synth.nchan", rootCmd.Flags().Lookup("nchan"))
	viper.BindPFlag("synth.npol", rootCmd.Flags().Lookup("npol"))
	viper.BindPFlag("synth.nbits", rootCmd.Flags().Lookup("nbits"))
	viper.BindPFlag("synth.nsblk", rootCmd.Flags().Lookup("nsblk"))
	viper.BindPFlag("synth.nbin", rootCmd.Flags().Lookup("nbin"))
	viper.BindPFlag("synth.tbin", rootCmd.Flags().Lookup("tbin"))
	viper.BindPFlag("synth.center_freq", rootCmd.Flags().Lookup("fcent"))
	viper.BindPFlag("synth.bandwidth", rootCmd.Flags().Lookup("bw"))
	viper.BindPFlag("synth.pulse_period", rootCmd.Flags().Lookup("period"))
	viper.BindPFlag("synth.seed", rootCmd.Flags().Lookup("seed"))
	viper.BindPFlag("archive.rows_per_file", rootCmd.Flags().Lookup("rows-per-file"))
	viper.BindPFlag("archive.max_file_size", rootCmd.Flags().Lookup("max-file-size"))
	viper.BindPFlag("logging.level", rootCmd.Flags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("PSRFITS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.ReadInConfig()
}

func runSynth() error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if printConfig {
		out, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	rowsPerFile := cfg.Archive.RowsPerFile
	if rowsPerFile == 0 {
		maxBytes, err := cfg.MaxFileBytes()
		if err != nil {
			return err
		}
		gen, err := synth.NewGenerator(cfg.Synth, logger)
		if err != nil {
			return err
		}
		rowsPerFile = psrfits.RowsPerFile(maxBytes, gen.Geometry())
	}

	fmt.Printf("Writing %d %s subints to %s (%d per file)\n",
		cfg.Synth.Rows, strings.ToUpper(cfg.Synth.ObsMode), cfg.Synth.Basename, rowsPerFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Printf("\nReceived interrupt signal, closing archive...\n")
		cancel()
	}()

	summary, err := synth.Generate(ctx, cfg.Synth, rowsPerFile, logger)
	fmt.Println(summary)
	if err != nil {
		return err
	}

	var total int64
	for i := 1; i <= summary.Files; i++ {
		if info, err := os.Stat(psrfits.SegmentFilename(cfg.Synth.Basename, i)); err == nil {
			total += info.Size()
		}
	}
	fmt.Printf("Archive size: %s\n", humanize.IBytes(uint64(total)))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
