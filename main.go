// psrfits2fil - convert PSRFITS search-mode archives to sigproc filterbank
// This program reads a numbered PSRFITS file set starting at the given file
// and writes the first polarization product of each channel to a .fil file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"psrfits-tools/internal/config"
	"psrfits-tools/internal/converter"
	"psrfits-tools/internal/logging"
	"psrfits-tools/internal/version"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Command line flag variables
var (
	cfgFile     string // Configuration file path
	verbose     bool   // Enable debug logging
	printConfig bool   // Print the effective configuration and exit
	showVersion bool   // Print version information and exit
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "psrfits2fil file_NNNN.fits [startchan] [endchan] [flip] [fcentMHz] [tsampus]",
	Short: "Convert PSRFITS search data to sigproc filterbank",
	Long: `psrfits2fil reads a PSRFITS archive, starting at the named file and
continuing through the following files of the set, and writes the first
product of each channel in the selected window to <basename>_<NNNN>.fil.

The positional channel/flip/frequency/time arguments are accepted for
compatibility; the equivalent flags take precedence when both are given.
Passing "bandpass" as the second argument converts only the first
subintegration.`,
	Args: cobra.RangeArgs(0, 6),
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersionInfo("psrfits2fil"))
			return
		}
		if err := runConverter(cmd, args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

// init initializes the CLI flags and configuration
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "./config.yaml", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.Flags().BoolVar(&printConfig, "print-config", false, "print the effective configuration and exit")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")

	// Channel selection
	rootCmd.Flags().Int("start-chan", 0, "first channel to keep, 1-based (0 = first)")
	rootCmd.Flags().Int("end-chan", 0, "last channel to keep (0 = last)")
	rootCmd.Flags().Bool("flip", false, "reverse the channel order (forced when CHAN_BW > 0)")
	rootCmd.Flags().String("layout", "blocked", "product layout of the input: blocked or interleaved")
	rootCmd.Flags().Int("products", 4, "products per channel per sample in the input")

	// Header overrides
	rootCmd.Flags().Float64("fcent", 0, "centre frequency in MHz (0 = OBSFREQ)")
	rootCmd.Flags().Float64("tsamp", 0, "sample time in microseconds (0 = TBIN)")
	rootCmd.Flags().Int("telescope-id", 32, "sigproc telescope id")
	rootCmd.Flags().Int("machine-id", 32, "sigproc machine id")

	// Output
	rootCmd.Flags().StringP("output", "o", ".", "output directory")
	rootCmd.Flags().Bool("bandpass", false, "convert only the first subintegration")
	rootCmd.Flags().Int("dumps", 1, "time samples per output write")

	// Logging
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-file", "", "also write logs to this file")
	rootCmd.Flags().String("log-format", "text", "log format: text or json")

	// Bind command line flags to viper configuration keys
	viper.BindPFlag("conversion.start_chan", rootCmd.Flags().Lookup("start-chan"))
	viper.BindPFlag("conversion.end_chan", rootCmd.Flags().Lookup("end-chan"))
	viper.BindPFlag("conversion.flip", rootCmd.Flags().Lookup("flip"))
	viper.BindPFlag("conversion.layout", rootCmd.Flags().Lookup("layout"))
	viper.BindPFlag("conversion.products", rootCmd.Flags().Lookup("products"))
	viper.BindPFlag("conversion.center_freq", rootCmd.Flags().Lookup("fcent"))
	viper.BindPFlag("conversion.sample_time", rootCmd.Flags().Lookup("tsamp"))
	viper.BindPFlag("conversion.telescope_id", rootCmd.Flags().Lookup("telescope-id"))
	viper.BindPFlag("conversion.machine_id", rootCmd.Flags().Lookup("machine-id"))
	viper.BindPFlag("conversion.output_dir", rootCmd.Flags().Lookup("output"))
	viper.BindPFlag("conversion.bandpass", rootCmd.Flags().Lookup("bandpass"))
	viper.BindPFlag("conversion.dumps_per_unit", rootCmd.Flags().Lookup("dumps"))
	viper.BindPFlag("logging.level", rootCmd.Flags().Lookup("log-level"))
	viper.BindPFlag("logging.file", rootCmd.Flags().Lookup("log-file"))
	viper.BindPFlag("logging.format", rootCmd.Flags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	// PSRFITS_CONVERSION_OUTPUT_DIR and friends
	viper.SetEnvPrefix("PSRFITS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// runConverter is the main application logic
func runConverter(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if len(args) > 1 {
		if err := converter.ApplyPositional(&cfg.Conversion, args[1:], cmd.Flags().Changed); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	if printConfig {
		out, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	}
	if len(args) == 0 {
		return fmt.Errorf("input file required")
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	c := converter.NewConverter(cfg.Conversion, logger)
	if err := c.Initialize(args[0]); err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer c.Close()
	fmt.Printf("Output %s\n", c.OutputPath())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Printf("\nReceived interrupt signal, finishing current subint...\n")
		cancel()
	}()

	res, err := c.Run(ctx)
	if err != nil {
		return fmt.Errorf("conversion failed: %w", err)
	}

	fmt.Printf("Converted %d subints from %d files: %s samples of %d channels (%s)\n",
		res.Rows, res.Files, humanize.Comma(res.Dumps), res.Channels, humanize.IBytes(uint64(res.Bytes)))
	if res.Skipped > 0 {
		fmt.Printf("Skipped %d subints with unreadable data\n", res.Skipped)
	}
	return nil
}

// main is the entry point of the application
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
