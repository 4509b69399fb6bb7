// psrfits-reader - display the contents of PSRFITS archives and filterbank files
// For a PSRFITS file it walks the numbered file set from that file onward and
// lists each segment; for a .fil file it prints the sigproc header.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"psrfits-tools/internal/config"
	"psrfits-tools/internal/filterbank"
	"psrfits-tools/internal/logging"
	"psrfits-tools/internal/psrfits"
	"psrfits-tools/internal/version"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	showHeader  bool
	showRows    int
	logLevel    string
	showVersion bool
)

var rootCmd = &cobra.Command{
	Use:   "psrfits-reader [file_NNNN.fits | file.fil]",
	Short: "Display contents of PSRFITS archives and filterbank files",
	Long: `psrfits-reader summarizes a PSRFITS archive: the observation header of the
named file and a table of every file in the set from that one onward, with
row counts, sizes and subintegration offsets.

Given a sigproc .fil file it prints the filterbank header and sample count.

Display modes:
  --header     Show the full observation header
  --rows N     Show the first N subintegrations`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersionInfo("psrfits-reader"))
			return
		}
		if len(args) == 0 {
			fmt.Fprintf(os.Stderr, "Error: filename required\n")
			cmd.Usage()
			os.Exit(1)
		}
		if err := displayFile(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")
	rootCmd.Flags().BoolVar(&showHeader, "header", false, "display the full observation header")
	rootCmd.Flags().IntVarP(&showRows, "rows", "r", 0, "display the first N subintegrations")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

// displayFile picks the display for the file type
func displayFile(filename string) error {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", filename)
	}
	if strings.HasSuffix(filename, ".fil") {
		return displayFilterbank(filename)
	}
	return displayArchive(filename)
}

func displayFilterbank(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	hdr, n, err := filterbank.ReadHeader(f)
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return err
	}

	fmt.Printf("SIGPROC FILTERBANK READER %s\n\n", version.GetBuildInfo().Version)
	fmt.Printf("Name: %s\n", filepath.Base(filename))
	fmt.Printf("Size: %s (%d bytes, header %d bytes)\n\n", humanize.IBytes(uint64(info.Size())), info.Size(), n)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Keyword", "Value"})
	rows := [][]string{
		{"rawdatafile", hdr.RawDataFile},
		{"source_name", hdr.SourceName},
		{"data_type", fmt.Sprint(hdr.DataType)},
		{"nchans", fmt.Sprint(hdr.NChans)},
		{"fch1", fmt.Sprintf("%.6f MHz", hdr.FCh1)},
		{"foff", fmt.Sprintf("%.6f MHz", hdr.FOff)},
		{"nbits", fmt.Sprint(hdr.NBits)},
		{"nbeams", fmt.Sprint(hdr.NBeams)},
		{"ibeam", fmt.Sprint(hdr.IBeam)},
		{"nifs", fmt.Sprint(hdr.NIFs)},
		{"tsamp", fmt.Sprintf("%.3f us", hdr.TSamp*1e6)},
		{"tstart", fmt.Sprintf("%.10f", hdr.TStart)},
		{"telescope_id", fmt.Sprint(hdr.TelescopeID)},
		{"machine_id", fmt.Sprint(hdr.MachineID)},
		{"src_raj", fmt.Sprintf("%.4f", hdr.SrcRAJ)},
		{"src_dej", fmt.Sprintf("%.4f", hdr.SrcDEJ)},
		{"az_start", fmt.Sprintf("%.4f", hdr.AzStart)},
		{"za_start", fmt.Sprintf("%.4f", hdr.ZAStart)},
	}
	table.AppendBulk(rows)
	table.Render()

	if perSample := int64(hdr.NChans * hdr.NBits / 8); perSample > 0 {
		samples := (info.Size() - n) / perSample
		fmt.Printf("\nSamples: %s (%.3f s)\n", humanize.Comma(samples), float64(samples)*hdr.TSamp)
		if rem := (info.Size() - n) % perSample; rem != 0 {
			fmt.Printf("Trailing partial sample: %d bytes\n", rem)
		}
	}
	return nil
}

// segment accumulates what the table shows for one file of the set
type segment struct {
	name    string
	rows    int
	size    int64
	offset  int
	samples int64
}

func displayArchive(filename string) error {
	basename, filenum, err := psrfits.ParseSegmentFilename(filename)
	if err != nil {
		return err
	}
	logger, closer, err := logging.New(config.LoggingConfig{Level: logLevel, Format: "text"})
	if err != nil {
		return err
	}
	defer closer.Close()

	session, err := psrfits.OpenReadSession(basename, filenum, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Printf("PSRFITS ARCHIVE READER %s\n\n", version.GetBuildInfo().Version)
	displayHeader(session)

	var segments []*segment
	current := func() *segment {
		name := session.Filename()
		if len(segments) == 0 || segments[len(segments)-1].name != name {
			s := &segment{name: name, offset: session.Header().OffsetSubint}
			if info, err := os.Stat(name); err == nil {
				s.size = info.Size()
			}
			segments = append(segments, s)
		}
		return segments[len(segments)-1]
	}

	shown, skipped := 0, 0
	var last psrfits.SegmentState
	for {
		before := session.State().TotalSamples
		rec, err := session.Next()
		if err == io.EOF {
			break
		}
		seg := current()
		if err != nil {
			if errors.Is(err, psrfits.ErrPayload) {
				skipped++
				continue
			}
			return err
		}
		seg.rows++
		last = session.State()
		seg.samples += last.TotalSamples - before

		if shown < showRows {
			if shown == 0 {
				fmt.Printf("\nSubintegrations:\n")
			}
			displayRow(last.TotalRows, rec)
			shown++
		}
	}

	fmt.Printf("\nFiles:\n")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"File", "Rows", "NSUBOFFS", "Samples", "Size"})
	for _, s := range segments {
		table.Append([]string{
			filepath.Base(s.name),
			fmt.Sprint(s.rows),
			fmt.Sprint(s.offset),
			humanize.Comma(s.samples),
			humanize.IBytes(uint64(s.size)),
		})
	}
	table.Render()

	fmt.Printf("\nTotal: %d subints, %s samples, %.3f s in %d files\n",
		last.TotalRows, humanize.Comma(last.TotalSamples), last.TotalTime, len(segments))
	if skipped > 0 || session.FieldErrors() > 0 {
		fmt.Printf("Unreadable payloads: %d, undecoded fields: %d\n", skipped, session.FieldErrors())
	}
	return nil
}

func displayHeader(session *psrfits.ReadSession) {
	hdr := session.Header()
	geom := session.Geometry()

	fmt.Printf("Name: %s\n", filepath.Base(session.Filename()))
	fmt.Printf("Mode: %s (OBS_MODE %s)\n", session.Mode(), hdr.ObsMode)
	fmt.Printf("Source: %s  RA %s  Dec %s\n", hdr.Source, hdr.RAStr, hdr.DecStr)
	fmt.Printf("Start: MJD %.10f (%s)\n", hdr.MJDEpoch(), hdr.DateObs)
	fmt.Printf("Frequency: %.3f MHz, bandwidth %.3f MHz, %d channels of %.6f MHz\n",
		hdr.CenterFreq, hdr.Bandwidth, hdr.NChan, hdr.ChanBW)
	fmt.Printf("Samples: %d bits, %d polarizations (%s), %.3f us\n",
		hdr.NBits, hdr.NPol, polDescription(hdr), hdr.TBin*1e6)
	fmt.Printf("Row: %s per subint, TDIM %s, %d rows in this file\n",
		humanize.IBytes(uint64(geom.BytesPerSubint)), geom.TDim(), session.RowsPerFile())

	if !showHeader {
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.AppendBulk([][]string{
		{"TELESCOP", hdr.Telescope},
		{"OBSERVER", hdr.Observer},
		{"PROJID", hdr.ProjectID},
		{"FRONTEND", hdr.Frontend},
		{"BACKEND", hdr.Backend},
		{"FD_POLN", hdr.PolnType},
		{"TRK_MODE", hdr.TrackMode},
		{"CAL_MODE", hdr.CalMode},
		{"FD_MODE", hdr.FeedMode},
		{"OBSNCHAN", fmt.Sprint(hdr.OrigNChan)},
		{"BMAJ", fmt.Sprint(hdr.BeamFWHM)},
		{"SCANLEN", fmt.Sprint(hdr.ScanLen)},
		{"STT_LST", fmt.Sprint(hdr.StartLST)},
		{"NSBLK", fmt.Sprint(hdr.NSblk)},
		{"NBIN", fmt.Sprint(hdr.NBin)},
		{"NSUBOFFS", fmt.Sprint(hdr.OffsetSubint)},
	})
	fmt.Println()
	table.Render()
}

func polDescription(hdr psrfits.ObservationHeader) string {
	if hdr.SummedPolns {
		return "summed"
	}
	return hdr.PolType()
}

func displayRow(n int, rec *psrfits.SubintRecord) {
	var sum float64
	for i := 0; i < rec.Data.Len(); i++ {
		sum += float64(rec.Data.At(i))
	}
	mean := 0.0
	if rec.Data.Len() > 0 {
		mean = sum / float64(rec.Data.Len())
	}
	fmt.Printf("  %5d  OFFS_SUB %10.4f s  TSUBINT %8.4f s  AZ %7.2f  ZA %6.2f  mean %8.3f\n",
		n, rec.OffsSub, rec.TSubint, rec.TelAz, rec.TelZen, mean)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
