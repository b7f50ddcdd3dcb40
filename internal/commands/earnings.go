package commands

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ndewijer/market-data-cache/internal/model"
)

var (
	earningsDays     int
	earningsForce    bool
	earningsUniverse string
	earningsFile     string

	mappingCompany string
	mappingPrefix  string
)

var earningsCmd = &cobra.Command{
	Use:   "earnings",
	Short: "List upcoming earnings or filter a universe by them",
	Long: `Without a universe, print the earnings announcements in the next
--days days. With --universe or --universe-file, print the subset of the
universe that reports in that window.

Examples:
  marketcache earnings --days 7
  marketcache earnings --universe-file nifty500.txt --days 5`,
	RunE: runEarnings,
}

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "Manage exchange code to symbol mappings",
}

var mappingsAddCmd = &cobra.Command{
	Use:   "add SOURCE_CODE SYMBOL",
	Short: "Create or update one mapping",
	Args:  cobra.ExactArgs(2),
	RunE:  runMappingsAdd,
}

var mappingsImportCmd = &cobra.Command{
	Use:   "import FILE.csv",
	Short: "Bulk import mappings from CSV",
	Long: `Import mappings from a CSV file with the columns
source_code,symbol[,company_name]. A header row is detected and skipped.
The whole file is refused if any row is invalid.`,
	Args: cobra.ExactArgs(1),
	RunE: runMappingsImport,
}

var mappingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mappings",
	RunE:  runMappingsList,
}

func init() {
	earningsCmd.Flags().IntVar(&earningsDays, "days", -1, "Look-forward window in days (default EARNINGS_LOOKFORWARD_DAYS)")
	earningsCmd.Flags().BoolVar(&earningsForce, "force", false, "Refetch the calendar even if the window is cached")
	earningsCmd.Flags().StringVar(&earningsUniverse, "universe", "", "Comma separated universe to filter")
	earningsCmd.Flags().StringVar(&earningsFile, "universe-file", "", "File with one universe symbol per line")

	mappingsAddCmd.Flags().StringVar(&mappingCompany, "company", "", "Company name")
	mappingsListCmd.Flags().StringVar(&mappingPrefix, "prefix", "", "Only symbols starting with this prefix")

	mappingsCmd.AddCommand(mappingsAddCmd, mappingsImportCmd, mappingsListCmd)
	rootCmd.AddCommand(earningsCmd, mappingsCmd)
}

func runEarnings(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	days := earningsDays
	if days < 0 {
		days = a.cfg.Earnings.LookforwardDays
	}

	if earningsUniverse == "" && earningsFile == "" {
		anns, err := a.earningsService.GetUpcomingEarnings(ctx, days, earningsForce)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), anns)
	}

	universe, err := readSymbols(earningsUniverse, earningsFile)
	if err != nil {
		return err
	}
	res, err := a.earningsService.FilterUniverseByEarnings(ctx, universe, days, earningsForce)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func runMappingsAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	changed, err := a.earningsService.AddMapping(cmd.Context(), args[0], args[1], mappingCompany)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]bool{"changed": changed})
}

func runMappingsImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer f.Close()

	mappings, err := parseMappingsCSV(f)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	changed, err := a.earningsService.ImportMappings(cmd.Context(), mappings)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]int{"rows": len(mappings), "changed": changed})
}

func runMappingsList(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	mappings, err := a.earningsService.ListMappings(cmd.Context(), mappingPrefix)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), mappings)
}

// parseMappingsCSV reads source_code,symbol[,company_name] rows. A first row
// whose first cell is not a code (contains "code" or "source") is a header.
func parseMappingsCSV(r io.Reader) ([]model.SymbolMapping, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var out []model.SymbolMapping
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 && isHeader(record) {
			continue
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("line %d: expected source_code,symbol[,company_name]", line)
		}
		m := model.SymbolMapping{SourceCode: record[0], CanonicalSymbol: record[1]}
		if len(record) > 2 {
			m.CompanyName = record[2]
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, errors.New("no mappings in file")
	}
	return out, nil
}

func isHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	first := strings.ToLower(record[0])
	return strings.Contains(first, "code") || strings.Contains(first, "source")
}
