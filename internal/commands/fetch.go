package commands

import (
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ndewijer/market-data-cache/internal/api/request"
	"github.com/ndewijer/market-data-cache/internal/model"
)

var (
	fetchExchange string
	fetchInterval string
	fetchFrom     string
	fetchTo       string
	fetchForce    bool
	fetchWarm     bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch SYMBOL [SYMBOL...]",
	Short: "Read bars through the cache",
	Long: `Fetch bars for one or more symbols, reading the cache first and
calling upstream only for uncovered ranges.

Examples:
  marketcache fetch RELIANCE --from 2024-01-01 --to 2024-03-31
  marketcache fetch INFY TCS --interval ONE_HOUR --from 2024-03-01
  marketcache fetch --warm $(cat nifty50.txt) --from 2023-01-01

With --warm only a summary is printed. Exit status is 2 when some
symbols failed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchExchange, "exchange", "", "Exchange (default DEFAULT_EXCHANGE)")
	fetchCmd.Flags().StringVar(&fetchInterval, "interval", "", "Interval (default DEFAULT_INTERVAL)")
	fetchCmd.Flags().StringVar(&fetchFrom, "from", "", "Start, YYYY-MM-DD or RFC3339 (default 30 days before --to)")
	fetchCmd.Flags().StringVar(&fetchTo, "to", "", "End, YYYY-MM-DD or RFC3339 (default now)")
	fetchCmd.Flags().BoolVar(&fetchForce, "force", false, "Refetch the whole window from upstream")
	fetchCmd.Flags().BoolVar(&fetchWarm, "warm", false, "Populate the cache and print a summary only")
	rootCmd.AddCommand(fetchCmd)
}

type fetchOutput struct {
	Symbol   string            `json:"symbol"`
	Count    int               `json:"count"`
	Source   model.FetchSource `json:"source,omitempty"`
	Degraded bool              `json:"degraded,omitempty"`
	Warning  string            `json:"warning,omitempty"`
	Error    string            `json:"error,omitempty"`
	Bars     []model.Bar       `json:"bars,omitempty"`
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	defaultInterval, err := model.ParseInterval(a.cfg.Cache.DefaultInterval)
	if err != nil {
		return err
	}
	interval, window, err := request.ParseWindow(fetchInterval, fetchFrom, fetchTo, defaultInterval, time.Now())
	if err != nil {
		return err
	}
	exchange := a.cfg.Cache.DefaultExchange
	if fetchExchange != "" {
		exchange = strings.ToUpper(fetchExchange)
	}

	if fetchWarm {
		summary, err := a.barService.WarmCache(ctx, args, exchange, interval, window.From, window.To)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
			return err
		}
		if summary.Failed > 0 {
			return errPartial
		}
		return nil
	}

	if len(args) == 1 {
		res, err := a.barService.FetchWithCache(ctx, model.CacheQuery{
			Symbol:   args[0],
			Exchange: exchange,
			Interval: interval,
			From:     window.From,
			To:       window.To,
		}, fetchForce)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), fetchOutput{
			Symbol:   strings.ToUpper(args[0]),
			Count:    len(res.Bars),
			Source:   res.Source,
			Degraded: res.Degraded,
			Warning:  res.Warning,
			Bars:     res.Bars,
		})
	}

	results := a.barService.FetchBatch(ctx, args, exchange, interval, window.From, window.To)
	out := make([]fetchOutput, 0, len(results))
	failed := 0
	for symbol, item := range results {
		o := fetchOutput{Symbol: symbol}
		if item.Err != nil {
			failed++
			o.Error = item.Err.Error()
		} else {
			o.Count = len(item.Result.Bars)
			o.Source = item.Result.Source
			o.Degraded = item.Result.Degraded
			o.Warning = item.Result.Warning
			o.Bars = item.Result.Bars
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })

	if err := printJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if failed > 0 {
		return errPartial
	}
	return nil
}
