package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/moddengine/imgfeed/feed"
	"github.com/moddengine/imgfeed/search"
	"github.com/moddengine/imgfeed/store"
	"github.com/spf13/cobra"
)

type searchFlags struct {
	pages    int
	server   string
	user     string
	password string
}

func newSearchCommand(app *cli) *cobra.Command {
	flags := searchFlags{pages: 1}
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Print the interleaved feed for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, closeSource, err := searchSource(app, flags)
			if err != nil {
				return err
			}
			defer closeSource()
			ctrl := feed.NewController(source, app.log)
			defer ctrl.Close()
			return runSearch(cmd.Context(), ctrl, strings.Join(args, " "), flags.pages, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&flags.pages, "pages", flags.pages, "number of pages to load")
	cmd.Flags().StringVar(&flags.server, "server", "", "query a running imgfeed server instead of the providers")
	cmd.Flags().StringVar(&flags.user, "user", "", "API user for --server")
	cmd.Flags().StringVar(&flags.password, "password", "", "API password for --server")
	return cmd
}

// searchSource picks the remote client or the local provider stack.
func searchSource(app *cli, flags searchFlags) (feed.Source, func(), error) {
	if flags.server != "" {
		var opts []feed.ClientOption
		if flags.user != "" {
			opts = append(opts, feed.WithBasicAuth(flags.user, flags.password))
		}
		return feed.NewClient(flags.server, opts...), func() {}, nil
	}
	st, err := store.New(app.cfg.Database, app.log)
	if err != nil {
		return nil, nil, err
	}
	aggregator, err := newAggregator(app.cfg, search.NewReqCache(st, app.log), app.log)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return feed.Local(aggregator), func() { st.Close() }, nil
}

func runSearch(ctx context.Context, ctrl *feed.Controller, query string, pages int, out io.Writer) error {
	results, err := ctrl.Search(ctx, query)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	printResults(tw, 1, results)
	for page := 2; page <= pages && ctrl.State() == feed.Ready; page++ {
		added, err := ctrl.LoadMore(ctx)
		if err != nil {
			tw.Flush()
			return err
		}
		printResults(tw, page, added)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if ctrl.Len() == 0 {
		fmt.Fprintf(out, "No results for %q\n", query)
	}
	return nil
}

func printResults(w io.Writer, page int, results []search.ImageResult) {
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", page, r.Source, r.URL, r.AttributionName)
	}
}
