package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ericvolp12/rental-monitor/pkg/parq"
	"github.com/ericvolp12/rental-monitor/pkg/project"
	"github.com/ericvolp12/rental-monitor/pkg/source"
	"github.com/ericvolp12/rental-monitor/pkg/store"
	"github.com/ericvolp12/rental-monitor/pkg/subgraph"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:    "export",
		Usage:   "export a marketplace collection or the stored event history",
		Version: "0.1.0",
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "subgraph-url",
			Usage:   "GraphQL endpoint of the marketplace indexer",
			EnvVars: []string{"RM_SUBGRAPH_URL"},
		},
		&cli.BoolFlag{
			Name:  "fixture",
			Usage: "export deterministic fixture data instead of querying the indexer",
		},
		&cli.Float64Flag{
			Name:    "query-rate",
			Usage:   "rate limit for indexer queries in requests per second",
			Value:   5,
			EnvVars: []string{"RM_QUERY_RATE"},
		},
		&cli.IntFlag{
			Name:  "max-records",
			Usage: "stop after this many records",
			Value: 5000,
		},
		&cli.StringFlag{
			Name:    "sqlite-path",
			Usage:   "event store to read from when exporting events",
			Value:   "/data/rental-monitor.db",
			EnvVars: []string{"RM_SQLITE_PATH"},
		},
		&cli.StringFlag{
			Name:  "output-dir",
			Usage: "directory to write the export to",
			Value: "./out/<collection>",
		},
		&cli.BoolFlag{
			Name:  "compress",
			Usage: "compress the resulting directory into a gzip file",
		},
		&cli.StringFlag{
			Name:  "search",
			Usage: "only export records matching this text",
		},
		&cli.StringFlag{
			Name:  "category",
			Usage: "only export records in this category",
		},
		&cli.StringFlag{
			Name:  "status",
			Usage: "only export records with this status",
		},
		&cli.StringFlag{
			Name:  "sort",
			Usage: "sort key (recency, price, duration, votes, amount, title)",
		},
	}

	app.ArgsUsage = "<rentals|proposals|activity|events>"

	app.Action = Export

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

// Export writes one JSON file per record, or a single parquet file for
// stored events.
func Export(cctx *cli.Context) error {
	ctx := cctx.Context
	collection := cctx.Args().First()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	q, err := project.ParseQuery(url.Values{
		"search":   {cctx.String("search")},
		"category": {cctx.String("category")},
		"status":   {cctx.String("status")},
		"sort":     {cctx.String("sort")},
	})
	if err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}

	outputDir := cctx.String("output-dir")
	if outputDir == "./out/<collection>" {
		outputDir = filepath.Join("./out", collection)
	}
	outputDir, err = filepath.Abs(outputDir)
	if err != nil {
		return fmt.Errorf("error getting absolute path: %w", err)
	}

	if collection == "events" {
		return exportEvents(ctx, logger, cctx.String("sqlite-path"), outputDir, cctx.Int("max-records"))
	}

	var src source.DataSource
	switch {
	case cctx.Bool("fixture"):
		src = source.NewFixture(50, 12)
	case cctx.String("subgraph-url") != "":
		src = subgraph.NewClient(logger, cctx.String("subgraph-url"), cctx.Float64("query-rate"))
	default:
		return fmt.Errorf("one of --subgraph-url or --fixture is required")
	}

	limit := cctx.Int("max-records")
	var records []record

	switch collection {
	case "rentals":
		items, err := fetchAll(ctx, src.Rentals, limit)
		if err != nil {
			return err
		}
		for _, r := range filterSorted(items, q) {
			records = append(records, record{ID: r.ID, Value: r})
		}
	case "proposals":
		items, err := fetchAll(ctx, src.Proposals, limit)
		if err != nil {
			return err
		}
		for _, p := range filterSorted(items, q) {
			records = append(records, record{ID: p.ID, Value: p})
		}
	case "activity":
		items, err := fetchAll(ctx, src.ActivityFeed, limit)
		if err != nil {
			return err
		}
		for _, a := range filterSorted(items, q) {
			records = append(records, record{ID: a.ID, Value: a})
		}
	default:
		return fmt.Errorf("unknown collection %q", collection)
	}

	if err := writeRecords(collection, outputDir, cctx.Bool("compress"), records); err != nil {
		return err
	}

	logger.Info("export complete", "collection", collection, "output", outputDir, "records", len(records))
	return nil
}

type record struct {
	ID    string
	Value any
}

// filterSorted projects without paginating: an export keeps every match.
func filterSorted[T project.Item](items []T, q project.Query) []T {
	out := project.Filter(items, q)
	project.Sort(out, q.SortKey, q.SortDir)
	return out
}

// fetchAll pages through a collection until a short page or limit records.
func fetchAll[T any](ctx context.Context, fetch func(context.Context, source.Page) ([]T, error), limit int) ([]T, error) {
	var out []T
	for len(out) < limit {
		page := source.Page{First: min(subgraph.DefaultFirst, limit-len(out)), Skip: len(out)}
		items, err := fetch(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch page at %d: %w", page.Skip, err)
		}
		out = append(out, items...)
		if len(items) < page.First {
			break
		}
	}
	return out, nil
}

// writeRecords writes one file per record plus index.json, which lists the
// ids in export order.
func writeRecords(collection, outputDir string, compress bool, records []record) error {
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	index, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	if !compress {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("error creating directory: %w", err)
		}
		for _, rec := range records {
			b, err := json.MarshalIndent(rec.Value, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal record %s: %w", rec.ID, err)
			}
			if err := os.WriteFile(filepath.Join(outputDir, rec.ID+".json"), b, 0644); err != nil {
				return fmt.Errorf("error writing record %s: %w", rec.ID, err)
			}
		}
		if err := os.WriteFile(filepath.Join(outputDir, "index.json"), index, 0644); err != nil {
			return fmt.Errorf("error writing index: %w", err)
		}
		return nil
	}

	tarFile, err := os.Create(outputDir + ".tar.gz")
	if err != nil {
		return fmt.Errorf("error creating tar.gz file: %w", err)
	}
	defer tarFile.Close()

	gzipWriter := gzip.NewWriter(tarFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	now := time.Now()
	write := func(name string, b []byte) error {
		hdr := &tar.Header{
			Name:    fmt.Sprintf("%s/%s", collection, name),
			Mode:    0600,
			Size:    int64(len(b)),
			ModTime: now,
		}
		if err := tarWriter.WriteHeader(hdr); err != nil {
			return fmt.Errorf("error writing tar header: %w", err)
		}
		if _, err := tarWriter.Write(b); err != nil {
			return fmt.Errorf("error writing %s to tar file: %w", name, err)
		}
		return nil
	}

	for _, rec := range records {
		b, err := json.Marshal(rec.Value)
		if err != nil {
			return fmt.Errorf("failed to marshal record %s: %w", rec.ID, err)
		}
		if err := write(rec.ID+".json", b); err != nil {
			return err
		}
	}
	return write("index.json", index)
}

func exportEvents(ctx context.Context, logger *slog.Logger, sqlitePath, outputDir string, limit int) error {
	st, err := store.Open(logger, sqlitePath, false, 0)
	if err != nil {
		return err
	}
	defer st.Close()

	evts, err := st.Events(ctx, store.Query{Limit: limit})
	if err != nil {
		return err
	}

	now := time.Now()
	records := make([]*parq.Record, 0, len(evts))
	for _, evt := range evts {
		r, err := parq.NewRecord(evt, now)
		if err != nil {
			return err
		}
		records = append(records, r)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}
	fName := filepath.Join(outputDir, fmt.Sprintf("events_%s.parquet", now.UTC().Format("2006_01_02-15_04_05")))
	if err := parq.WriteFile(fName, records); err != nil {
		return err
	}

	logger.Info("export complete", "collection", "events", "output", fName, "records", len(records))
	return nil
}
