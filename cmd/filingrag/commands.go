package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/filingrag/internal/chunking"
	"github.com/fyrsmithlabs/filingrag/internal/filing"
	"github.com/fyrsmithlabs/filingrag/internal/ingest"
	"github.com/fyrsmithlabs/filingrag/internal/registry"
	"github.com/fyrsmithlabs/filingrag/internal/retrieval"
	"github.com/fyrsmithlabs/filingrag/internal/vectorstore"
)

// withApp wires the pipeline for a one-shot command and closes it after fn.
func withApp(cmd *cobra.Command, opts *options, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts, true)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// readDocument reads a file, or stdin when path is "-".
func readDocument(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func namespaceArg(args []string) (string, error) {
	if err := filing.ValidateNamespace(args[0]); err != nil {
		return "", err
	}
	return args[0], nil
}

// metadataFlags binds the filing metadata flags shared by ingest and chunk.
func metadataFlags(cmd *cobra.Command, meta *filing.Metadata) {
	cmd.Flags().StringVar(&meta.Ticker, "ticker", "", "company ticker symbol (required)")
	cmd.Flags().StringVar(&meta.AccessionNumber, "accession", "", "SEC accession number (required)")
	cmd.Flags().StringVar(&meta.FormType, "form", "10-K", "form type")
	cmd.Flags().StringVar(&meta.FilingDate, "filing-date", "", "filing date, YYYY-MM-DD")
	cmd.Flags().IntVar(&meta.FiscalYear, "fiscal-year", 0, "fiscal year (derived from the filing date when unset)")
	cmd.Flags().IntVar(&meta.FiscalQuarter, "fiscal-quarter", 0, "fiscal quarter for 10-Q filings")
	_ = cmd.MarkFlagRequired("ticker")
	_ = cmd.MarkFlagRequired("accession")
}

func newIngestCmd(opts *options) *cobra.Command {
	var meta filing.Metadata
	cmd := &cobra.Command{
		Use:   "ingest <file|->",
		Short: "Chunk and embed one filing synchronously",
		Long: `Chunk and embed one filing, blocking until its vectors are stored.
A filing that is already embedded is skipped.

Examples:
  filingrag ingest aapl-10k.txt --ticker AAPL --accession 0000320193-24-000081 --filing-date 2024-11-01
  curl -s https://example.com/filing.txt | filingrag ingest - --ticker MSFT --accession 0000950170-24-087843`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readDocument(cmd, args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				sub, err := a.queue.IngestNow(ctx, ingest.Task{Metadata: meta, Text: text})
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), sub)
				}
				switch {
				case sub.Skipped:
					fmt.Fprintf(cmd.OutOrStdout(), "%s already embedded\n", sub.Namespace)
				case sub.Job != nil:
					fmt.Fprintf(cmd.OutOrStdout(), "%s embedded: %d chunks (job %s)\n", sub.Namespace, sub.Job.Chunks, sub.Job.ID)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", sub.Namespace, sub.Status)
				}
				return nil
			})
		},
	}
	metadataFlags(cmd, &meta)
	return cmd
}

func newChunkCmd(opts *options) *cobra.Command {
	var meta filing.Metadata
	cmd := &cobra.Command{
		Use:   "chunk <file|->",
		Short: "Print the chunks a filing would produce, without embedding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readDocument(cmd, args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			builder, err := newBuilder(cfg.Chunking)
			if err != nil {
				return err
			}

			meta = meta.Normalize()
			if err := meta.Validate(); err != nil {
				return err
			}
			chunks := builder.ChunkDocument(text, meta)
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), chunks)
			}
			printChunks(cmd.OutOrStdout(), meta.Namespace(), chunks)
			return nil
		},
	}
	metadataFlags(cmd, &meta)
	return cmd
}

func printChunks(w io.Writer, namespace string, chunks []chunking.Chunk) {
	fmt.Fprintf(w, "%s: %d chunks\n", namespace, len(chunks))
	for _, c := range chunks {
		fmt.Fprintf(w, "  %-60s %-30s %6d chars\n", c.ID, c.Metadata.Section, len(c.Text))
	}
}

func newQueryCmd(opts *options) *cobra.Command {
	var (
		topK   int
		filter map[string]string
	)
	cmd := &cobra.Command{
		Use:   "query <namespace> <question>",
		Short: "Retrieve the chunks most relevant to a question",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, err := namespaceArg(args)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				results, err := a.retrieval.Query(ctx, args[1], ns, topK, filter)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), results)
				}
				if len(results) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no relevant context")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), retrieval.FormatContext(results))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "results to return (default retrieval.top_k)")
	cmd.Flags().StringToStringVar(&filter, "filter", nil, "exact-match metadata filter, e.g. section=\"Item 1A. Risk Factors\"")
	return cmd
}

func newReportCmd(opts *options) *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "report <namespace>",
		Short: "Retrieve context for every report topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, err := namespaceArg(args)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				topics, err := a.retrieval.ReportContext(ctx, ns, topK)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), topics)
				}
				printReport(cmd.OutOrStdout(), topics)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "results per topic (default retrieval.top_k)")
	return cmd
}

func printReport(w io.Writer, topics map[string][]vectorstore.QueryResult) {
	keys := make([]string, 0, len(topics))
	for k := range topics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "== %s (%d)\n", k, len(topics[k]))
		if len(topics[k]) > 0 {
			fmt.Fprintln(w, retrieval.FormatContext(topics[k]))
		}
		fmt.Fprintln(w)
	}
}

type statusOutput struct {
	Namespace string           `json:"namespace"`
	Filing    *registry.Filing `json:"filing,omitempty"`
	Job       *registry.Job    `json:"job,omitempty"`
	Vectors   int              `json:"vectors"`
	Retrieval string           `json:"retrieval"`
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <namespace>",
		Short: "Show the registry and vector state of a filing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, err := namespaceArg(args)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				out, err := namespaceStatus(ctx, a, ns)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), out)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "namespace: %s\nretrieval: %s\nvectors:   %d\n", out.Namespace, out.Retrieval, out.Vectors)
				if out.Filing != nil {
					fmt.Fprintf(w, "embedded:  %t (%d chunks)\n", out.Filing.IsEmbedded, out.Filing.TotalChunks)
				}
				if out.Job != nil {
					fmt.Fprintf(w, "last job:  %s %s attempts=%d %s\n", out.Job.ID, out.Job.Status, out.Job.Attempts, out.Job.Error)
				}
				return nil
			})
		},
	}
}

// namespaceStatus tolerates a missing filing and an unavailable store so
// the command can diagnose either.
func namespaceStatus(ctx context.Context, a *app, ns string) (statusOutput, error) {
	out := statusOutput{Namespace: ns, Retrieval: "ready"}
	if err := a.retrieval.Ready(); err != nil {
		out.Retrieval = err.Error()
	}

	f, err := a.registry.GetFiling(ctx, ns)
	switch {
	case err == nil:
		out.Filing = &f
	case !errors.Is(err, registry.ErrNotFound):
		return out, err
	}

	job, err := a.registry.LatestJob(ctx, ns)
	switch {
	case err == nil:
		out.Job = &job
	case !errors.Is(err, registry.ErrNotFound):
		return out, err
	}

	stats, err := a.retrieval.NamespaceStats(ctx, ns)
	switch {
	case err == nil:
		out.Vectors = stats.Vectors
	case !errors.Is(err, retrieval.ErrUnavailable):
		return out, err
	}
	return out, nil
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <namespace>",
		Short: "Delete a filing's vectors so it can be re-ingested",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, err := namespaceArg(args)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.retrieval.DeleteNamespace(ctx, ns); err != nil {
					return err
				}
				if err := a.registry.ClearEmbedded(ctx, ns); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", ns)
				return nil
			})
		},
	}
}
