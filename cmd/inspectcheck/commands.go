package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/inspectcheck/internal/checklist"
	"github.com/dshills/inspectcheck/internal/narrative"
	"github.com/dshills/inspectcheck/internal/render"
	"github.com/dshills/inspectcheck/internal/response"
	"github.com/dshills/inspectcheck/internal/service"
	"github.com/dshills/inspectcheck/internal/store"
)

// classify maps service errors onto exit codes.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return err
	}
	var rej *service.RejectedError
	if errors.As(err, &rej) {
		return &exitError{code: exitCodeRejected, err: err}
	}
	var ae *service.ActionError
	switch {
	case errors.As(err, &ae),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, checklist.ErrUnknownSchema),
		errors.Is(err, service.ErrNoActions):
		return &exitError{code: exitCodeBadInput, err: err}
	}
	return err
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return badInput("%s: expected %d argument(s), got %d", cmd.Name(), n, len(args))
		}
		return nil
	}
}

// withApp opens the application, runs fn and maps its error.
func withApp(ctx context.Context, g globalFlags, fn func(*app) error) error {
	a, err := openApp(ctx, g)
	if err != nil {
		return classify(err)
	}
	defer a.close()
	return classify(fn(a))
}

// schema

type schemaFlags struct {
	version int
}

func newSchemaCmd(g *globalFlags) *cobra.Command {
	var f schemaFlags
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "List the available checklist schemas",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchemaList(*g, cmd.OutOrStdout())
		},
	}
	show := &cobra.Command{
		Use:   "show NAME",
		Short: "Show the sections and items of a schema",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchemaShow(*g, args[0], f, cmd.OutOrStdout())
		},
	}
	show.Flags().IntVar(&f.version, "version", 0, "schema version (default: latest)")
	validate := &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a schema YAML file",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchemaValidate(args[0], cmd.OutOrStdout())
		},
	}
	cmd.AddCommand(show, validate)
	return cmd
}

func runSchemaList(g globalFlags, w io.Writer) error {
	cfg, _, err := loadConfig(g)
	if err != nil {
		return err
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tSECTIONS\tITEMS\tTITLE")
	for _, name := range cat.Names() {
		s, err := cat.Lookup(name, 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", s.Name, s.Version, s.TotalSectionCount(), s.TotalItemCount(), s.Title)
	}
	return tw.Flush()
}

func runSchemaShow(g globalFlags, name string, f schemaFlags, w io.Writer) error {
	cfg, _, err := loadConfig(g)
	if err != nil {
		return err
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	s, err := cat.Lookup(name, f.version)
	if err != nil {
		return classify(err)
	}
	fmt.Fprintf(w, "%s v%d  %s\n", s.Name, s.Version, s.Title)
	for _, sec := range s.Sections {
		var flags []string
		if sec.SupportsNotApplicable {
			flags = append(flags, "n/a")
		}
		for _, fld := range []checklist.Field{checklist.FieldLocation, checklist.FieldVoltage, checklist.FieldCurrent, checklist.FieldPower, checklist.FieldNotes} {
			if sec.HasField(fld) {
				flags = append(flags, string(fld))
			}
		}
		fmt.Fprintf(w, "\n%s. %s", sec.Code, sec.Name)
		if len(flags) > 0 {
			fmt.Fprintf(w, " [%s]", strings.Join(flags, ", "))
		}
		fmt.Fprintln(w)
		for _, it := range sec.Items {
			values := make([]string, 0, len(it.Options))
			for _, o := range it.Options {
				values = append(values, o.Value)
			}
			if it.AcceptsFreeText {
				values = append(values, "text")
			}
			fmt.Fprintf(w, "  %d. %s (%s)\n", it.Number, it.Name, strings.Join(values, "|"))
		}
	}
	return nil
}

func runSchemaValidate(path string, w io.Writer) error {
	s, err := checklist.LoadFile(path)
	if err != nil {
		return badInput("%w", err)
	}
	fmt.Fprintf(w, "%s: ok (%s, %d sections, %d items)\n", path, s.Key(), s.TotalSectionCount(), s.TotalItemCount())
	return nil
}

// new

type newFlags struct {
	schema    string
	version   int
	subject   string
	inspector string
	date      string
	notes     string
}

func newNewCmd(g *globalFlags) *cobra.Command {
	var f newFlags
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a draft inspection and print its id",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNew(cmd.Context(), *g, f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.schema, "schema", "", "checklist schema name (required)")
	cmd.Flags().IntVar(&f.version, "version", 0, "schema version (default: latest)")
	cmd.Flags().StringVar(&f.subject, "subject", "", "inspected site or equipment")
	cmd.Flags().StringVar(&f.inspector, "inspector", "", "inspector name")
	cmd.Flags().StringVar(&f.date, "date", "", "inspection date, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.notes, "notes", "", "general notes")
	return cmd
}

func runNew(ctx context.Context, g globalFlags, f newFlags, w io.Writer) error {
	if f.schema == "" {
		return badInput("new: --schema is required")
	}
	meta := response.Metadata{Subject: f.subject, Inspector: f.inspector, Notes: f.notes}
	if f.date != "" {
		d, err := time.Parse(time.DateOnly, f.date)
		if err != nil {
			return badInput("new: --date: %w", err)
		}
		meta.Date = d
	}
	return withApp(ctx, g, func(a *app) error {
		in, err := a.svc.Create(ctx, f.schema, f.version, meta)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, in.ID)
		return nil
	})
}

// apply

type applyFlags struct {
	file string
}

func newApplyCmd(g *globalFlags) *cobra.Command {
	var f applyFlags
	cmd := &cobra.Command{
		Use:   "apply ID",
		Short: "Apply a YAML or JSON list of actions to a draft",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), *g, args[0], f, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&f.file, "file", "f", "-", "actions file, - for stdin")
	return cmd
}

func runApply(ctx context.Context, g globalFlags, id string, f applyFlags, stdin io.Reader, w io.Writer) error {
	var data []byte
	var err error
	if f.file == "-" || f.file == "" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(f.file)
	}
	if err != nil {
		return badInput("apply: %w", err)
	}
	actions, err := service.DecodeActions(data)
	if err != nil {
		return badInput("apply: %w", err)
	}
	return withApp(ctx, g, func(a *app) error {
		in, err := a.svc.Apply(ctx, id, actions)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %d action(s) applied, revision %d\n", in.ID, len(actions), in.Revision)
		return nil
	})
}

// status

type statusFlags struct {
	json bool
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	var f statusFlags
	cmd := &cobra.Command{
		Use:   "status ID",
		Short: "Evaluate the conformity of an inspection",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), *g, args[0], f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&f.json, "json", false, "print the result as JSON")
	return cmd
}

func runStatus(ctx context.Context, g globalFlags, id string, f statusFlags, w io.Writer) error {
	return withApp(ctx, g, func(a *app) error {
		res, err := a.svc.Status(ctx, id)
		if err != nil {
			return err
		}
		if f.json {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SECTION\tSTATUS\tANSWERED\tNC")
		for _, s := range res.Sections {
			fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%d\n", s.Code, s.Status, s.Answered, s.Total, s.NonConforming)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(w, "\nnon-conformities: %t (%d item(s))\n", res.HasNonconformities, res.NonConformingItems)
		if len(res.UnansweredSections) > 0 {
			fmt.Fprintf(w, "unanswered: %s\n", strings.Join(res.UnansweredSections, ", "))
		}
		return nil
	})
}

// report

type reportFlags struct {
	format string
	out    string
}

func newReportCmd(g *globalFlags) *cobra.Command {
	var f reportFlags
	cmd := &cobra.Command{
		Use:   "report ID",
		Short: "Render the inspection report",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), *g, args[0], f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.format, "format", render.FormatMarkdown, "json, markdown or xlsx")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "output file (default: stdout)")
	return cmd
}

func runReport(ctx context.Context, g globalFlags, id string, f reportFlags, w io.Writer) error {
	switch f.format {
	case render.FormatJSON, render.FormatMarkdown:
	case render.FormatXLSX:
		if f.out == "" {
			return badInput("report: --out is required for xlsx")
		}
	default:
		return badInput("report: unknown format %q", f.format)
	}

	return withApp(ctx, g, func(a *app) error {
		doc, err := a.svc.Document(ctx, id)
		if err != nil {
			return err
		}
		out, closeOut, err := openOutput(f.out, w)
		if err != nil {
			return err
		}
		switch f.format {
		case render.FormatJSON:
			b, rerr := render.RenderJSON(doc)
			if rerr == nil {
				_, rerr = fmt.Fprintln(out, string(b))
			}
			err = rerr
		case render.FormatMarkdown:
			_, err = io.WriteString(out, render.RenderMarkdown(doc))
		case render.FormatXLSX:
			err = render.RenderXLSX(doc, out)
		}
		if cerr := closeOut(); err == nil {
			err = cerr
		}
		return err
	})
}

// submit

func newSubmitCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "submit ID",
		Short: "Validate and finalize an inspection",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), *g, args[0], cmd.OutOrStdout())
		},
	}
}

func runSubmit(ctx context.Context, g globalFlags, id string, w io.Writer) error {
	return withApp(ctx, g, func(a *app) error {
		in, err := a.svc.Submit(ctx, id)
		var rej *service.RejectedError
		if errors.As(err, &rej) {
			for _, ve := range rej.Errors {
				fmt.Fprintf(w, "  - %s\n", ve.Error())
			}
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: submitted at %s\n", in.ID, in.SubmittedAt.Format(time.RFC3339))
		return nil
	})
}

// summarize

type summarizeFlags struct {
	provider string
	model    string
	language string
	json     bool
}

func newSummarizeCmd(g *globalFlags) *cobra.Command {
	var f summarizeFlags
	cmd := &cobra.Command{
		Use:   "summarize ID",
		Short: "Draft a findings summary of the non-conformities with an LLM",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSummarize(cmd.Context(), *g, args[0], f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.provider, "provider", "", "anthropic, openai or google (default: narrative.provider)")
	cmd.Flags().StringVar(&f.model, "model", "", "model name (default: provider default)")
	cmd.Flags().StringVar(&f.language, "language", "", "summary language")
	cmd.Flags().BoolVar(&f.json, "json", false, "print the summary as JSON")
	return cmd
}

func runSummarize(ctx context.Context, g globalFlags, id string, f summarizeFlags, w io.Writer) error {
	return withApp(ctx, g, func(a *app) error {
		nc := a.cfg.Narrative
		opts := narrative.Options{
			Provider:    nc.Provider,
			Model:       nc.Model,
			MaxTokens:   nc.MaxTokens,
			Temperature: nc.Temperature,
			Language:    nc.Language,
		}
		if f.provider != "" {
			opts.Provider = f.provider
		}
		if f.model != "" {
			opts.Model = f.model
		}
		if f.language != "" {
			opts.Language = f.language
		}
		if nc.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, nc.Timeout)
			defer cancel()
		}

		sum, err := a.svc.Summarize(ctx, id, opts)
		if err != nil {
			return err
		}
		if f.json {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		}
		fmt.Fprintln(w, sum.Overview)
		for _, fd := range sum.Findings {
			fmt.Fprintf(w, "\n[%s] %s: %s\n", fd.Severity, fd.Ref(), fd.Observation)
			if fd.Recommendation != "" {
				fmt.Fprintf(w, "  -> %s\n", fd.Recommendation)
			}
		}
		if len(sum.Uncovered) > 0 {
			fmt.Fprintf(w, "\nnot covered by the summary: %s\n", strings.Join(sum.Uncovered, ", "))
		}
		return nil
	})
}

// list

type listFlags struct {
	status string
}

func newListCmd(g *globalFlags) *cobra.Command {
	var f listFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored inspections",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), *g, f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.status, "status", "", "draft or submitted (default: all)")
	return cmd
}

func runList(ctx context.Context, g globalFlags, f listFlags, w io.Writer) error {
	status := response.Status(f.status)
	switch status {
	case "", response.StatusDraft, response.StatusSubmitted:
	default:
		return badInput("list: unknown status %q", f.status)
	}
	return withApp(ctx, g, func(a *app) error {
		hs, err := a.svc.List(ctx, status)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSCHEMA\tSTATUS\tSUBJECT\tCREATED")
		for _, h := range hs {
			fmt.Fprintf(tw, "%s\t%s@%d\t%s\t%s\t%s\n", h.ID, h.SchemaName, h.SchemaVersion, h.Status, h.Metadata.Subject, h.CreatedAt.Format(time.DateOnly))
		}
		return tw.Flush()
	})
}
