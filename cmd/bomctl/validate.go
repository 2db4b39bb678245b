package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/bitfantasy/nimo-bom/internal/bom"
	"github.com/bitfantasy/nimo-bom/internal/service"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type validateOptions struct {
	format   string
	output   string
	maxDepth int
}

func newValidateCmd() *cobra.Command {
	var opts validateOptions

	cmd := &cobra.Command{
		Use:   "validate <file|->",
		Short: "Validate a BOM file (json, yaml or xlsx) and print its rollup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.InOrStdin(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.format, "format", "", "Input format: json, yaml, xlsx (default: from file extension)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "Output: text or json")
	cmd.Flags().IntVar(&opts.maxDepth, "max-depth", bom.DefaultMaxDepth, "Maximum number of levels")
	return cmd
}

// bomFile is either {"items": [...]} (optionally with a header) or a bare item list.
type bomFile struct {
	Items []bom.Node `json:"items"`
}

func inputFormat(path, flag string) (string, error) {
	f := strings.ToLower(strings.TrimSpace(flag))
	if f == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			f = "yaml"
		case ".xlsx":
			f = "xlsx"
		default:
			f = "json"
		}
	}
	switch f {
	case "json", "yaml", "xlsx":
		return f, nil
	}
	return "", withCode(exitUsage, fmt.Errorf("unknown --format %q", flag))
}

func readItems(r io.Reader, format string) ([]bom.Node, error) {
	if format == "xlsx" {
		return service.ParseSpreadsheet(r)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if format == "yaml" {
		var doc interface{}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		if raw, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("convert yaml: %w", err)
		}
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var items []bom.Node
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("parse items: %w", err)
		}
		return items, nil
	}
	var f bomFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse bom: %w", err)
	}
	return f.Items, nil
}

func runValidate(stdin io.Reader, out io.Writer, path string, opts validateOptions) error {
	format, err := inputFormat(path, opts.format)
	if err != nil {
		return err
	}
	if opts.output != "text" && opts.output != "json" {
		return withCode(exitUsage, fmt.Errorf("unknown --output %q", opts.output))
	}

	in := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return withCode(exitUsage, err)
		}
		defer f.Close()
		in = f
	}

	items, err := readItems(in, format)
	if err == nil {
		var tree *bom.Tree
		if tree, err = bom.NewValidator(opts.maxDepth).Validate(items); err == nil {
			var r bom.Rollup
			if r, err = tree.Aggregate(); err == nil {
				return printResult(out, opts.output, bom.Result{Items: tree.Nodes(), Rollup: r}, tree)
			}
		}
	}

	if ve, ok := bom.AsValidationError(err); ok {
		if perr := printProblems(out, opts.output, ve); perr != nil {
			return perr
		}
		return withCode(exitInvalid, fmt.Errorf("%d problem(s) found", len(ve.Problems)))
	}
	return withCode(exitUsage, err)
}

func printResult(out io.Writer, output string, res bom.Result, tree *bom.Tree) error {
	if output == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tITEM CODE\tQTY\tUOM\tRATE\tAMOUNT\tROLLUP")
	tree.Walk(func(_ int, n bom.Node) bool {
		fmt.Fprintf(tw, "%s%s\t%s\t%v\t%s\t%v\t%.2f\t%.2f\n",
			strings.Repeat("  ", n.Level), n.ID, n.ItemCode, n.Quantity, n.UOM, n.Rate, n.Amount, n.RollupCost)
		return true
	})
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\ntotal material cost: %.2f\nitems: %d  max level: %d  currencies: %s\n",
		res.TotalMaterialCost, res.TotalItems, res.MaxLevel, strings.Join(res.Currencies, ","))
	if res.MixedCurrency {
		fmt.Fprintln(out, "warning: items use more than one currency, the total is not converted")
	}
	return nil
}

func printProblems(out io.Writer, output string, ve *bom.ValidationError) error {
	if output == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{"problems": ve.Problems})
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tITEM CODE\tCODE\tMESSAGE")
	for _, p := range ve.Problems {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Path, p.ItemCode, p.Code, p.Message)
	}
	return tw.Flush()
}
