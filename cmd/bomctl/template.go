package main

import (
	"fmt"

	"github.com/bitfantasy/nimo-bom/internal/service"
	"github.com/spf13/cobra"
)

func newTemplateCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write the spreadsheet import template",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := service.ImportTemplate()
			if err != nil {
				return err
			}
			defer f.Close()
			if err := f.SaveAs(output); err != nil {
				return fmt.Errorf("save template: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "BOM_Import_Template.xlsx", "Output file")
	return cmd
}
