package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/safing/winicon/icons"
)

func init() {
	rootCmd.AddCommand(convertCmd)
}

var convertCmd = &cobra.Command{
	Use:   "convert [files...]",
	Short: "Convert icon containers to PNG files next to the inputs",
	Args:  cobra.MinimumNArgs(1),
	RunE:  convert,
}

func convert(cmd *cobra.Command, args []string) error {
	var merr *multierror.Error
	for _, file := range args {
		if err := convertFile(file); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", file, err))
			continue
		}
		fmt.Printf("%s: written %s\n", file, pngFilename(file))
	}
	return merr.ErrorOrNil()
}

func convertFile(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	pngData, err := icons.ConvertICOtoPNG(data)
	if err != nil {
		return err
	}
	return os.WriteFile(pngFilename(file), pngData, 0o644) //nolint:gosec
}
