package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/safing/winicon/icons"
)

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().StringVarP(&extractOut, "out", "o", "", "output file (defaults to the binary name with a .png extension)")
	extractCmd.Flags().BoolVar(&extractImport, "import", false, "import the icon into the icon storage in the data directory")
}

var (
	extractOut    string
	extractImport bool

	extractCmd = &cobra.Command{
		Use:   "extract [binary]",
		Short: "Extract the main icon of a PE binary and write it as PNG",
		Args:  cobra.ExactArgs(1),
		RunE:  extract,
	}
)

func extract(cmd *cobra.Command, args []string) error {
	if extractImport {
		return extractAndImport(cmd, args[0])
	}

	pngData, name, err := icons.ExtractFromPE(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to extract icon from %s: %w", args[0], err)
	}
	if name == "" {
		name = icons.GenerateNameFromPath(args[0])
	}

	out := extractOut
	if out == "" {
		out = pngFilename(args[0])
	}
	if err := os.WriteFile(out, pngData, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	fmt.Printf("%s: written %s\n", name, out)
	return nil
}

func extractAndImport(cmd *cobra.Command, binPath string) error {
	if dataDir == "" {
		return errors.New("--import requires --data")
	}
	icons.IconStoragePath = filepath.Join(dataDir, "icons")
	if err := os.MkdirAll(icons.IconStoragePath, 0o755); err != nil {
		return fmt.Errorf("failed to create icon storage: %w", err)
	}

	icon, name, err := icons.GetIconAndName(cmd.Context(), binPath)
	if err != nil {
		return fmt.Errorf("failed to extract icon from %s: %w", binPath, err)
	}
	fmt.Printf("%s: imported as %s\n", name, icon.Value)
	return nil
}
