package main

import (
	"bytes"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/safing/winicon/ico"
	"github.com/safing/winicon/icons"
)

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().IntVar(&exportIndex, "index", -1, "export the resource at this directory index instead of the best one")
	exportCmd.Flags().IntVar(&exportSize, "size", 0, "scale the exported image to this size")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (defaults to the input name with a .png extension)")
}

var (
	exportIndex int
	exportSize  int
	exportOut   string

	exportCmd = &cobra.Command{
		Use:   "export [file]",
		Short: "Decode one image of a container and write it as PNG",
		Args:  cobra.ExactArgs(1),
		RunE:  export,
	}
)

func export(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	var pngData []byte
	switch {
	case exportIndex >= 0:
		pngData, err = exportByIndex(data, exportIndex, exportSize)
	case exportSize > 0:
		pngData, err = icons.ConvertICOtoPNGSized(data, exportSize)
	default:
		pngData, err = icons.ConvertICOtoPNG(data)
	}
	if err != nil {
		return fmt.Errorf("failed to convert %s: %w", args[0], err)
	}

	out := exportOut
	if out == "" {
		out = pngFilename(args[0])
	}
	if err := os.WriteFile(out, pngData, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	fmt.Printf("written %s\n", out)
	return nil
}

// exportByIndex decodes the resource at the given directory index,
// optionally scaling it.
func exportByIndex(data []byte, index, size int) ([]byte, error) {
	directory, err := ico.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	for _, e := range directory.Entries() {
		if e.Index() != index {
			continue
		}
		img := e.Image()
		if img == nil {
			if decodeErrs := directory.DecodeErrors(); decodeErrs != nil {
				return nil, fmt.Errorf("resource %d did not decode: %w", index, decodeErrs)
			}
			return nil, fmt.Errorf("resource %d did not decode", index)
		}
		if size > 0 {
			img = icons.Scale(img, size, size)
		}
		buf := &bytes.Buffer{}
		if err := png.Encode(buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("no resource with index %d", index)
}

// pngFilename swaps the extension of the given path for .png.
func pngFilename(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".png"
}
