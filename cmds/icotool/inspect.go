package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/safing/winicon/ico"
)

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringVar(&inspectFormat, "format", "text", "output format: text, json, yaml")
}

var (
	inspectFormat string

	inspectCmd = &cobra.Command{
		Use:   "inspect [file]",
		Short: "Print the resource directory of an icon or cursor container",
		Args:  cobra.ExactArgs(1),
		RunE:  inspect,
	}
)

type containerReport struct {
	File         string        `json:"file"`
	Type         string        `json:"type"`
	Resources    int           `json:"resources"`
	Entries      []entryReport `json:"entries"`
	DecodeErrors []string      `json:"decodeErrors,omitempty"`
}

type entryReport struct {
	Index    int    `json:"index"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	BitCount uint16 `json:"bitCount,omitempty"`
	Format   string `json:"format"`
	Decoded  bool   `json:"decoded"`
	HotspotX int    `json:"hotspotX,omitempty"`
	HotspotY int    `json:"hotspotY,omitempty"`
}

func inspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	directory, err := ico.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}
	report := buildReport(args[0], directory)

	switch inspectFormat {
	case "", "text":
		printReport(report)
	case "json":
		formatted, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(formatted))
	case "yaml":
		formatted, err := yaml.Marshal(report)
		if err != nil {
			return err
		}
		fmt.Print(string(formatted))
	default:
		return fmt.Errorf("unknown output format %q", inspectFormat)
	}
	return nil
}

func buildReport(file string, directory *ico.Directory) *containerReport {
	isCursor := directory.Type() == ico.TypeCursor
	report := &containerReport{
		File:      file,
		Type:      directory.Type().String(),
		Resources: directory.Count(),
	}

	for _, e := range directory.Entries() {
		entry := entryReport{
			Index:   e.Index(),
			Width:   e.Width(),
			Height:  e.Height(),
			Decoded: e.Image() != nil,
		}
		if e.IsPNG() {
			entry.Format = "png"
			entry.BitCount = 32
		} else {
			entry.Format = "dib"
			// The raw bit count field holds the hotspot for cursors, so
			// only the bitmap header is an authoritative depth source there.
			switch {
			case e.BitmapInfo() != nil:
				entry.BitCount = e.BitmapInfo().BitCount
			case !isCursor:
				entry.BitCount = e.BitCount()
			}
		}
		if isCursor {
			hotspot := e.Hotspot()
			entry.HotspotX = hotspot.X
			entry.HotspotY = hotspot.Y
		}
		report.Entries = append(report.Entries, entry)
	}

	if decodeErrs := directory.DecodeErrors(); decodeErrs != nil {
		var merr *multierror.Error
		if errors.As(decodeErrs, &merr) {
			for _, resErr := range merr.Errors {
				report.DecodeErrors = append(report.DecodeErrors, resErr.Error())
			}
		} else {
			report.DecodeErrors = append(report.DecodeErrors, decodeErrs.Error())
		}
	}
	return report
}

func printReport(report *containerReport) {
	fmt.Printf("%s: %s container with %d resources\n", report.File, report.Type, report.Resources)
	for _, entry := range report.Entries {
		fmt.Printf("  #%d: %dx%d", entry.Index, entry.Width, entry.Height)
		if entry.BitCount > 0 {
			fmt.Printf(" %d-bit", entry.BitCount)
		}
		fmt.Printf(" %s", strings.ToUpper(entry.Format))
		if report.Type == "cursor" {
			fmt.Printf(" hotspot %d,%d", entry.HotspotX, entry.HotspotY)
		}
		if !entry.Decoded {
			fmt.Printf(" (decode failed)")
		}
		fmt.Println()
	}
	if len(report.DecodeErrors) > 0 {
		fmt.Println("decode errors:")
		for _, msg := range report.DecodeErrors {
			fmt.Printf("  %s\n", msg)
		}
	}
}
