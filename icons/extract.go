package icons

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tc-hib/winres"
	"github.com/tc-hib/winres/version"
)

// GetIconAndName extracts an icon and a display name from the given PE
// binary, imports the icon into the icon storage and returns the icon
// object. Even if an error is returned, the other return values are valid,
// if set.
func GetIconAndName(ctx context.Context, binPath string) (icon *Icon, name string, err error) {
	png, name, err := ExtractFromPE(ctx, binPath)

	// Derive a name from the path when the resources have none.
	if name == "" {
		name = GenerateNameFromPath(binPath)
	}

	// Report the extraction error only after the name fallback, so that
	// callers get a usable name in any case.
	if err != nil {
		return nil, name, err
	}

	filename, err := SaveIcon(png, "png")
	if err != nil {
		return nil, name, fmt.Errorf("failed to store icon: %w", err)
	}

	return &Icon{
		Type:   IconTypeAPI,
		Value:  filename,
		Source: IconSourceExtracted,
	}, name, nil
}

// ExtractFromPE extracts the first icon group and the product name from the
// resource section of the given PE binary. The icon is returned as PNG data.
// Resources are parsed from the file directly, so this works on any platform.
func ExtractFromPE(_ context.Context, binPath string) (png []byte, name string, err error) {
	exeFile, err := os.Open(binPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open exe %s to get icon: %w", binPath, err)
	}
	defer exeFile.Close() //nolint:errcheck

	rss, err := winres.LoadFromEXE(exeFile)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get rss: %w", err)
	}

	name = cleanFileDescription(productNameFromRSS(rss))

	icon, err := firstIconFromRSS(rss)
	if err != nil {
		return nil, name, err
	}

	// Convert the icon group to a single png image.
	icoBuf := &bytes.Buffer{}
	if err := icon.SaveICO(icoBuf); err != nil {
		return nil, name, fmt.Errorf("failed to save ico: %w", err)
	}
	png, err = ConvertICOtoPNG(icoBuf.Bytes())
	if err != nil {
		return nil, name, fmt.Errorf("failed to convert ico to png: %w", err)
	}

	return png, name, nil
}

// productNameFromRSS walks the version records until one carries a
// product name in its main translation.
func productNameFromRSS(rss *winres.ResourceSet) (name string) {
	rss.WalkType(winres.RT_VERSION, func(_ winres.Identifier, _ uint16, data []byte) bool {
		info, err := version.FromBytes(data)
		if err != nil || info == nil {
			return true
		}
		table := info.Table().GetMainTranslation()
		if table == nil {
			return true
		}
		name = table[version.ProductName]
		return name == ""
	})
	return name
}

// firstIconFromRSS returns the first icon group of the resource section.
func firstIconFromRSS(rss *winres.ResourceSet) (*winres.Icon, error) {
	var (
		icon    *winres.Icon
		iconErr error
	)
	rss.WalkType(winres.RT_GROUP_ICON, func(resID winres.Identifier, langID uint16, _ []byte) bool {
		icon, iconErr = rss.GetIconTranslation(resID, langID)
		return iconErr != nil
	})
	switch {
	case iconErr != nil:
		return nil, fmt.Errorf("failed to get icon: %w", iconErr)
	case icon == nil:
		return nil, errors.New("no icon in resources")
	}
	return icon, nil
}
