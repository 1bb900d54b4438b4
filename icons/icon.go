// Package icons handles icon images: converting, storing and referencing them.
package icons

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/vincent-petithory/dataurl"
)

// Icon is a reference to an icon image in one of the supported locations.
type Icon struct {
	Type   IconType
	Value  string
	Source IconSource
}

// IconType says where the icon value points to.
type IconType string

// Icon types.
const (
	IconTypeFile  IconType = "path"
	IconTypeStore IconType = "store"
	IconTypeAPI   IconType = "api"
)

// IconSource says where the icon came from.
type IconSource string

// Icon sources.
const (
	IconSourceUser      IconSource = "user"
	IconSourceImport    IconSource = "import"
	IconSourceExtracted IconSource = "extracted"
	IconSourceCore      IconSource = "core"
)

// Sorting prefers directly servable icons and user provided ones.
var (
	iconTypeOrder = map[IconType]int{
		IconTypeAPI:   1,
		IconTypeStore: 2,
		IconTypeFile:  3,
	}
	iconSourceOrder = map[IconSource]int{
		IconSourceUser:      10,
		IconSourceImport:    20,
		IconSourceExtracted: 30,
		IconSourceCore:      40,
	}
)

func (icon Icon) sortOrder() int {
	typeOrder, ok := iconTypeOrder[icon.Type]
	if !ok {
		typeOrder = 9
	}
	sourceOrder, ok := iconSourceOrder[icon.Source]
	if !ok {
		sourceOrder = 90
	}
	return sourceOrder + typeOrder
}

// SortAndCompactIcons sorts icons by preference and removes duplicates.
func SortAndCompactIcons(icons []Icon) []Icon {
	slices.SortFunc(icons, func(a, b Icon) int {
		aOrder := a.sortOrder()
		bOrder := b.sortOrder()

		switch {
		case aOrder != bOrder:
			return aOrder - bOrder
		case a.Value != b.Value:
			return strings.Compare(a.Value, b.Value)
		default:
			return 0
		}
	})

	// Drop duplicate references.
	icons = slices.CompactFunc(icons, func(a, b Icon) bool {
		return a.Type == b.Type && a.Value == b.Value
	})

	return icons
}

var (
	storeResolver     func(key string) ([]byte, error)
	storeResolverLock sync.RWMutex
)

// SetStoreResolver sets the function used to load the raw image data of
// icons with type IconTypeStore. It is set by the icon store module.
func SetStoreResolver(fn func(key string) ([]byte, error)) {
	storeResolverLock.Lock()
	defer storeResolverLock.Unlock()

	storeResolver = fn
}

// ParseIconDataURL parses an icon from a data URL, imports it into the
// icon storage and returns the icon object.
func ParseIconDataURL(bloburl string, source IconSource) (*Icon, error) {
	du, err := dataurl.DecodeString(bloburl)
	if err != nil {
		return nil, fmt.Errorf("icon data is invalid: %w", err)
	}
	filename, err := SaveIcon(du.Data, du.MediaType.Subtype)
	if err != nil {
		return nil, fmt.Errorf("icon is invalid: %w", err)
	}
	return &Icon{
		Type:   IconTypeAPI,
		Value:  filename,
		Source: source,
	}, nil
}

// GetIconAsDataURL loads the icon data and encodes it as a data URL.
func (icon Icon) GetIconAsDataURL() (bloburl string, err error) {
	switch icon.Type {
	case IconTypeFile:
		data, err := os.ReadFile(icon.Value)
		if err != nil {
			return "", err
		}
		return dataurl.EncodeBytes(data), nil

	case IconTypeStore:
		storeResolverLock.RLock()
		resolve := storeResolver
		storeResolverLock.RUnlock()
		if resolve == nil {
			return "", errors.New("icon store not available")
		}
		data, err := resolve(icon.Value)
		if err != nil {
			return "", err
		}
		return dataurl.EncodeBytes(data), nil

	case IconTypeAPI:
		data, err := GetIcon(icon.Value)
		if err != nil {
			return "", err
		}
		return dataurl.EncodeBytes(data), nil

	default:
		return "", errors.New("unknown icon type")
	}
}
