package iconapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/vincent-petithory/dataurl"

	"github.com/safing/winicon/ico"
	"github.com/safing/winicon/icons"
	"github.com/safing/winicon/service/iconstore"
)

func registerIconEndpoints() error {
	if err := RegisterEndpoint(Endpoint{
		Path:        "icons",
		MimeType:    MimeTypeJSON,
		StructFunc:  listIcons,
		Name:        "List Icons",
		Description: "Returns the metadata records of all stored icons.",
	}); err != nil {
		return err
	}

	if err := RegisterEndpoint(Endpoint{
		Path:        "icon",
		WriteMethod: http.MethodPost,
		MimeType:    MimeTypeJSON,
		StructFunc:  createIcon,
		Name:        "Upload Icon",
		Description: "Stores the icon or cursor container posted as request body and returns its metadata record.",
		Parameters: []Parameter{{
			Method:      http.MethodPost,
			Field:       "name",
			Value:       "display name",
			Description: "Set the display name of the stored icon.",
		}, {
			Method:      http.MethodPost,
			Field:       "source",
			Value:       "source tag",
			Description: "Tag where the icon came from, defaults to \"api\".",
		}},
	}); err != nil {
		return err
	}

	if err := RegisterEndpoint(Endpoint{
		Path:        "icon/{id}",
		ReadMethod:  http.MethodGet,
		WriteMethod: http.MethodDelete,
		MimeType:    MimeTypeICO,
		HandlerFunc: serveIcon,
		Name:        "Get or Delete Icon",
		Description: "Returns the raw container bytes of a stored icon, or removes it from the store.",
	}); err != nil {
		return err
	}

	if err := RegisterEndpoint(Endpoint{
		Path:        "icon/{id}/png",
		MimeType:    MimeTypePNG,
		DataFunc:    convertIconToPNG,
		Name:        "Convert Icon to PNG",
		Description: "Converts the best resource of a stored icon to PNG.",
		Parameters: []Parameter{{
			Method:      http.MethodGet,
			Field:       "size",
			Value:       "pixels",
			Description: "Return a square image of the given size, scaling if needed.",
		}, {
			Method:      http.MethodGet,
			Field:       "dataurl",
			Value:       "1",
			Description: "Return the PNG as a data URL instead of raw bytes.",
		}},
	}); err != nil {
		return err
	}

	if err := RegisterEndpoint(Endpoint{
		Path:        "icon/{id}/info",
		MimeType:    MimeTypeJSON,
		StructFunc:  iconInfo,
		Name:        "Icon Info",
		Description: "Returns the metadata record and the decoded directory of a stored icon.",
	}); err != nil {
		return err
	}

	return RegisterEndpoint(Endpoint{
		Path:        "store/maintain",
		WriteMethod: http.MethodPost,
		ActionFunc:  triggerMaintenance,
		Name:        "Trigger Store Maintenance",
		Description: "Requests an out of schedule maintenance run of the icon store.",
	})
}

func store() *iconstore.IconStore {
	return module.instance.IconStore()
}

func listIcons(_ *Request) (interface{}, error) {
	return store().List()
}

func createIcon(ar *Request) (interface{}, error) {
	if len(ar.InputData) == 0 {
		return nil, ErrorWithStatus(errors.New("no icon data"), http.StatusBadRequest)
	}

	source := ar.URL.Query().Get("source")
	if source == "" {
		source = "api"
	}

	rec, err := store().Put(ar.InputData, ar.URL.Query().Get("name"), source)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, iconstore.ErrTooBig):
		return nil, ErrorWithStatus(err, http.StatusRequestEntityTooLarge)
	default:
		return nil, ErrorWithStatus(err, http.StatusBadRequest)
	}
}

func serveIcon(w http.ResponseWriter, r *http.Request) {
	ar := GetAPIRequest(r)
	if ar == nil {
		http.NotFound(w, r)
		return
	}
	id := ar.URLVars["id"]

	switch r.Method {
	case http.MethodDelete:
		err := store().Delete(id)
		switch {
		case err == nil:
			TextResponse(w, r, "icon deleted.")
		case errors.Is(err, iconstore.ErrNotFound):
			http.Error(w, "Icon not found.", http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}

	default:
		data, err := store().Get(id)
		switch {
		case err == nil:
			w.Header().Set("Content-Type", MimeTypeICO)
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
		case errors.Is(err, iconstore.ErrNotFound):
			http.Error(w, "Icon not found.", http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func convertIconToPNG(ar *Request) ([]byte, error) {
	data, err := store().Get(ar.URLVars["id"])
	if err != nil {
		if errors.Is(err, iconstore.ErrNotFound) {
			return nil, ErrorWithStatus(err, http.StatusNotFound)
		}
		return nil, err
	}

	var png []byte
	if sizeParam := ar.URL.Query().Get("size"); sizeParam != "" {
		size, err := strconv.Atoi(sizeParam)
		if err != nil || size <= 0 || size > 4096 {
			return nil, ErrorWithStatus(errors.New("invalid size"), http.StatusBadRequest)
		}
		png, err = icons.ConvertICOtoPNGSized(data, size)
		if err != nil {
			return nil, fmt.Errorf("failed to convert icon: %w", err)
		}
	} else {
		png, err = icons.ConvertICOtoPNG(data)
		if err != nil {
			return nil, fmt.Errorf("failed to convert icon: %w", err)
		}
	}

	// Return as a data URL if requested.
	if ar.URL.Query().Get("dataurl") != "" {
		ar.ResponseHeader.Set("Content-Type", MimeTypeText+"; charset=utf-8")
		return []byte(dataurl.EncodeBytes(png)), nil
	}

	return png, nil
}

// IconInfo describes a stored icon container and its decoded resources.
type IconInfo struct {
	*iconstore.IconRecord

	Entries      []EntryInfo `json:"entries"`
	DecodeErrors []string    `json:"decodeErrors,omitempty"`
}

// EntryInfo describes one resource of an icon container.
type EntryInfo struct {
	Index    int    `json:"index"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	BitCount uint16 `json:"bitCount"`
	PNG      bool   `json:"png"`
	Decoded  bool   `json:"decoded"`

	// Hotspot coordinates, only set for cursor containers.
	HotspotX int `json:"hotspotX,omitempty"`
	HotspotY int `json:"hotspotY,omitempty"`
}

func iconInfo(ar *Request) (interface{}, error) {
	id := ar.URLVars["id"]

	rec, err := store().GetMeta(id)
	if err != nil {
		if errors.Is(err, iconstore.ErrNotFound) {
			return nil, ErrorWithStatus(err, http.StatusNotFound)
		}
		return nil, err
	}
	directory, err := store().GetDecoded(id)
	if err != nil {
		return nil, err
	}

	info := &IconInfo{
		IconRecord: rec,
		Entries:    make([]EntryInfo, 0, len(directory.Entries())),
	}
	isCursor := directory.Type() == ico.TypeCursor
	for _, e := range directory.Entries() {
		entry := EntryInfo{
			Index:   e.Index(),
			Width:   e.Width(),
			Height:  e.Height(),
			PNG:     e.IsPNG(),
			Decoded: e.Image() != nil,
		}
		// The raw bit count field holds the hotspot for cursors, so only
		// the bitmap header is an authoritative depth source there.
		switch {
		case e.BitmapInfo() != nil:
			entry.BitCount = e.BitmapInfo().BitCount
		case e.IsPNG():
			entry.BitCount = 32
		case !isCursor:
			entry.BitCount = e.BitCount()
		}
		if isCursor {
			hotspot := e.Hotspot()
			entry.HotspotX = hotspot.X
			entry.HotspotY = hotspot.Y
		}
		info.Entries = append(info.Entries, entry)
	}

	// Flatten the recoverable decode errors for display.
	if decodeErrs := directory.DecodeErrors(); decodeErrs != nil {
		var merr *multierror.Error
		if errors.As(decodeErrs, &merr) {
			for _, err := range merr.Errors {
				info.DecodeErrors = append(info.DecodeErrors, err.Error())
			}
		} else {
			info.DecodeErrors = []string{decodeErrs.Error()}
		}
	}

	return info, nil
}

func triggerMaintenance(_ *Request) (string, error) {
	store().TriggerMaintenance()
	return "storage maintenance triggered.", nil
}
