package iconapi

import (
	"errors"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/safing/winicon/icons"
)

func registerStorageEndpoints() error {
	if err := RegisterEndpoint(Endpoint{
		Path:        "storage/icon/{name:[a-f0-9]+\\.[a-z]{3,4}}",
		DataFunc:    getStorageIcon,
		Name:        "Get Storage Icon",
		Description: "Returns the requested icon from the file based icon storage.",
	}); err != nil {
		return err
	}

	return RegisterEndpoint(Endpoint{
		Path:        "storage/icon",
		WriteMethod: http.MethodPost,
		MimeType:    MimeTypeJSON,
		StructFunc:  updateStorageIcon,
		Name:        "Update Storage Icon",
		Description: "Saves the posted image to the file based icon storage, keyed by content hash. Accepts raw image bytes or a data URL posted as text.",
	})
}

// iconMimeTypes maps stored icon extensions to content types.
// Fixed mappings, independent of the OS mime database.
var iconMimeTypes = map[string]string{
	".cur":  "image/x-icon",
	".gif":  "image/gif",
	".ico":  "image/x-icon",
	".jpg":  "image/jpeg",
	".png":  "image/png",
	".svg":  "image/svg+xml",
	".tiff": "image/tiff",
	".webp": "image/webp",
}

func getStorageIcon(ar *Request) (data []byte, err error) {
	name := ar.URLVars["name"]

	data, err = icons.GetIcon(name)
	switch {
	case err == nil:
		// Continue
	case errors.Is(err, icons.ErrIconIgnored):
		return nil, ErrorWithStatus(err, http.StatusNotFound)
	case errors.Is(err, fs.ErrNotExist):
		return nil, ErrorWithStatus(err, http.StatusNotFound)
	default:
		return nil, err
	}

	// Set content type for icon.
	contentType, ok := iconMimeTypes[filepath.Ext(name)]
	if ok {
		ar.ResponseHeader.Set("Content-Type", contentType)
	}

	return data, nil
}

type updateStorageIconResponse struct {
	Filename string `json:"filename"`
}

func updateStorageIcon(ar *Request) (any, error) {
	// Check input.
	if len(ar.InputData) == 0 {
		return nil, ErrorWithStatus(errors.New("no content"), http.StatusBadRequest)
	}
	mimeType := ar.Header.Get("Content-Type")
	if mimeType == "" {
		return nil, ErrorWithStatus(errors.New("no content type"), http.StatusBadRequest)
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	mimeType, _, _ = strings.Cut(mimeType, ";")

	// Data URLs posted as text carry their own media type.
	if mimeType == MimeTypeText {
		icon, err := icons.ParseIconDataURL(string(ar.InputData), icons.IconSourceUser)
		if err != nil {
			return nil, ErrorWithStatus(err, http.StatusBadRequest)
		}
		return &updateStorageIconResponse{Filename: icon.Value}, nil
	}

	// Derive image format from content type.
	var ext string
	switch mimeType {
	case "image/gif":
		ext = "gif"
	case "image/jpeg", "image/jpg":
		ext = "jpg"
	case "image/png":
		ext = "png"
	case "image/svg+xml":
		ext = "svg"
	case "image/tiff":
		ext = "tiff"
	case "image/webp":
		ext = "webp"
	case "image/x-icon", "image/vnd.microsoft.icon":
		ext = "ico"
	default:
		return nil, ErrorWithStatus(errors.New("unsupported image format"), http.StatusBadRequest)
	}

	filename, err := icons.SaveIcon(ar.InputData, ext)
	if err != nil {
		return nil, err
	}

	return &updateStorageIconResponse{
		Filename: filename,
	}, nil
}
