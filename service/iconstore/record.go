package iconstore

import (
	"time"

	"github.com/safing/structures/dsd"
)

// IconRecord is the stored metadata of one icon container.
type IconRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Type is the container resource type, "icon" or "cursor".
	Type string `json:"type"`
	// Resources is the number of image resources that decoded successfully.
	Resources int `json:"resources"`
	// Width and Height are the dimensions of the largest decoded image.
	Width  int `json:"width"`
	Height int `json:"height"`

	// Size is the raw container size in bytes.
	Size int `json:"size"`
	// Sum is the SHA1 hex digest of the raw container.
	Sum string `json:"sum"`

	Source string    `json:"source"`
	Added  time.Time `json:"added"`
}

func (r *IconRecord) marshal() ([]byte, error) {
	return dsd.Dump(r, dsd.JSON)
}

func loadRecord(data []byte) (*IconRecord, error) {
	rec := &IconRecord{}
	if _, err := dsd.Load(data, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
