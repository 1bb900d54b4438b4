package iconapi

import (
	"encoding/json"
	"time"
)

func registerMetaEndpoints() error {
	if err := RegisterEndpoint(Endpoint{
		Path:        "endpoints",
		MimeType:    MimeTypeJSON,
		DataFunc:    listEndpoints,
		Name:        "Export API Endpoints",
		Description: "Returns a list of all registered endpoints and their metadata.",
	}); err != nil {
		return err
	}

	return RegisterEndpoint(Endpoint{
		Path:        "status",
		StructFunc:  status,
		Name:        "Service Status",
		Description: "Returns the runtime status of the icon service.",
	})
}

func listEndpoints(_ *Request) (data []byte, err error) {
	data, err = json.Marshal(ExportEndpoints())
	return
}

// StatusInfo is the runtime status of the icon service.
type StatusInfo struct {
	ListenAddr string `json:"listenAddr"`
	Icons      int64  `json:"icons"`
	Uptime     string `json:"uptime"`
}

func status(_ *Request) (interface{}, error) {
	return &StatusInfo{
		ListenAddr: module.instance.ListenAddr(),
		Icons:      store().Count(),
		Uptime:     time.Since(module.started).Round(time.Second).String(),
	}, nil
}
