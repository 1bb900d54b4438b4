package iconapi

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vincent-petithory/dataurl"

	"github.com/safing/winicon/base/metrics"
	"github.com/safing/winicon/service/iconstore"
)

type testInstance struct {
	dir   string
	store *iconstore.IconStore
}

func (i *testInstance) DataDir() string                 { return i.dir }
func (i *testInstance) ListenAddr() string              { return "127.0.0.1:8817" }
func (i *testInstance) IconStore() *iconstore.IconStore { return i.store }

var testHandler = &mainHandler{
	mux: mainMux,
}

func TestMain(m *testing.M) {
	tmpDir, err := os.MkdirTemp("", "winicon-testing-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create tmp dir: %s\n", err)
		os.Exit(1)
	}

	ti := &testInstance{dir: tmpDir}

	// Start the modules the API module depends on, without the server.
	err = func() error {
		metricsModule, err := metrics.New(struct{}{})
		if err != nil {
			return err
		}
		if err := metricsModule.Start(); err != nil {
			return err
		}

		ti.store, err = iconstore.New(ti)
		if err != nil {
			return err
		}
		if err := ti.store.Start(); err != nil {
			return err
		}

		EnableServer = false
		apiModule, err := New(ti)
		if err != nil {
			return err
		}
		return apiModule.Start()
	}()

	exitCode := 1
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup test: %s\n", err)
	} else {
		exitCode = m.Run()
	}

	_ = os.RemoveAll(tmpDir)
	os.Exit(exitCode)
}

// testIcon returns an icon container with a 2px and an 8px 24bpp resource.
func testIcon(t *testing.T) []byte {
	t.Helper()

	solid := func(size int, r, g, b uint8) []byte {
		xorStride := ((size*24 + 31) / 32) * 4
		andStride := ((size + 31) / 32) * 4

		bih := make([]byte, 40)
		binary.LittleEndian.PutUint32(bih[0:4], 40)
		binary.LittleEndian.PutUint32(bih[4:8], uint32(size))
		binary.LittleEndian.PutUint32(bih[8:12], uint32(size*2))
		binary.LittleEndian.PutUint16(bih[12:14], 1)
		binary.LittleEndian.PutUint16(bih[14:16], 24)

		buf := &bytes.Buffer{}
		buf.Write(bih)
		row := make([]byte, xorStride)
		for x := 0; x < size; x++ {
			row[x*3+0] = b
			row[x*3+1] = g
			row[x*3+2] = r
		}
		for i := 0; i < size; i++ {
			buf.Write(row)
		}
		buf.Write(make([]byte, andStride*size))
		return buf.Bytes()
	}

	blocks := [][]byte{
		solid(2, 255, 0, 0),
		solid(8, 0, 0, 255),
	}
	sizes := []int{2, 8}

	buf := &bytes.Buffer{}
	header := make([]byte, 6)
	binary.LittleEndian.PutUint16(header[2:4], 1)
	binary.LittleEndian.PutUint16(header[4:6], uint16(len(blocks)))
	buf.Write(header)

	offset := 6 + 16*len(blocks)
	for i, block := range blocks {
		entry := make([]byte, 16)
		entry[0] = byte(sizes[i])
		entry[1] = byte(sizes[i])
		binary.LittleEndian.PutUint16(entry[4:6], 1)
		binary.LittleEndian.PutUint16(entry[6:8], 24)
		binary.LittleEndian.PutUint32(entry[8:12], uint32(len(block)))
		binary.LittleEndian.PutUint32(entry[12:16], uint32(offset))
		buf.Write(entry)
		offset += len(block)
	}
	for _, block := range blocks {
		buf.Write(block)
	}
	return buf.Bytes()
}

func doRequest(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	testHandler.ServeHTTP(w, r)
	return w
}

func doTypedRequest(t *testing.T, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	r := httptest.NewRequest(method, target, bytes.NewReader(body))
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	testHandler.ServeHTTP(w, r)
	return w
}

func TestIconLifecycle(t *testing.T) {
	container := testIcon(t)

	// Upload.
	w := doRequest(t, "POST", "/v1/icon?name=Test+Icon", container)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var rec iconstore.IconRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	require.NotEmpty(t, rec.ID)
	assert.Equal(t, "Test Icon", rec.Name)
	assert.Equal(t, "api", rec.Source)
	assert.Equal(t, 8, rec.Width)

	// List.
	w = doRequest(t, "GET", "/v1/icons", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), rec.ID)

	// Raw container bytes.
	w = doRequest(t, "GET", "/v1/icon/"+rec.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, MimeTypeICO, w.Header().Get("Content-Type"))
	assert.Equal(t, container, w.Body.Bytes())

	// Directory info.
	w = doRequest(t, "GET", "/v1/icon/"+rec.ID+"/info", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"entries"`)
	assert.Contains(t, w.Body.String(), `"bitCount":24`)

	// PNG conversion picks the largest resource.
	w = doRequest(t, "GET", "/v1/icon/"+rec.ID+"/png", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), MimeTypePNG)
	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())

	// Scaled PNG conversion.
	w = doRequest(t, "GET", "/v1/icon/"+rec.ID+"/png?size=4", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	img, err = png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	// PNG as data URL.
	w = doRequest(t, "GET", "/v1/icon/"+rec.ID+"/png?dataurl=1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("data:image/png;base64,")))

	// Delete.
	w = doRequest(t, "DELETE", "/v1/icon/"+rec.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "icon deleted")

	w = doRequest(t, "GET", "/v1/icon/"+rec.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doRequest(t, "DELETE", "/v1/icon/"+rec.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadValidation(t *testing.T) {
	w := doRequest(t, "POST", "/v1/icon", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, "POST", "/v1/icon", []byte("this is not an icon"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, "GET", "/v1/icon/does-not-exist/png", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, "GET", "/v1/icon/does-not-exist/info", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMethodEnforcement(t *testing.T) {
	// The upload endpoint is write only.
	w := doRequest(t, "GET", "/v1/icon", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	// The list endpoint is read only.
	w = doRequest(t, "POST", "/v1/icons", []byte("x"))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	w = doRequest(t, "DELETE", "/v1/icons", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestMetaEndpoints(t *testing.T) {
	assert.HTTPBodyContains(t, testHandler.ServeHTTP, "GET", "/v1/endpoints", nil, "List Icons")
	assert.HTTPBodyContains(t, testHandler.ServeHTTP, "GET", "/v1/status", nil, "127.0.0.1:8817")
	assert.HTTPBodyContains(t, testHandler.ServeHTTP, "GET", "/metrics", nil, "store_put_total")
}

func TestMaintenanceTrigger(t *testing.T) {
	w := doRequest(t, "POST", "/v1/store/maintain", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "storage maintenance triggered")
}

func TestStorageIconEndpoints(t *testing.T) {
	// Upload raw bytes with a supported content type.
	w := doTypedRequest(t, "POST", "/v1/storage/icon", "image/png", []byte("png payload"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Filename string `json:"filename"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Regexp(t, `^[0-9a-f]{40}\.png$`, resp.Filename)

	// Fetch it back.
	w = doRequest(t, "GET", "/v1/storage/icon/"+resp.Filename, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, []byte("png payload"), w.Body.Bytes())

	// Upload a data URL posted as text.
	bloburl := dataurl.New([]byte("gif payload"), "image/gif").String()
	w = doTypedRequest(t, "POST", "/v1/storage/icon", "text/plain", []byte(bloburl))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Regexp(t, `\.gif$`, resp.Filename)

	// Unsupported formats and missing icons are rejected.
	w = doTypedRequest(t, "POST", "/v1/storage/icon", "application/zip", []byte("zip"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, "GET", "/v1/storage/icon/"+strings.Repeat("0", 40)+".png", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPathCleaning(t *testing.T) {
	w := doRequest(t, "GET", "/v1//icons", nil)
	assert.Equal(t, http.StatusMovedPermanently, w.Code)
}
