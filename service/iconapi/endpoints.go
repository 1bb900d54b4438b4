package iconapi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/safing/structures/dsd"

	"github.com/safing/winicon/service/mgr"
)

// MIME types.
const (
	MimeTypeJSON string = "application/json"
	MimeTypeText string = "text/plain"
	MimeTypeICO  string = "image/x-icon"
	MimeTypePNG  string = "image/png"

	apiV1Path = "/v1/"

	// maxBodySize is the biggest accepted request body.
	maxBodySize = 20000000 // 20MB
)

type (
	// ActionFunc runs an action and returns a message for the caller.
	ActionFunc func(ar *Request) (msg string, err error)

	// DataFunc returns raw data for the caller to process further.
	DataFunc func(ar *Request) (data []byte, err error)

	// StructFunc returns a struct to be serialized as the caller requests.
	StructFunc func(ar *Request) (i interface{}, err error)
)

// Endpoint describes an API endpoint.
// Path and exactly one function are required.
type Endpoint struct {
	// Name is the human readable name of the endpoint.
	Name string
	// Description documents what the endpoint does.
	Description string
	// Parameters documents the supported parameters.
	Parameters []Parameter `json:",omitempty"`

	// Path is the URL path of the endpoint, relative to the API prefix.
	Path string

	// MimeType is the content type of the returned data.
	MimeType string

	// ReadMethod is the supported read method. Only GET is available, where
	// data is returned and nothing is changed. If both ReadMethod and
	// WriteMethod are empty, ReadMethod defaults to GET.
	ReadMethod string `json:",omitempty"`

	// WriteMethod is the supported write method. Available are POST to create
	// a resource or trigger an action, PUT to update a resource and DELETE to
	// remove one.
	WriteMethod string `json:",omitempty"`

	// ActionFunc runs an action and returns a message for the caller.
	ActionFunc ActionFunc `json:"-"`

	// DataFunc returns raw data for the caller to process further.
	DataFunc DataFunc `json:"-"`

	// StructFunc returns a struct to be serialized as the caller requests.
	StructFunc StructFunc `json:"-"`

	// HandlerFunc handles the request directly.
	HandlerFunc http.HandlerFunc `json:"-"`
}

// Parameter describes a parameterized variation of an endpoint.
type Parameter struct {
	Method      string
	Field       string
	Value       string
	Description string
}

var (
	endpoints     = make(map[string]*Endpoint)
	endpointsMux  = mux.NewRouter()
	endpointsLock sync.RWMutex

	// ErrInvalidEndpoint is returned when an invalid endpoint is registered.
	ErrInvalidEndpoint = errors.New("endpoint is invalid")

	// ErrAlreadyRegistered is returned when there already is an endpoint with
	// the same path registered.
	ErrAlreadyRegistered = errors.New("an endpoint for this path is already registered")
)

func init() {
	RegisterHandler(apiV1Path+"{endpointPath:.+}", &endpointHandler{})
}

// RegisterEndpoint registers a new endpoint. An error will be returned if it
// does not pass the sanity checks.
func RegisterEndpoint(e Endpoint) error {
	if err := e.check(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}

	endpointsLock.Lock()
	defer endpointsLock.Unlock()

	if _, ok := endpoints[e.Path]; ok {
		return ErrAlreadyRegistered
	}

	endpoints[e.Path] = &e
	endpointsMux.Handle(apiV1Path+e.Path, &e)
	return nil
}

func (e *Endpoint) check() error {
	if strings.TrimSpace(e.Path) == "" {
		return errors.New("path is missing")
	}

	switch e.ReadMethod {
	case http.MethodGet, "":
	default:
		return errors.New("invalid read method")
	}
	switch e.WriteMethod {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
	case "":
		// Read-only endpoints default to GET.
		if e.ReadMethod == "" {
			e.ReadMethod = http.MethodGet
		}
	default:
		return errors.New("invalid write method")
	}

	fnCnt := 0
	for _, isSet := range []bool{
		e.ActionFunc != nil,
		e.DataFunc != nil,
		e.StructFunc != nil,
		e.HandlerFunc != nil,
	} {
		if isSet {
			fnCnt++
		}
	}
	if fnCnt != 1 {
		return errors.New("exactly one function must be set")
	}

	if e.MimeType == "" {
		if e.StructFunc != nil {
			e.MimeType = MimeTypeJSON
		} else {
			e.MimeType = MimeTypeText
		}
	}

	return nil
}

// ExportEndpoints exports the registered endpoints. The returned data must be
// treated as immutable.
func ExportEndpoints() []*Endpoint {
	endpointsLock.RLock()
	defer endpointsLock.RUnlock()

	eps := make([]*Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		eps = append(eps, ep)
	}
	slices.SortFunc(eps, func(a, b *Endpoint) int {
		return strings.Compare(a.Path, b.Path)
	})

	return eps
}

// Request is a support struct to pool more request related information.
type Request struct {
	// Request is the http request.
	*http.Request

	// InputData contains the request body for write operations.
	InputData []byte

	// Route of this request.
	Route *mux.Route

	// URLVars contains the URL variables extracted by the gorilla mux.
	URLVars map[string]string

	// ResponseHeader holds the response header.
	ResponseHeader http.Header

	// HandlerCache can be used by handlers to cache data between handlers within a request.
	HandlerCache interface{}
}

// apiRequestContextKey is a key used for the context key/value storage.
type apiRequestContextKey struct{}

// RequestContextKey is the key used to add the API request to the context.
var RequestContextKey = apiRequestContextKey{}

// GetAPIRequest returns the API Request of the given http request.
func GetAPIRequest(r *http.Request) *Request {
	if ar, ok := r.Context().Value(RequestContextKey).(*Request); ok {
		return ar
	}
	return nil
}

func getAPIContext(r *http.Request) (apiEndpoint *Endpoint, apiRequest *Request) {
	apiRequest = GetAPIRequest(r)
	if apiRequest == nil {
		return nil, nil
	}

	// The endpoint is cached on the first lookup for a request.
	if cached, ok := apiRequest.HandlerCache.(*Endpoint); ok {
		return cached, apiRequest
	}

	endpointsLock.RLock()
	defer endpointsLock.RUnlock()

	// Match the request ourselves to get to the route variables.
	// See github.com/gorilla/mux.ServeHTTP for reference.
	var match mux.RouteMatch
	if !endpointsMux.Match(r, &match) {
		return nil, apiRequest
	}
	apiRequest.Route = match.Route
	// Merge the matched variables into the existing ones.
	for k, v := range match.Vars {
		apiRequest.URLVars[k] = v
	}

	if ep, ok := match.Handler.(*Endpoint); ok {
		apiRequest.HandlerCache = ep
		return ep, apiRequest
	}
	return nil, apiRequest
}

// getEffectiveMethod returns the effective request method, mapping HEAD to
// GET and resolving CORS preflight requests to the method they announce.
func getEffectiveMethod(r *http.Request) (eMethod string, readMethod bool, ok bool) {
	method := r.Method

	// Preflight requests carry the announced method in a header.
	if method == http.MethodOptions {
		method = r.Header.Get("Access-Control-Request-Method")
		if method == "" {
			return "", false, false
		}
	}

	switch method {
	case http.MethodGet, http.MethodHead:
		return http.MethodGet, true, true
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return method, false, true
	default:
		return "", false, false
	}
}

type endpointHandler struct{}

// ServeHTTP handles the http request.
func (eh *endpointHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	apiEndpoint, apiRequest := getAPIContext(r)
	if apiEndpoint == nil || apiRequest == nil {
		http.NotFound(w, r)
		return
	}

	apiEndpoint.ServeHTTP(w, r)
}

// ServeHTTP handles the http request.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, apiRequest := getAPIContext(r)
	if apiRequest == nil {
		http.NotFound(w, r)
		return
	}

	// An OPTIONS request only wants to know whether the method would be
	// allowed, which the router has already checked.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	eMethod, ok := e.acceptMethod(w, r)
	if !ok {
		return
	}

	// Read the body of write requests and restore it for raw handlers.
	if eMethod == http.MethodPost || eMethod == http.MethodPut {
		inputData, ok := readBody(w, r)
		if !ok {
			return
		}
		apiRequest.InputData = inputData
		r.Body = io.NopCloser(bytes.NewReader(inputData))
	}

	// Make the response headers available to the endpoint function.
	apiRequest.ResponseHeader = w.Header()

	if e.HandlerFunc != nil {
		e.HandlerFunc(w, r)
		return
	}

	responseData, err := e.run(w, r, apiRequest)
	if err != nil {
		respondWithError(w, err)
		return
	}

	// Respond with no content if there is none, or if request is HEAD.
	if len(responseData) == 0 || r.Method == http.MethodHead {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// The endpoint function may have set its own content type.
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", e.MimeType+"; charset=utf-8")
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(responseData)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(responseData); err != nil {
		if wc := mgr.WorkerFromCtx(r.Context()); wc != nil {
			wc.Warn("failed to write response", "err", err)
		}
	}
}

// acceptMethod checks the request method against the methods the endpoint
// supports. When the method is not acceptable, the response has already been
// written.
func (e *Endpoint) acceptMethod(w http.ResponseWriter, r *http.Request) (string, bool) {
	eMethod, readMethod, ok := getEffectiveMethod(r)
	if !ok {
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
		return "", false
	}

	if readMethod {
		if eMethod != e.ReadMethod {
			http.Error(w, "endpoint does not support reading", http.StatusMethodNotAllowed)
			return "", false
		}
		return eMethod, true
	}

	if eMethod != e.WriteMethod {
		http.Error(w, "endpoint does not support this write method", http.StatusMethodNotAllowed)
		return "", false
	}
	return eMethod, true
}

// run executes the endpoint function and returns the response data.
func (e *Endpoint) run(w http.ResponseWriter, r *http.Request, ar *Request) ([]byte, error) {
	switch {
	case e.ActionFunc != nil:
		msg, err := e.ActionFunc(ar)
		if err != nil {
			return nil, err
		}
		if !strings.HasSuffix(msg, "\n") {
			msg += "\n"
		}
		return []byte(msg), nil

	case e.DataFunc != nil:
		return e.DataFunc(ar)

	case e.StructFunc != nil:
		v, err := e.StructFunc(ar)
		if err != nil || v == nil {
			return nil, err
		}
		responseData, mimeType, _, err := dsd.MimeDump(v, r.Header.Get("Accept"))
		if err != nil {
			return nil, err
		}
		w.Header().Set("Content-Type", mimeType)
		return responseData, nil

	default:
		return nil, errors.New("missing handler")
	}
}

func respondWithError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	var statusProvider HTTPStatusProvider
	if errors.As(err, &statusProvider) {
		code = statusProvider.HTTPStatus()
	}
	http.Error(w, err.Error(), code)
}

func readBody(w http.ResponseWriter, r *http.Request) (inputData []byte, ok bool) {
	// Check for too much content in order to prevent death.
	if r.ContentLength > maxBodySize {
		http.Error(w, "too much input data", http.StatusRequestEntityTooLarge)
		return nil, false
	}

	inputData, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body: "+err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return inputData, true
}

// TextResponse writes a text response.
func TextResponse(w http.ResponseWriter, r *http.Request, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintln(w, text); err != nil {
		if wc := mgr.WorkerFromCtx(r.Context()); wc != nil {
			wc.Warn("failed to write text response", "err", err)
		}
	}
}

// HTTPStatusProvider is an interface for errors to provide a custom HTTP
// status code.
type HTTPStatusProvider interface {
	HTTPStatus() int
}

// HTTPStatusError represents an error with an HTTP status code.
type HTTPStatusError struct {
	err  error
	code int
}

// ErrorWithStatus adds the HTTP status code to the error.
func ErrorWithStatus(err error, code int) error {
	return &HTTPStatusError{
		err:  err,
		code: code,
	}
}

// Error returns the error message.
func (e *HTTPStatusError) Error() string {
	return e.err.Error()
}

// Unwrap return the wrapped error.
func (e *HTTPStatusError) Unwrap() error {
	return e.err
}

// HTTPStatus returns the HTTP status code of this error.
func (e *HTTPStatusError) HTTPStatus() int {
	return e.code
}
