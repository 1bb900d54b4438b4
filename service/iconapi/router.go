package iconapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/safing/winicon/service/mgr"
)

// EnableServer defines if the HTTP server should be started.
var EnableServer = true

var (
	// mainMux is the main mux router.
	mainMux = mux.NewRouter()

	// server is the main server.
	server = &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
	}
	handlerLock sync.RWMutex
)

// securityHeaders are added to every API response.
var securityHeaders = map[string]string{
	"Referrer-Policy":        "same-origin",
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "deny",
	"X-XSS-Protection":       "1; mode=block",
	"X-DNS-Prefetch-Control": "off",
	"Content-Security-Policy": "default-src 'self'; " +
		"style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data: blob:",
}

// RegisterHandler registers a handler with the API endpoint.
func RegisterHandler(path string, handler http.Handler) *mux.Route {
	handlerLock.Lock()
	defer handlerLock.Unlock()
	return mainMux.Handle(path, handler)
}

// RegisterHandleFunc registers a handle function with the API endpoint.
func RegisterHandleFunc(path string, handleFunc func(http.ResponseWriter, *http.Request)) *mux.Route {
	handlerLock.Lock()
	defer handlerLock.Unlock()
	return mainMux.HandleFunc(path, handleFunc)
}

func startServer() {
	if !EnableServer {
		return
	}

	server.Addr = module.instance.ListenAddr()
	server.Handler = &mainHandler{
		mux: mainMux,
	}

	module.mgr.Go("http server manager", serverManager)
}

func stopServer() error {
	// The address is only set when the server was actually started.
	if !EnableServer || server.Addr == "" {
		return nil
	}

	return server.Shutdown(context.Background())
}

// serverManager runs the HTTP server and restarts it after a pause should it
// fail while the module is still running.
func serverManager(ctx *mgr.WorkerCtx) error {
	ctx.Info("starting to listen", "address", server.Addr)

	const restartPause = 10 * time.Second
	for {
		err := module.mgr.Do("http server", func(_ *mgr.WorkerCtx) error {
			// A regular shutdown is not an error.
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		if err == nil {
			return nil
		}

		ctx.Error(
			"http endpoint failed",
			"err", err,
			"restartIn", restartPause,
		)
		select {
		case <-time.After(restartPause):
		case <-ctx.Done():
			return nil
		}
	}
}

type mainHandler struct {
	mux *mux.Router
}

func (mh *mainHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = module.mgr.Do("http request", func(wc *mgr.WorkerCtx) error {
		return mh.handle(wc, w, r)
	})
}

func (mh *mainHandler) handle(wc *mgr.WorkerCtx, w http.ResponseWriter, r *http.Request) error {
	// Attach the API request and the worker context to the request context, so
	// that handlers have access to both.
	apiRequest := &Request{
		Request: r,
	}
	ctx := context.WithValue(r.Context(), RequestContextKey, apiRequest)
	r = r.WithContext(wc.AddToCtx(ctx))

	lrw := newLoggedResponse(w, r)
	defer func() {
		// A status of 0 means the connection was likely hijacked, there is
		// nothing sensible to log then.
		if lrw.Status != 0 {
			wc.Debug(
				"request",
				"remote", lrw.Request.RemoteAddr,
				"status", lrw.Status,
				"method", lrw.Request.Method,
				"uri", lrw.Request.RequestURI,
			)
		}
	}()

	for name, value := range securityHeaders {
		w.Header().Set(name, value)
	}

	// Cross-origin requests are only allowed from the served host itself.
	isPreflight, originOK := checkOrigin(wc, lrw, r)
	if !originOK {
		return nil
	}

	// Normalize the request path and redirect if it changed.
	if cleaned := cleanRequestPath(r.URL.Path); cleaned != r.URL.Path {
		redirURL := *r.URL
		redirURL.Path = cleaned
		http.Redirect(lrw, r, redirURL.String(), http.StatusMovedPermanently)
		return nil
	}

	// Match the request ourselves instead of letting the router serve it, so
	// that route variables can be attached to the API request.
	// See github.com/gorilla/mux.ServeHTTP for reference.
	var match mux.RouteMatch
	var handler http.Handler
	if mh.mux.Match(r, &match) {
		handler = match.Handler
		apiRequest.Route = match.Route
		apiRequest.URLVars = match.Vars
	}
	switch {
	case match.MatchErr == nil:
	case errors.Is(match.MatchErr, mux.ErrMethodMismatch):
		http.Error(lrw, "Method not allowed.", http.StatusMethodNotAllowed)
		return nil
	default:
		wc.Debug("no handler registered for this path", "uri", r.RequestURI)
		http.Error(lrw, "Not found.", http.StatusNotFound)
		return nil
	}

	// Handlers may rely on URLVars being a map.
	if apiRequest.URLVars == nil {
		apiRequest.URLVars = make(map[string]string)
	}

	if _, _, ok := getEffectiveMethod(r); !ok {
		http.Error(lrw, "Method not allowed.", http.StatusMethodNotAllowed)
		return nil
	}

	// The method is allowed and a handler exists, which is all a CORS
	// preflight wants to know.
	if isPreflight && handler != nil {
		lrw.WriteHeader(http.StatusOK)
		return nil
	}

	if handler == nil {
		http.Error(lrw, "Not found.", http.StatusNotFound)
		return nil
	}

	defer func() {
		if panicValue := recover(); panicValue != nil {
			fmt.Fprintf(
				os.Stderr,
				"===== PANIC =====\n%v\n\n%s\n===== END OF PANIC =====\n",
				panicValue,
				debug.Stack(),
			)
			wc.Error(
				"handler panic",
				"panic", panicValue,
				"uri", r.RequestURI,
			)
			http.Error(lrw, "Internal Server Error.", http.StatusInternalServerError)
		}
	}()

	handler.ServeHTTP(lrw, r)
	return nil
}

// checkOrigin verifies that cross-origin requests come from the served host
// itself and adds the CORS headers they need. It reports whether the request
// is a CORS preflight and whether handling may continue. When the origin is
// rejected, the response has already been written.
func checkOrigin(wc *mgr.WorkerCtx, w http.ResponseWriter, r *http.Request) (isPreflight, ok bool) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false, true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		wc.Warn(
			"denied request with mangled origin header",
			"remote", r.RemoteAddr,
			"err", err,
		)
		http.Error(w, "Invalid Origin.", http.StatusForbidden)
		return false, false
	}

	// The origin must match the Host header, with or without a port. When the
	// Host carries a port and the origin does not, the comparison fails and
	// the request is denied, as proper equality cannot be checked then.
	if originURL.Host != r.Host && originURL.Hostname() != r.Host {
		wc.Warn(
			"denied cross-origin request",
			"remote", r.RemoteAddr,
			"origin", origin,
			"host", r.Host,
		)
		http.Error(w, "Cross-Origin Request Denied.", http.StatusForbidden)
		return false, false
	}

	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "*")
	w.Header().Set("Access-Control-Allow-Headers", "*")
	w.Header().Set("Access-Control-Max-Age", "60")
	w.Header().Add("Vary", "Origin")

	// An Access-Control-Request-Method header on an OPTIONS request marks a
	// preflight check.
	isPreflight = r.Method == http.MethodOptions &&
		r.Header.Get("Access-Control-Request-Method") != ""
	return isPreflight, true
}

// cleanRequestPath returns the normalized form of a request path.
func cleanRequestPath(requestPath string) string {
	if requestPath == "" || requestPath == "/" {
		return "/"
	}
	if !strings.HasPrefix(requestPath, "/") {
		requestPath = "/" + requestPath
	}

	cleaned := path.Clean(requestPath)
	// path.Clean strips a trailing slash, restore it.
	if strings.HasSuffix(requestPath, "/") {
		cleaned += "/"
	}

	return cleaned
}
