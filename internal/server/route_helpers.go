package server

import (
	"net/http"
	"strings"

	"github.com/ternarybob/atozbot/internal/handlers"
)

// RouteHandler is a function type for HTTP handlers
type RouteHandler func(http.ResponseWriter, *http.Request)

// MethodRouter maps HTTP methods to handlers
type MethodRouter map[string]RouteHandler

// RouteByMethod dispatches on r.Method. Unmapped methods get a JSON 405 with
// an Allow header.
func RouteByMethod(w http.ResponseWriter, r *http.Request, routes MethodRouter) {
	handler, ok := routes[r.Method]
	if !ok {
		allowed := make([]string, 0, len(routes))
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
			if _, ok := routes[method]; ok {
				allowed = append(allowed, method)
			}
		}
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		handlers.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	handler(w, r)
}

// RouteCRUD routes GET, POST, PUT and DELETE; nil handlers are not allowed
func RouteCRUD(w http.ResponseWriter, r *http.Request, get, post, put, delete RouteHandler) {
	routes := make(MethodRouter, 4)
	for method, handler := range map[string]RouteHandler{
		http.MethodGet:    get,
		http.MethodPost:   post,
		http.MethodPut:    put,
		http.MethodDelete: delete,
	} {
		if handler != nil {
			routes[method] = handler
		}
	}
	RouteByMethod(w, r, routes)
}

// RouteResourceCollection handles GET -> list, POST -> create
func RouteResourceCollection(w http.ResponseWriter, r *http.Request, list, create RouteHandler) {
	RouteCRUD(w, r, list, create, nil, nil)
}

// PathSuffixRouter routes a sub-path ending in Suffix to Handler
type PathSuffixRouter struct {
	Suffix  string
	Handler RouteHandler
}

// RouteByPathSuffix matches the path below prefix against each suffix in
// order. Returns true if a route handled the request.
func RouteByPathSuffix(w http.ResponseWriter, r *http.Request, prefix string, routes []PathSuffixRouter) bool {
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	if rest == r.URL.Path || rest == "" {
		return false
	}
	for _, route := range routes {
		if strings.HasSuffix(rest, route.Suffix) {
			route.Handler(w, r)
			return true
		}
	}
	return false
}
