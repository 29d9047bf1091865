package graphqlapi

import (
	"net/http"

	"github.com/graphql-go/handler"
)

// Handler returns an http.Handler serving the gateway's current schema.
// Each request reads g.Schema() fresh, so a rebuild triggered by a
// concurrent schema_added event only ever affects requests that arrive
// after the swap (spec.md §4.8/§8 "the HTTP handler holds a shared
// reference that is atomically replaced").
func (g *Gateway) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		schema := g.Schema()
		h := handler.New(&handler.Config{
			Schema:     schema,
			Pretty:     true,
			GraphiQL:   r.Method == http.MethodGet,
			Playground: false,
		})
		h.ContextHandler(r.Context(), w, r)
	})
}
