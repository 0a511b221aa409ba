// Package api exposes the proximity cache over HTTP: nearby-property
// search, property ingestion, and facet aggregation (spec section 6).
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/geoprox/proxcache/internal/aggregation"
	"github.com/geoprox/proxcache/internal/apperr"
	"github.com/geoprox/proxcache/internal/coordinator"
	"github.com/geoprox/proxcache/internal/model"
)

type Handlers struct {
	coord  *coordinator.Coordinator
	facets *aggregation.Service
	log    *zerolog.Logger

	defaultRadiusKm float64
	defaultLimit    int
	maxLimit        int
}

func NewHandlers(coord *coordinator.Coordinator, facets *aggregation.Service, log *zerolog.Logger, defaultRadiusKm float64, defaultLimit, maxLimit int) *Handlers {
	return &Handlers{
		coord:           coord,
		facets:          facets,
		log:             log,
		defaultRadiusKm: defaultRadiusKm,
		defaultLimit:    defaultLimit,
		maxLimit:        maxLimit,
	}
}

// GET /api/v1/properties/nearby?lat=&lng=&radius=&page=&limit=
func (h *Handlers) Nearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, err := parseFloat(q.Get("lat"))
	if err != nil {
		writeError(w, apperr.New(apperr.InvalidCoordinate, "missing or invalid lat"))
		return
	}
	lng, err := parseFloat(q.Get("lng"))
	if err != nil {
		writeError(w, apperr.New(apperr.InvalidCoordinate, "missing or invalid lng"))
		return
	}

	// -1 is the "not supplied" sentinel the coordinator defaults from; an
	// explicit radius=0 is a valid, deliberately zero-width query and
	// must not be silently replaced.
	radiusKm := -1.0
	if raw := q.Get("radius"); raw != "" {
		radiusKm, err = parseFloat(raw)
		if err != nil {
			writeError(w, apperr.New(apperr.InvalidPagination, "invalid radius"))
			return
		}
		if radiusKm < 0 {
			writeError(w, apperr.New(apperr.InvalidPagination, "radius must not be negative"))
			return
		}
	}

	page := parseIntDefault(q.Get("page"), 1)
	limit := parseIntDefault(q.Get("limit"), h.defaultLimit)

	prefs := model.Preferences{}
	if raw := q.Get("maxPrice"); raw != "" {
		if v, err := parseFloat(raw); err == nil {
			prefs.MaxPrice = v
		}
	}
	if raw := q.Get("preferredLocations"); raw != "" {
		prefs.PreferredLocations = splitCSV(raw)
	}
	if raw := q.Get("preferredTypes"); raw != "" {
		prefs.PreferredTypes = splitCSV(raw)
	}

	result, hit, err := h.coord.NearbyQuery(r.Context(), lat, lng, radiusKm, page, limit, prefs)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("X-Cache-Outcome", outcomeLabel(hit))
	writeJSON(w, http.StatusOK, result)
}

// POST /api/v1/properties
func (h *Handlers) AddProperty(w http.ResponseWriter, r *http.Request) {
	var p model.Property
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidCoordinate, "invalid request body", err))
		return
	}

	if err := h.coord.AddProperty(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GET /api/v1/properties/coordinate-range-indexing?lat=&lng=&radius=&skip=&limit=
func (h *Handlers) RangeQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, err := parseFloat(q.Get("lat"))
	if err != nil {
		writeError(w, apperr.New(apperr.InvalidCoordinate, "missing or invalid lat"))
		return
	}
	lng, err := parseFloat(q.Get("lng"))
	if err != nil {
		writeError(w, apperr.New(apperr.InvalidCoordinate, "missing or invalid lng"))
		return
	}
	radiusKm := h.defaultRadiusKm
	if raw := q.Get("radius"); raw != "" {
		radiusKm, _ = parseFloat(raw)
	}
	skip := int64(parseIntDefault(q.Get("skip"), 0))
	limit := int64(parseIntDefault(q.Get("limit"), h.defaultLimit))

	props, total, err := h.coord.CoordinateRangeQuery(r.Context(), lat, lng, radiusKm, skip, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"properties": props,
		"totalCount": total,
	})
}

// GET /api/v1/properties/aggregate?groupBy=&field=value...
func (h *Handlers) Facets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	groupBy := strings.TrimSpace(q.Get("groupBy"))
	if groupBy == "" {
		writeError(w, apperr.New(apperr.InvalidPagination, "groupBy is required"))
		return
	}

	var filters []model.AggregationFilter
	for queryParam, field := range aggregationFilterFields {
		if v := q.Get(queryParam); v != "" {
			filters = append(filters, model.AggregationFilter{Field: field, Value: v})
		}
	}

	groups, err := h.facets.Facets(r.Context(), groupBy, filters)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// GET /api/v1/properties?page=&limit=
func (h *Handlers) ListProperties(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := parseIntDefault(q.Get("page"), 1)
	limit := int64(parseIntDefault(q.Get("limit"), h.defaultLimit))
	if page < 1 {
		writeError(w, apperr.New(apperr.InvalidPagination, "page must be >= 1"))
		return
	}
	skip := int64(page-1) * limit

	props, total, err := h.coord.ListProperties(r.Context(), skip, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"properties": props,
		"totalCount": total,
		"page":       page,
	})
}

// GET /api/v1/properties/get-property/{id}
func (h *Handlers) GetProperty(w http.ResponseWriter, r *http.Request) {
	id := routeParam(r, "id")
	if id == "" {
		writeError(w, apperr.New(apperr.InvalidCoordinate, "id is required"))
		return
	}

	p, err := h.coord.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /api/v1/properties/cacheStats
func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.coord.CacheStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cacheHits":       stats.CacheHits,
		"totalDataCached": stats.TotalDataCached,
		"totalKeys":       stats.TotalKeys,
		"totalDocuments":  stats.TotalDocuments,
	})
}

// DELETE /api/v1/properties/clear-cache
func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.ClearCache(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

func routeParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// aggregationFilterFields maps the query params the aggregation
// endpoint accepts as equality filters (spec section 4.7) to the
// document field each narrows, covering the locality fields plus every
// categorical attribute named in section 4.1.
var aggregationFilterFields = map[string]string{
	"city":                 "city",
	"neighbourhood":        "neighbourhood",
	"categoryKey":          "category_key",
	"roomType":             "room_type",
	"propertyType":         "property_type",
	"cancellationPolicy":   "cancellation_policy",
	"hostIdentityVerified": "host_identity_verified",
	"purpose":              "purpose",
}

func outcomeLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

func parseFloat(v string) (float64, error) {
	if strings.TrimSpace(v) == "" {
		return 0, errors.New("empty value")
	}
	return strconv.ParseFloat(strings.TrimSpace(v), 64)
}

func parseIntDefault(v string, def int) int {
	if strings.TrimSpace(v) == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	writeJSON(w, apperr.HTTPStatus(kind), map[string]any{
		"error": err.Error(),
		"kind":  kind,
		"time":  time.Now().UTC(),
	})
}
