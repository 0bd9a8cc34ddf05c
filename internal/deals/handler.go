package deals

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"dealscout/deal-service/internal/gateway"
	"dealscout/deal-service/internal/logging"
	"dealscout/deal-service/internal/model"
	"dealscout/deal-service/internal/store"
)

const maxBodyBytes = 1 << 20

// ─── Request bodies ──────────────────────────────────────────────────────────

type refreshRequest struct {
	Query      *string  `json:"query" validate:"omitempty,max=200"`
	Categories []string `json:"categories" validate:"omitempty,max=20,dive,max=100"`
	Limit      *int     `json:"limit" validate:"omitempty,min=3,max=50"`
}

type favoriteRequest struct {
	DeviceID string `json:"device_id" validate:"required,max=120"`
	DealID   int64  `json:"deal_id" validate:"required"`
}

type interestRequest struct {
	DeviceID string `json:"device_id" validate:"required,max=120"`
	Category string `json:"category" validate:"max=100"`
	Keyword  string `json:"keyword" validate:"max=120"`
	Priority *int   `json:"priority" validate:"omitempty,min=1,max=5"`
}

type alertRequest struct {
	DeviceID    string `json:"device_id" validate:"required,max=120"`
	AlertType   string `json:"alert_type" validate:"required,max=50"`
	Query       string `json:"query" validate:"max=120"`
	MinDiscount *int   `json:"min_discount" validate:"omitempty,min=0,max=95"`
	IsEnabled   *bool  `json:"is_enabled"`
}

type alertPatchRequest struct {
	MinDiscount *int  `json:"min_discount" validate:"omitempty,min=0,max=95"`
	IsEnabled   *bool `json:"is_enabled"`
}

type shareRequest struct {
	DeviceID string `json:"device_id" validate:"required,max=120"`
	DealID   int64  `json:"deal_id" validate:"required"`
	Channel  string `json:"channel" validate:"required,max=50"`
	Message  string `json:"message"`
}

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler exposes the Service over HTTP.
type Handler struct {
	svc      *Service
	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler returns a configured Handler.
func NewHandler(svc *Service) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{svc: svc, validate: v, log: logging.With("http")}
}

// RegisterRoutes mounts the /deals routes on r:
//
//	GET    /deals                                  → search active deals
//	GET    /deals/categories                       → distinct categories
//	POST   /deals/refresh                          → pull deals from the gateway and merge them
//	POST   /deals/favorites                        → favorite a deal
//	GET    /deals/favorites/{device_id}            → list a device's favorites
//	DELETE /deals/favorites/{device_id}/{deal_id}  → remove a favorite
//	POST   /deals/interests                        → declare an interest
//	GET    /deals/interests/{device_id}            → list a device's interests
//	POST   /deals/alerts                           → create an alert
//	GET    /deals/alerts/{device_id}               → list a device's alerts
//	PATCH  /deals/alerts/{alert_id}                → update an alert
//	GET    /deals/recommendations/{device_id}      → ranked deals for a device
//	POST   /deals/share                            → record a share
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/deals", func(r chi.Router) {
		r.Get("/", h.search)
		r.Get("/categories", h.categories)
		r.Post("/refresh", h.refresh)

		r.Post("/favorites", h.addFavorite)
		r.Get("/favorites/{device_id}", h.listFavorites)
		r.Delete("/favorites/{device_id}/{deal_id}", h.removeFavorite)

		r.Post("/interests", h.addInterest)
		r.Get("/interests/{device_id}", h.listInterests)

		r.Post("/alerts", h.createAlert)
		r.Get("/alerts/{device_id}", h.listAlerts)
		r.Patch("/alerts/{alert_id}", h.updateAlert)

		r.Get("/recommendations/{device_id}", h.recommendations)
		r.Post("/share", h.share)
	})
}

// ─── Deals ───────────────────────────────────────────────────────────────────

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := SearchParams{
		Query:       q.Get("q"),
		Category:    q.Get("category"),
		Marketplace: q.Get("marketplace"),
	}
	var err error
	if p.MinDiscount, err = intParam(q.Get("min_discount"), 0); err != nil {
		jsonError(w, "min_discount must be an integer", http.StatusBadRequest)
		return
	}
	if p.Limit, err = intParam(q.Get("limit"), DefaultSearchLimit); err != nil {
		jsonError(w, "limit must be an integer", http.StatusBadRequest)
		return
	}

	res, err := h.svc.Search(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonOK(w, res)
}

func (h *Handler) categories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.svc.Categories(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonOK(w, cats)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !h.decode(w, r, &body) {
		return
	}

	p := RefreshParams{Limit: DefaultRefreshLimit, Trigger: TriggerAPI}
	if body.Query != nil {
		p.Query = strings.TrimSpace(*body.Query)
	}
	if body.Limit != nil {
		p.Limit = *body.Limit
	}
	for _, c := range body.Categories {
		if c = strings.TrimSpace(c); c != "" {
			p.Categories = append(p.Categories, c)
		}
	}

	res, err := h.svc.Refresh(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonOK(w, res)
}

// ─── Favorites ───────────────────────────────────────────────────────────────

func (h *Handler) addFavorite(w http.ResponseWriter, r *http.Request) {
	var body favoriteRequest
	if !h.decode(w, r, &body) {
		return
	}
	fav, err := h.svc.AddFavorite(r.Context(), body.DeviceID, body.DealID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonOK(w, fav)
}

func (h *Handler) listFavorites(w http.ResponseWriter, r *http.Request) {
	favs, err := h.svc.ListFavorites(r.Context(), chi.URLParam(r, "device_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonOK(w, favs)
}

func (h *Handler) removeFavorite(w http.ResponseWriter, r *http.Request) {
	dealID, err := strconv.ParseInt(chi.URLParam(r, "deal_id"), 10, 64)
	if err != nil {
		jsonError(w, "deal_id must be an integer", http.StatusBadRequest)
		return
	}
	if err := h.svc.RemoveFavorite(r.Context(), chi.URLParam(r, "device_id"), dealID); err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonOK(w, map[string]bool{"success": true})
}

// ─── Interests ───────────────────────────────────────────────────────────────

func (h *Handler) addInterest(w http.ResponseWriter, r *http.Request) {
	var body interestRequest
	if !h.decode(w, r, &body) {
		return
	}
	in := model.UserInterest{
		DeviceID: body.DeviceID,
		Category: body.Category,
		Keyword:  body.Keyword,
		Priority: 1,
	}
	if body.Priority != nil {
		in.Priority = *body.Priority
	}

	out, err := h.svc.AddInterest(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonOK(w, out)
}

func (h *Handler) listInterests(w http.ResponseWriter, r *http.Request) {
	ins, err := h.svc.ListInterests(r.Context(), chi.URLParam(r, "device_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonOK(w, ins)
}

// ─── Alerts ──────────────────────────────────────────────────────────────────

func (h *Handler) createAlert(w http.ResponseWriter, r *http.Request) {
	var body alertRequest
	if !h.decode(w, r, &body) {
		return
	}
	a := model.DealAlert{
		DeviceID:    body.DeviceID,
		AlertType:   body.AlertType,
		Query:       body.Query,
		MinDiscount: DefaultMinDiscount,
		IsEnabled:   true,
	}
	if body.MinDiscount != nil {
		a.MinDiscount = *body.MinDiscount
	}
	if body.IsEnabled != nil {
		a.IsEnabled = *body.IsEnabled
	}

	out, err := h.svc.CreateAlert(r.Context(), a)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonOK(w, out)
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.svc.ListAlerts(r.Context(), chi.URLParam(r, "device_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonOK(w, alerts)
}

func (h *Handler) updateAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "alert_id"), 10, 64)
	if err != nil {
		jsonError(w, "alert_id must be an integer", http.StatusBadRequest)
		return
	}
	var body alertPatchRequest
	if !h.decode(w, r, &body) {
		return
	}

	a, err := h.svc.UpdateAlert(r.Context(), id, store.AlertPatch{
		MinDiscount: body.MinDiscount,
		IsEnabled:   body.IsEnabled,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonOK(w, a)
}

// ─── Recommendations & share ─────────────────────────────────────────────────

func (h *Handler) recommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.Recommendations(r.Context(), chi.URLParam(r, "device_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonOK(w, recs)
}

func (h *Handler) share(w http.ResponseWriter, r *http.Request) {
	var body shareRequest
	if !h.decode(w, r, &body) {
		return
	}
	sh, err := h.svc.Share(r.Context(), model.SharedDeal{
		DeviceID: body.DeviceID,
		DealID:   body.DealID,
		Channel:  body.Channel,
		Message:  body.Message,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonOK(w, sh)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// decode reads a JSON body into dst, trims its string fields and validates
// it. On failure it writes a 400 and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	trimStrings(reflect.ValueOf(dst).Elem())
	if err := h.validate.Struct(dst); err != nil {
		jsonError(w, validationMessage(err), http.StatusBadRequest)
		return false
	}
	return true
}

// trimStrings strips surrounding whitespace from every string field of a
// request struct, including *string fields.
func trimStrings(v reflect.Value) {
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		switch {
		case f.Kind() == reflect.String:
			f.SetString(strings.TrimSpace(f.String()))
		case f.Kind() == reflect.Pointer && !f.IsNil() && f.Elem().Kind() == reflect.String:
			f.Elem().SetString(strings.TrimSpace(f.Elem().String()))
		}
	}
}

func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return err.Error()
	}
	fe := ve[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func intParam(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

// writeError maps service errors to status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		jsonError(w, ve.Msg, http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, gateway.ErrMissingAPIKey):
		h.log.Error().Str("path", r.URL.Path).Msg("gateway API key not configured")
		jsonError(w, gateway.ErrMissingAPIKey.Error(), http.StatusInternalServerError)
	default:
		h.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
