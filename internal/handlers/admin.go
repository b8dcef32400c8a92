package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/commerce-checkout/internal/commerce"
	domain "github.com/hanko-field/commerce-checkout/internal/domain"
	"github.com/hanko-field/commerce-checkout/internal/platform/httpx"
	"github.com/hanko-field/commerce-checkout/internal/platform/requestctx"
)

const (
	adminExtensionID      = "oope_tax_management"
	taxCodeAttribute      = "tax_code"
	taxLabelAttribute     = "tax_label"
	maxAdminRequestBody   = 16 * 1024
	taxClassSearchPageCap = 100
)

// TaxClassStore reads and updates Commerce tax classes.
type TaxClassStore interface {
	SearchTaxClasses(ctx context.Context, page, pageSize int) ([]commerce.TaxClass, error)
	GetTaxClass(ctx context.Context, classID int) (commerce.TaxClass, error)
	SaveTaxClass(ctx context.Context, class commerce.TaxClass) (string, error)
}

// AdminHandlers backs the Commerce admin UI extension.
type AdminHandlers struct {
	taxClasses TaxClassStore
	taxCodes   func() []domain.TaxRate
	guard      []func(http.Handler) http.Handler
}

// AdminHandlersDeps bundles admin collaborators. Guard middlewares protect every admin route.
type AdminHandlersDeps struct {
	TaxClasses TaxClassStore
	TaxCodes   func() []domain.TaxRate
	Guard      []func(http.Handler) http.Handler
}

// NewAdminHandlers constructs admin handlers.
func NewAdminHandlers(deps AdminHandlersDeps) *AdminHandlers {
	return &AdminHandlers{taxClasses: deps.TaxClasses, taxCodes: deps.TaxCodes, guard: deps.Guard}
}

// Routes registers admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r.With(h.guard...)
	group.Get("/registration", h.registration)
	group.Get("/tax-codes", h.listTaxCodes)
	group.Get("/tax-classes", h.listTaxClasses)
	group.Put("/tax-classes/{classID}", h.updateTaxClass)
}

type menuItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Parent    string `json:"parent,omitempty"`
	IsSection bool   `json:"isSection,omitempty"`
	SortOrder int    `json:"sortOrder"`
}

type registrationPayload struct {
	Registration struct {
		MenuItems []menuItem `json:"menuItems"`
		Page      struct {
			Title string `json:"title"`
		} `json:"page"`
	} `json:"registration"`
}

func (h *AdminHandlers) registration(w http.ResponseWriter, r *http.Request) {
	var payload registrationPayload
	payload.Registration.MenuItems = []menuItem{
		{ID: adminExtensionID + "::taxes", Title: "Tax management", Parent: adminExtensionID + "::apps", SortOrder: 1},
		{ID: adminExtensionID + "::apps", Title: "Apps", IsSection: true, SortOrder: 100},
	}
	payload.Registration.Page.Title = "Tax management"
	httpx.WriteJSON(w, http.StatusOK, payload)
}

type taxCodePayload struct {
	TaxCode string  `json:"tax_code"`
	Name    string  `json:"name"`
	Rate    float64 `json:"rate"`
}

func (h *AdminHandlers) listTaxCodes(w http.ResponseWriter, r *http.Request) {
	codes := make([]taxCodePayload, 0)
	for _, rate := range h.knownTaxCodes() {
		codes = append(codes, taxCodePayload{TaxCode: rate.Code, Name: rate.Title, Rate: rate.Rate})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": codes})
}

type taxClassPayload struct {
	ClassID          int                        `json:"class_id"`
	ClassName        string                     `json:"class_name"`
	ClassType        string                     `json:"class_type"`
	TaxCode          string                     `json:"tax_code"`
	TaxLabel         string                     `json:"tax_label"`
	CustomAttributes []commerce.CustomAttribute `json:"custom_attributes"`
}

func newTaxClassPayload(class commerce.TaxClass) taxClassPayload {
	attrs := class.CustomAttributes
	if attrs == nil {
		attrs = []commerce.CustomAttribute{}
	}
	return taxClassPayload{
		ClassID:          class.ClassID,
		ClassName:        class.ClassName,
		ClassType:        class.ClassType,
		TaxCode:          class.Attribute(taxCodeAttribute),
		TaxLabel:         class.Attribute(taxLabelAttribute),
		CustomAttributes: attrs,
	}
}

func (h *AdminHandlers) listTaxClasses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.taxClasses == nil {
		httpx.WriteError(ctx, w, httpx.NewError("commerce_unavailable", "commerce client not configured", http.StatusServiceUnavailable))
		return
	}
	classes, err := h.taxClasses.SearchTaxClasses(ctx, 1, taxClassSearchPageCap)
	if err != nil {
		writeCommerceError(ctx, w, err)
		return
	}
	items := make([]taxClassPayload, 0, len(classes))
	for _, class := range classes {
		items = append(items, newTaxClassPayload(class))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

type updateTaxClassRequest struct {
	TaxCode  string `json:"tax_code"`
	TaxLabel string `json:"tax_label"`
}

func (h *AdminHandlers) updateTaxClass(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.taxClasses == nil {
		httpx.WriteError(ctx, w, httpx.NewError("commerce_unavailable", "commerce client not configured", http.StatusServiceUnavailable))
		return
	}
	classID, err := strconv.Atoi(strings.TrimSpace(chi.URLParam(r, "classID")))
	if err != nil || classID <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "tax class id must be a positive integer", http.StatusBadRequest))
		return
	}

	body, err := httpx.ReadBody(r, maxAdminRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, httpx.ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	var req updateTaxClassRequest
	if err := httpx.DecodeJSON(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", httpx.ErrInvalidJSON.Error(), http.StatusBadRequest))
		return
	}
	code := strings.TrimSpace(req.TaxCode)
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "tax_code is required", http.StatusBadRequest))
		return
	}
	label := strings.TrimSpace(req.TaxLabel)
	known := h.knownTaxCodes()
	if len(known) > 0 {
		rate, ok := findTaxCode(known, code)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("unknown_tax_code", "tax_code "+code+" is not configured", http.StatusUnprocessableEntity))
			return
		}
		if label == "" {
			label = rate.Title
		}
	}

	class, err := h.taxClasses.GetTaxClass(ctx, classID)
	if err != nil {
		writeCommerceError(ctx, w, err)
		return
	}
	class.ClassID = classID
	class.SetAttribute(taxCodeAttribute, code)
	if label != "" {
		class.SetAttribute(taxLabelAttribute, label)
	}
	if _, err := h.taxClasses.SaveTaxClass(ctx, class); err != nil {
		writeCommerceError(ctx, w, err)
		return
	}
	requestctx.Logger(ctx).Info("tax class updated", zap.Int("class_id", classID), zap.String("tax_code", code))
	httpx.WriteJSON(w, http.StatusOK, newTaxClassPayload(class))
}

func (h *AdminHandlers) knownTaxCodes() []domain.TaxRate {
	if h.taxCodes == nil {
		return nil
	}
	return h.taxCodes()
}

func findTaxCode(rates []domain.TaxRate, code string) (domain.TaxRate, bool) {
	for _, rate := range rates {
		if rate.Code == code {
			return rate, true
		}
	}
	return domain.TaxRate{}, false
}

func writeCommerceError(ctx context.Context, w http.ResponseWriter, err error) {
	var apiErr *commerce.APIError
	if commerce.IsNotFound(err) && errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = "resource not found in commerce"
		}
		httpx.WriteError(ctx, w, httpx.NewError("not_found", message, http.StatusNotFound))
		return
	}
	requestctx.Logger(ctx).Error("commerce request failed", zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("commerce_error", err.Error(), http.StatusBadGateway))
}
