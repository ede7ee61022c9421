package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/tradeledger/tradeledger/internal/inventory"
	"github.com/tradeledger/tradeledger/internal/platform/httpx"
	"github.com/tradeledger/tradeledger/internal/shared"
)

// IdempotencyHeader carries the optional client supplied submission key.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes bills over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the billing handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{kind}", h.handleList)
	r.Post("/{kind}", h.handleCreate)
	r.Get("/{kind}/{billNo}", h.handleShow)
	r.Get("/{kind}/{billNo}/items", h.handleItems)
	r.Get("/{kind}/{billNo}/details", h.handleDetails)
	r.Delete("/{kind}/{billNo}", h.handleDelete)
}

type lineItemPayload struct {
	StockID  int64            `json:"stock_id" validate:"required_without=Stock"`
	Stock    string           `json:"stock" validate:"required_without=StockID,max=120"`
	Quantity int64            `json:"quantity"`
	Discount decimal.Decimal  `json:"discount"`
	Price    *decimal.Decimal `json:"price"`
}

type createBillPayload struct {
	Supplier string            `json:"supplier" validate:"max=120"`
	Customer string            `json:"customer" validate:"max=120"`
	ActorID  int64             `json:"actor_id" validate:"gte=0"`
	Items    []lineItemPayload `json:"items" validate:"dive"`
}

type billView struct {
	Bill
	Items []LineItem `json:"items"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	var payload createBillPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", fieldErrs[0].Namespace()+" failed "+fieldErrs[0].Tag())
			return
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ref := payload.Supplier
	if kind == KindSale {
		ref = payload.Customer
	}
	if ref == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", string(kind.PartyKind())+" is required")
		return
	}

	input := CreateBillInput{
		PartyRef:       ref,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
		ActorID:        payload.ActorID,
	}
	for _, item := range payload.Items {
		input.Items = append(input.Items, LineItemRequest{
			StockID:   item.StockID,
			StockName: item.Stock,
			Quantity:  item.Quantity,
			Discount:  item.Discount,
			Price:     item.Price,
		})
	}

	var bill Bill
	if kind == KindSale {
		bill, err = h.service.CreateSaleBill(r.Context(), input)
	} else {
		bill, err = h.service.CreatePurchaseBill(r.Context(), input)
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	items, err := h.service.ListLineItems(r.Context(), kind, bill.Number)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, billView{Bill: bill, Items: items})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	filter := ListFilter{}
	if v := r.URL.Query().Get("party_id"); v != "" {
		filter.PartyID, err = strconv.ParseInt(v, 10, 64)
		if err != nil || filter.PartyID <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Party", v)
			return
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, err = strconv.Atoi(v)
		if err != nil || filter.Limit <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Limit", v)
			return
		}
	}
	bills, err := h.service.ListBills(r.Context(), kind, filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if bills == nil {
		bills = []Bill{}
	}
	httpx.JSON(w, http.StatusOK, bills)
}

func (h *Handler) handleShow(w http.ResponseWriter, r *http.Request) {
	kind, billNo, ok := h.billParams(w, r)
	if !ok {
		return
	}
	bill, err := h.service.GetBill(r.Context(), kind, billNo)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) handleItems(w http.ResponseWriter, r *http.Request) {
	kind, billNo, ok := h.billParams(w, r)
	if !ok {
		return
	}
	items, err := h.service.ListLineItems(r.Context(), kind, billNo)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if items == nil {
		items = []LineItem{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) handleDetails(w http.ResponseWriter, r *http.Request) {
	kind, billNo, ok := h.billParams(w, r)
	if !ok {
		return
	}
	details, err := h.service.GetBillDetails(r.Context(), kind, billNo)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, details)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	kind, billNo, ok := h.billParams(w, r)
	if !ok {
		return
	}
	var actorID int64
	if v := r.URL.Query().Get("actor_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Actor", v)
			return
		}
		actorID = id
	}
	if err := h.service.DeleteBill(r.Context(), kind, billNo, actorID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) billParams(w http.ResponseWriter, r *http.Request) (Kind, int64, bool) {
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return "", 0, false
	}
	billNo, err := strconv.ParseInt(chi.URLParam(r, "billNo"), 10, 64)
	if err != nil || billNo <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Bill Number", chi.URLParam(r, "billNo"))
		return "", 0, false
	}
	return kind, billNo, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Submission", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrStorage):
		h.logger.Error("billing storage failure", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Storage Failure", "")
	case isLineRuleViolation(err):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Bill", err.Error())
	default:
		h.logger.Error("billing request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func isLineRuleViolation(err error) bool {
	for _, target := range []error{ErrInvalidQuantity, ErrInvalidDiscount, ErrInvalidPrice, ErrPriceMismatch, ErrEmptyBill, ErrInvalidState} {
		if errors.Is(err, target) {
			return true
		}
	}
	return errors.Is(err, inventory.ErrInsufficientStock)
}
