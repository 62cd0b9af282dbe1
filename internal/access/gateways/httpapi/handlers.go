package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/haukened/gracegate/internal/access/common/log"
	"github.com/haukened/gracegate/internal/access/domain"
	"github.com/haukened/gracegate/internal/access/gateways/wire"
)

const maxBody = 64 << 10

type checkRequest struct {
	URL string `json:"url" validate:"required,max=2048"`
}

type grantRequest struct {
	URL string `json:"url" validate:"required,max=2048"`
	Tab int    `json:"tab" validate:"gte=0"`
}

type verifyRequest struct {
	Key string `json:"key" validate:"required,max=64"`
	Tab int    `json:"tab" validate:"gte=0"`
}

type navigateRequest struct {
	Tab int    `json:"tab" validate:"gt=0"`
	URL string `json:"url" validate:"required,max=2048"`
}

type ruleRequest struct {
	Input string `json:"input" validate:"required,max=2048"`
}

type health struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

type handlers struct {
	deps     Deps
	validate *validator.Validate
	logger   log.Logger
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	out := health{Status: "ok"}
	if !h.deps.StartTime.IsZero() {
		out.Uptime = time.Since(h.deps.StartTime).Truncate(time.Second).String()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp := h.deps.Authority.Handle(r.Context(), domain.CheckBlocked{URL: req.URL})
	writeJSON(w, http.StatusOK, wire.FromResponse(resp))
}

func (h *handlers) requestGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp := h.deps.Authority.Handle(r.Context(), domain.RequestGrant{URL: req.URL, TabID: req.Tab})
	status := http.StatusCreated
	if gr, ok := resp.(domain.GrantResult); ok && !gr.Success {
		status = http.StatusServiceUnavailable
		if gr.Error == domain.ErrQuotaExceeded.Error() {
			status = http.StatusTooManyRequests
		}
	}
	writeJSON(w, status, wire.FromResponse(resp))
}

func (h *handlers) listGrants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wire.FromGrants(h.deps.Grants.Active()))
}

func (h *handlers) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp := h.deps.Authority.Handle(r.Context(), domain.VerifyKey{Key: req.Key, TabID: req.Tab})
	status := http.StatusOK
	if vr, ok := resp.(domain.VerifyResult); ok && !vr.Success {
		status = http.StatusForbidden
	}
	writeJSON(w, status, wire.FromResponse(resp))
}

func (h *handlers) navigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp := h.deps.Authority.Handle(r.Context(), domain.Navigate{TabID: req.Tab, URL: req.URL})
	writeJSON(w, http.StatusOK, wire.FromResponse(resp))
}

func (h *handlers) quota(w http.ResponseWriter, r *http.Request) {
	q := h.deps.Authority.Quota()
	writeJSON(w, http.StatusOK, wire.Quota{Used: q.Used, Limit: q.Limit, Bucket: q.Bucket})
}

func (h *handlers) listRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wire.FromRules(h.deps.Rules.List()))
}

func (h *handlers) getRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.deps.Rules.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, wire.FromRule(rule))
}

func (h *handlers) addRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if !h.decode(w, r, &req) {
		return
	}
	rule, err := h.deps.Rules.Add(r.Context(), req.Input)
	switch {
	case errors.Is(err, domain.ErrEmptyRule):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.logger.Error(map[string]any{"input": req.Input, "err": err}, "add rule failed")
		writeError(w, http.StatusInternalServerError, "rule could not be saved")
	default:
		writeJSON(w, http.StatusCreated, wire.FromRule(rule))
	}
}

// removeRule is idempotent; unknown ids answer 204 as well.
func (h *handlers) removeRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Rules.Remove(r.Context(), id); err != nil {
		h.logger.Error(map[string]any{"id": id, "err": err}, "remove rule failed")
		writeError(w, http.StatusInternalServerError, "rule could not be removed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body into dst and validates it. On failure the error
// response is already written.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// newValidator reports JSON field names in validation errors.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage names the first failing field in JSON terms.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("field %s failed %q", fe.Field(), fe.Tag())
	}
	return err.Error()
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
