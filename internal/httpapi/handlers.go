package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"telecom-billing/internal/apperr"
	"telecom-billing/internal/assignments"
	"telecom-billing/internal/auth"
	"telecom-billing/internal/calls"
	"telecom-billing/internal/invoicing"
	"telecom-billing/internal/period"
	"telecom-billing/internal/reporting"
	"telecom-billing/internal/resources"
	"telecom-billing/internal/usage"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Resources   *resources.Manager
	Assignments *assignments.Registry
	Generator   *invoicing.Generator
	Workflow    *invoicing.Workflow
	Usage       *usage.Aggregator
	Calls       *calls.Service
	Reports     *reporting.Service
	Periods     period.Resolver

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// bindJSON writes 400 on malformed bodies. An empty body is accepted when
// optional is set.
func bindJSON(c *gin.Context, dst any, optional bool) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
	return false
}

// --- Resources ---

type createResourceRequest struct {
	Kind  resources.Kind `json:"kind"`
	Label string         `json:"label"`
}

func (h Handlers) CreateResource(c *gin.Context) {
	var req createResourceRequest
	if !bindJSON(c, &req, false) {
		return
	}
	r, err := h.Resources.Register(c.Request.Context(), req.Kind, req.Label)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h Handlers) MarkResourceMaintenance(c *gin.Context) {
	h.resourceTransition(c, h.Resources.MarkMaintenance)
}

func (h Handlers) MarkResourceAvailable(c *gin.Context) {
	h.resourceTransition(c, h.Resources.MarkAvailable)
}

func (h Handlers) resourceTransition(c *gin.Context, move func(ctx context.Context, id string) error) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := move(ctx, id); err != nil {
		AbortWithError(c, err)
		return
	}
	r, err := h.Resources.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// --- Assignments ---

type leaseRequest struct {
	CompanyID   string           `json:"company_id"`
	ResourceID  string           `json:"resource_id"`
	PricePerMin *decimal.Decimal `json:"price_per_min"`
	StartDate   *time.Time       `json:"start_date"`
	EndDate     *time.Time       `json:"end_date"`
}

func (h Handlers) LeaseAssignment(c *gin.Context) {
	var req leaseRequest
	if !bindJSON(c, &req, false) {
		return
	}
	if req.PricePerMin == nil {
		AbortWithError(c, apperr.Validation("price_per_min is required"))
		return
	}
	lr := assignments.LeaseRequest{
		CompanyID:   strings.TrimSpace(req.CompanyID),
		ResourceID:  strings.TrimSpace(req.ResourceID),
		PricePerMin: *req.PricePerMin,
		EndDate:     req.EndDate,
	}
	if req.StartDate != nil {
		lr.StartDate = *req.StartDate
	}
	a, err := h.Assignments.Lease(c.Request.Context(), lr)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h Handlers) ReleaseAssignment(c *gin.Context) {
	a, err := h.Assignments.Release(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type repriceRequest struct {
	PricePerMin *decimal.Decimal `json:"price_per_min"`
}

func (h Handlers) RepriceAssignment(c *gin.Context) {
	var req repriceRequest
	if !bindJSON(c, &req, false) {
		return
	}
	if req.PricePerMin == nil {
		AbortWithError(c, apperr.Validation("price_per_min is required"))
		return
	}
	a, err := h.Assignments.Reprice(c.Request.Context(), c.Param("id"), *req.PricePerMin)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// --- Invoices ---

type generateRequest struct {
	// Month is YYYY-MM; empty bills the current month.
	Month string `json:"month"`
}

func (h Handlers) GenerateInvoices(c *gin.Context) {
	var req generateRequest
	if !bindJSON(c, &req, true) {
		return
	}
	ref := h.now()
	if m := strings.TrimSpace(req.Month); m != "" {
		p, err := h.Periods.ParseMonth(m)
		if err != nil {
			AbortWithError(c, apperr.Wrap(apperr.KindValidation, "month", err))
			return
		}
		ref = p.Start
	}
	report, err := h.Generator.GenerateForPeriod(c.Request.Context(), ref)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h Handlers) RecomputeInvoice(c *gin.Context) {
	res, err := h.Usage.Recompute(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type transitionRequest struct {
	Status invoicing.Status `json:"status"`
}

func (h Handlers) TransitionInvoice(c *gin.Context) {
	var req transitionRequest
	if !bindJSON(c, &req, false) {
		return
	}
	inv, err := h.Workflow.Transition(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h Handlers) ListInvoices(c *gin.Context) {
	f, ok := h.invoiceFilter(c)
	if !ok {
		return
	}
	f.CompanyID = strings.TrimSpace(c.Query("company_id"))
	h.listInvoices(c, f)
}

func (h Handlers) GetInvoice(c *gin.Context) {
	inv, err := h.Workflow.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// invoiceFilter reads status, month and limit from the query string.
func (h Handlers) invoiceFilter(c *gin.Context) (invoicing.Filter, bool) {
	f := invoicing.Filter{Status: invoicing.Status(strings.TrimSpace(c.Query("status")))}
	if m := strings.TrimSpace(c.Query("month")); m != "" {
		p, err := h.Periods.ParseMonth(m)
		if err != nil {
			AbortWithError(c, apperr.Wrap(apperr.KindValidation, "month", err))
			return f, false
		}
		f.PeriodStart = &p.Start
	}
	if l := strings.TrimSpace(c.Query("limit")); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			AbortWithError(c, apperr.Validation("limit must be a non-negative integer"))
			return f, false
		}
		f.Limit = n
	}
	return f, true
}

func (h Handlers) listInvoices(c *gin.Context, f invoicing.Filter) {
	out, err := h.Workflow.List(c.Request.Context(), f)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": out})
}

// --- Calls ---

type recordCallRequest struct {
	LineItemID    string     `json:"line_item_id"`
	ResourceID    string     `json:"resource_id"`
	SessionID     string     `json:"session_id"`
	UserPhone     string     `json:"user_phone"`
	Duration      *int       `json:"duration"`
	Disposition   string     `json:"disposition"`
	StartedAt     *time.Time `json:"started_at"`
	AudioURL      string     `json:"call_audio_url"`
	Transcription string     `json:"call_transcription"`
	calls.Feedback
}

func (h Handlers) RecordCall(c *gin.Context) {
	var req recordCallRequest
	if !bindJSON(c, &req, false) {
		return
	}
	if req.Duration == nil {
		AbortWithError(c, apperr.Validation("duration is required"))
		return
	}
	rr := calls.RecordRequest{
		LineItemID:      strings.TrimSpace(req.LineItemID),
		ResourceID:      strings.TrimSpace(req.ResourceID),
		SessionID:       req.SessionID,
		UserPhone:       strings.TrimSpace(req.UserPhone),
		DurationSeconds: *req.Duration,
		Disposition:     req.Disposition,
		AudioURL:        req.AudioURL,
		Transcription:   req.Transcription,
		Feedback:        req.Feedback,
	}
	if req.StartedAt != nil {
		rr.StartedAt = *req.StartedAt
	}
	out, err := h.Calls.Record(c.Request.Context(), rr)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	status := http.StatusCreated
	if out.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, out)
}

type durationRequest struct {
	Duration *int `json:"duration"`
}

func (h Handlers) CorrectCallDuration(c *gin.Context) {
	var req durationRequest
	if !bindJSON(c, &req, false) {
		return
	}
	if req.Duration == nil {
		AbortWithError(c, apperr.Validation("duration is required"))
		return
	}
	out, err := h.Calls.CorrectDuration(c.Request.Context(), c.Param("id"), *req.Duration)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) DeleteCall(c *gin.Context) {
	res, err := h.Calls.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"totals": res})
}

// --- Company portal ---

// companyID is set by auth middleware; rbac.RequireCompany guarantees it.
func companyID(c *gin.Context) (string, bool) {
	cid, err := auth.CompanyID(c.Request.Context())
	if err != nil || cid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "company_id required"})
		return "", false
	}
	return cid, true
}

func (h Handlers) ListCompanyInvoices(c *gin.Context) {
	cid, ok := companyID(c)
	if !ok {
		return
	}
	f, ok := h.invoiceFilter(c)
	if !ok {
		return
	}
	f.CompanyID = cid
	h.listInvoices(c, f)
}

func (h Handlers) GetCompanyInvoice(c *gin.Context) {
	cid, ok := companyID(c)
	if !ok {
		return
	}
	inv, err := h.Workflow.GetForCompany(c.Request.Context(), cid, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h Handlers) UpdateCallFeedback(c *gin.Context) {
	cid, ok := companyID(c)
	if !ok {
		return
	}
	var req calls.Feedback
	if !bindJSON(c, &req, false) {
		return
	}
	call, err := h.Calls.UpdateFeedback(c.Request.Context(), cid, c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// --- Reports ---

func (h Handlers) Dashboard(c *gin.Context) {
	d, err := h.Reports.Dashboard(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// CallsReport summarizes one company's calls of a month; admins pass
// company_id, portal users get their own company.
func (h Handlers) CallsReport(c *gin.Context) {
	cid := strings.TrimSpace(c.Query("company_id"))
	if cid == "" {
		var ok bool
		if cid, ok = companyID(c); !ok {
			return
		}
	}
	h.callsReport(c, cid)
}

func (h Handlers) CompanyCallsReport(c *gin.Context) {
	cid, ok := companyID(c)
	if !ok {
		return
	}
	h.callsReport(c, cid)
}

func (h Handlers) callsReport(c *gin.Context, cid string) {
	p := h.Periods.For(h.now())
	if m := strings.TrimSpace(c.Query("month")); m != "" {
		var err error
		if p, err = h.Periods.ParseMonth(m); err != nil {
			AbortWithError(c, apperr.Wrap(apperr.KindValidation, "month", err))
			return
		}
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		CompanyID: cid,
		Range:     reporting.TimeRange{From: p.Start, To: p.Next().Start},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
