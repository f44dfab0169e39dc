package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"fitroom/internal/checkout"
	checkoutdb "fitroom/internal/checkout/db"
	"fitroom/internal/jobs"
	"fitroom/internal/journal"
	"fitroom/internal/observability"
	"fitroom/internal/realtime"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server exposes the job manager and checkout sessions over HTTP JSON.
type Server struct {
	manager  *jobs.Manager
	hub      *realtime.Hub
	metrics  *observability.Metrics
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	orders    checkout.OrderClient
	discounts checkout.DiscountResolver
	advice    checkout.RecommendationTable
	journal   *journal.Journal

	mu       sync.Mutex
	sessions map[string]*checkout.Machine
}

// NewServer constructs a Server. hub may be nil to disable the websocket
// endpoint.
func NewServer(manager *jobs.Manager, orders checkout.OrderClient, hub *realtime.Hub, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		manager:   manager,
		hub:       hub,
		metrics:   metrics,
		logger:    logger,
		orders:    orders,
		discounts: checkout.DefaultDiscounts(),
		advice:    checkout.DefaultRecommendations(),
		sessions:  make(map[string]*checkout.Machine),
	}
}

// WithJournal makes the server record terminal checkout outcomes in the
// given journal.
func (s *Server) WithJournal(j *journal.Journal) *Server {
	s.journal = j
	return s
}

// Routes returns the full handler tree.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", observability.Handler(s.metrics))

	mux.HandleFunc("POST /jobs", s.handleCreateJob)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)

	mux.HandleFunc("POST /checkouts", s.handleCreateCheckout)
	mux.HandleFunc("GET /checkouts/{id}", s.handleGetCheckout)
	mux.HandleFunc("GET /checkouts/{id}/quote", s.handleQuote)
	mux.HandleFunc("POST /checkouts/{id}/next", s.stepHandler("checkout.next", s.doNext))
	mux.HandleFunc("POST /checkouts/{id}/back", s.stepHandler("checkout.back", s.doBack))
	mux.HandleFunc("POST /checkouts/{id}/address", s.handleSetAddress)
	mux.HandleFunc("POST /checkouts/{id}/payment-method", s.handleSelectPayment)
	mux.HandleFunc("POST /checkouts/{id}/discount", s.handleApplyDiscount)
	mux.HandleFunc("DELETE /checkouts/{id}/discount", s.stepHandler("checkout.discount.remove", s.doRemoveDiscount))
	mux.HandleFunc("POST /checkouts/{id}/order", s.handlePlaceOrder)
	mux.HandleFunc("POST /checkouts/{id}/cancel", s.stepHandler("checkout.cancel", s.doCancel))
	mux.HandleFunc("POST /checkouts/{id}/retry", s.handleRetryPayment)

	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.handleWebsocket)
	}

	return mux
}

// --- jobs ---

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("jobs.create")
	var err error
	defer func() { span.End(err) }()

	var req jobs.Request
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, createErr := s.manager.Create(r.Context(), req)
	if createErr != nil {
		err = createErr
		s.writeDomainError(w, createErr)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"state":      job.State,
		"created_at": job.CreatedAt,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("jobs.get")
	var err error
	defer func() { span.End(err) }()

	job, ok := s.manager.Get(r.PathValue("id"))
	if !ok {
		err = errors.New("job not found")
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// --- checkout sessions ---

type createCheckoutRequest struct {
	Items []checkout.Item `json:"items"`
}

func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("checkout.create")
	var err error
	defer func() { span.End(err) }()

	var req createCheckoutRequest
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := uuid.NewString()
	machine := checkout.NewMachine(req.Items, s.orders, s.discounts, s.advice)

	s.mu.Lock()
	s.sessions[id] = machine
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, s.sessionView(id, machine))
}

func (s *Server) handleGetCheckout(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("checkout.get")
	var err error
	defer func() { span.End(err) }()

	id := r.PathValue("id")
	machine, ok := s.session(id)
	if !ok {
		err = errors.New("checkout not found")
		writeError(w, http.StatusNotFound, "checkout not found")
		return
	}
	writeJSON(w, http.StatusOK, s.sessionView(id, machine))
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("checkout.quote")
	var err error
	defer func() { span.End(err) }()

	id := r.PathValue("id")
	machine, ok := s.session(id)
	if !ok {
		err = errors.New("checkout not found")
		writeError(w, http.StatusNotFound, "checkout not found")
		return
	}

	var pricer checkout.Pricer = checkout.FlatPricer{}
	if r.URL.Query().Get("variant") == "gst" {
		pricer = checkout.NewGSTPricer()
	}
	writeJSON(w, http.StatusOK, machine.QuoteWith(pricer))
}

// stepHandler wraps a session mutation: resolves the session, applies the
// intent, records the step transition and returns the updated view.
func (s *Server) stepHandler(method string, apply func(*checkout.Machine, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		span := s.metrics.Start(method)
		var err error
		defer func() { span.End(err) }()

		id := r.PathValue("id")
		machine, ok := s.session(id)
		if !ok {
			err = errors.New("checkout not found")
			writeError(w, http.StatusNotFound, "checkout not found")
			return
		}

		before := machine.Step()
		err = apply(machine, r)
		after := machine.Step()
		s.metrics.CountCheckoutTransition(before.String(), after.String())
		if before != after && after.Terminal() {
			s.recordCheckoutOutcome(r.Context(), id, machine, after)
		}

		if err != nil {
			s.logger.Warn().Str("checkout_id", id).Str("step", after.String()).Err(err).Msg("checkout intent rejected")
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.sessionView(id, machine))
	}
}

func (s *Server) doNext(m *checkout.Machine, _ *http.Request) error {
	if !m.NextStep() {
		return m.Err()
	}
	return nil
}

func (s *Server) doBack(m *checkout.Machine, _ *http.Request) error {
	m.PreviousStep()
	return nil
}

func (s *Server) doRemoveDiscount(m *checkout.Machine, _ *http.Request) error {
	m.RemoveDiscount()
	return nil
}

func (s *Server) doCancel(m *checkout.Machine, _ *http.Request) error {
	if !m.CancelCheckout() {
		return checkout.ErrRetryNotAllowed
	}
	return nil
}

func (s *Server) handleSetAddress(w http.ResponseWriter, r *http.Request) {
	s.stepHandler("checkout.address", func(m *checkout.Machine, r *http.Request) error {
		var addr checkout.Address
		if err := json.NewDecoder(r.Body).Decode(&addr); err != nil {
			return checkout.ErrAddressRequired
		}
		m.SetAddress(addr)
		return nil
	})(w, r)
}

func (s *Server) handleSelectPayment(w http.ResponseWriter, r *http.Request) {
	s.stepHandler("checkout.payment_method", func(m *checkout.Machine, r *http.Request) error {
		var body struct {
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return checkout.ErrPaymentMethodRequired
		}
		return m.SelectPaymentMethod(body.Method)
	})(w, r)
}

func (s *Server) handleApplyDiscount(w http.ResponseWriter, r *http.Request) {
	s.stepHandler("checkout.discount.apply", func(m *checkout.Machine, r *http.Request) error {
		var body struct {
			Code string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return checkout.ErrInvalidCoupon
		}
		if !m.ApplyDiscount(body.Code) {
			return m.Err()
		}
		return nil
	})(w, r)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	s.stepHandler("checkout.order", func(m *checkout.Machine, r *http.Request) error {
		// PlaceOrder treats a wrong step as a programmer error; guard
		// the boundary so client mistakes surface as a conflict.
		if m.Step() != checkout.StepReviewOrder {
			return errWrongStep
		}
		return m.PlaceOrder(r.Context())
	})(w, r)
}

func (s *Server) handleRetryPayment(w http.ResponseWriter, r *http.Request) {
	s.stepHandler("checkout.retry", func(m *checkout.Machine, r *http.Request) error {
		return m.RetryPayment(r.Context())
	})(w, r)
}

// --- websocket ---

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	select {
	case s.hub.Register <- conn:
	case <-s.hub.Done():
		conn.Close()
		return
	}

	// Drain client frames; unregister once the peer goes away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				select {
				case s.hub.Unregister <- conn:
				case <-s.hub.Done():
					conn.Close()
				}
				return
			}
		}
	}()
}

// --- helpers ---

var errWrongStep = errors.New("order can only be placed from review_order")

// recordCheckoutOutcome journals a terminal checkout transition. Best
// effort; the session itself is the source of truth.
func (s *Server) recordCheckoutOutcome(ctx context.Context, id string, m *checkout.Machine, step checkout.Step) {
	if s.journal == nil {
		return
	}
	entry := journal.Entry{
		Kind:    "checkout",
		ID:      id,
		Outcome: step.String(),
		At:      time.Now().UTC(),
	}
	if order, ok := m.CreatedOrder(); ok {
		entry.Detail = order.ID
	} else if err := m.Err(); err != nil {
		entry.Detail = err.Error()
	}
	if err := s.journal.Append(ctx, entry); err != nil {
		s.logger.Warn().Str("checkout_id", id).Err(err).Msg("journal append failed")
	}
}

func (s *Server) session(id string) (*checkout.Machine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	machine, ok := s.sessions[id]
	return machine, ok
}

type sessionView struct {
	CheckoutID      string             `json:"checkout_id"`
	Step            string             `json:"step"`
	Items           []checkout.Item    `json:"items"`
	Address         *checkout.Address  `json:"address,omitempty"`
	PaymentMethod   string             `json:"payment_method"`
	Discount        *checkout.Discount `json:"discount,omitempty"`
	Subtotal        float64            `json:"subtotal"`
	DiscountAmount  float64            `json:"discount_amount"`
	Total           float64            `json:"total"`
	Error           string             `json:"error,omitempty"`
	Order           *checkout.Order    `json:"order,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

func (s *Server) sessionView(id string, m *checkout.Machine) sessionView {
	view := sessionView{
		CheckoutID:     id,
		Step:           m.Step().String(),
		Items:          m.Items(),
		PaymentMethod:  m.PaymentMethod(),
		Subtotal:       m.Subtotal(),
		DiscountAmount: m.DiscountAmount(),
		Total:          m.Total(),
	}
	if addr, ok := m.SelectedAddress(); ok {
		view.Address = &addr
	}
	if d, ok := m.AppliedDiscount(); ok {
		view.Discount = &d
	}
	if err := m.Err(); err != nil {
		view.Error = err.Error()
	}
	if order, ok := m.CreatedOrder(); ok {
		view.Order = &order
	}
	if recs := m.Recommendations(); len(recs) > 0 {
		view.Recommendations = recs
	}
	return view
}

// writeDomainError maps domain errors to HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrAddressRequired),
		errors.Is(err, checkout.ErrPaymentMethodRequired),
		errors.Is(err, checkout.ErrInvalidCoupon),
		errors.Is(err, jobs.ErrDataDirRequired):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, checkout.ErrNoNextStep),
		errors.Is(err, checkout.ErrRetryNotAllowed),
		errors.Is(err, checkout.ErrOrderAlreadyPlaced),
		errors.Is(err, checkout.ErrCheckoutCancelled),
		errors.Is(err, errWrongStep),
		errors.Is(err, checkoutdb.ErrIdempotencyConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, checkout.ErrInsufficientFunds),
		errors.Is(err, checkout.ErrCardDeclined),
		errors.Is(err, checkout.ErrPaymentNetwork):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, checkout.ErrCircuitOpen):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
