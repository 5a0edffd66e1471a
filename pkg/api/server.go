// Package api exposes the venue over REST. Transport concerns end here:
// handlers decode requests, call into the venue packages and map the
// error taxonomy to HTTP statuses.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/avralex/bourse/pkg/venue"
	"github.com/avralex/bourse/pkg/venue/book"
	"github.com/avralex/bourse/pkg/venue/engine"
	"github.com/avralex/bourse/pkg/venue/identity"
	"github.com/avralex/bourse/pkg/venue/instrument"
	"github.com/avralex/bourse/pkg/venue/ledger"
	"github.com/avralex/bourse/pkg/venue/orderstore"
	"github.com/avralex/bourse/pkg/venue/tradelog"
)

type Config struct {
	CORSOrigins  []string
	HistoryLimit int
}

type Server struct {
	cfg         Config
	router      *mux.Router
	engine      *engine.Engine
	orders      *orderstore.Store
	trades      *tradelog.Log
	ledger      *ledger.Ledger
	book        *book.View
	instruments *instrument.Registry
	identity    *identity.Service
	log         *zap.SugaredLogger
}

func NewServer(cfg Config, eng *engine.Engine, orders *orderstore.Store, trades *tradelog.Log, bal *ledger.Ledger, bookView *book.View, instruments *instrument.Registry, ident *identity.Service, log *zap.SugaredLogger) *Server {
	s := &Server{
		cfg:         cfg,
		router:      mux.NewRouter(),
		engine:      eng,
		orders:      orders,
		trades:      trades,
		ledger:      bal,
		book:        bookView,
		instruments: instruments,
		identity:    ident,
		log:         log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Order endpoints
	api.HandleFunc("/order", s.withAuth(s.handleSubmitOrder)).Methods("POST")
	api.HandleFunc("/order", s.withAuth(s.handleListOrders)).Methods("GET")
	api.HandleFunc("/order/{id}", s.withAuth(s.handleGetOrder)).Methods("GET")
	api.HandleFunc("/order/{id}", s.withAuth(s.handleCancelOrder)).Methods("DELETE")

	// Public market data
	api.HandleFunc("/public/orderbook/{ticker}", s.handleOrderBook).Methods("GET")
	api.HandleFunc("/public/transactions/{ticker}", s.handleTransactions).Methods("GET")
	api.HandleFunc("/public/instrument", s.handleListInstruments).Methods("GET")
	api.HandleFunc("/public/register", s.handleRegister).Methods("POST")

	// Balance endpoints
	api.HandleFunc("/balance", s.withAuth(s.handleBalances)).Methods("GET")
	api.HandleFunc("/admin/balance/deposit", s.withAdmin(s.handleDeposit)).Methods("POST")
	api.HandleFunc("/admin/balance/withdraw", s.withAdmin(s.handleWithdraw)).Methods("POST")

	// Admin instrument CRUD
	api.HandleFunc("/admin/instrument", s.withAdmin(s.handleCreateInstrument)).Methods("POST")
	api.HandleFunc("/admin/instrument/{ticker}", s.withAdmin(s.handleDeleteInstrument)).Methods("DELETE")

	// Admin user management
	api.HandleFunc("/admin/user/{id}", s.withAdmin(s.handleDeleteUser)).Methods("DELETE")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the routed handler wrapped with CORS, for tests and
// embedding.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

func (s *Server) Start(addr string) error {
	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ==============================
// Order handlers
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var body OrderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req := engine.SubmitRequest{
		UserID: currentUser(r).ID,
		Ticker: body.Ticker,
		Side:   body.Direction,
		Qty:    body.Qty,
	}
	if body.Price != nil {
		if *body.Price <= 0 {
			s.writeError(w, http.StatusBadRequest, "price must be positive")
			return
		}
		req.Price = *body.Price
	}

	res, err := s.engine.Submit(req)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, CreateOrderResponse{
		Success:   true,
		OrderID:   res.OrderID,
		FilledQty: res.Filled,
		Status:    res.Status,
	})
}

// handleListOrders returns every order on the venue, not just the
// caller's; the listing is venue-wide by contract.
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orders.List("")
	if err != nil {
		s.writeErr(w, err)
		return
	}
	out := make([]OrderSnapshot, 0, len(orders))
	for _, o := range orders {
		out = append(out, snapshotOf(o))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.orders.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshotOf(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.orders.Cancel(mux.Vars(r)["id"], currentUser(r).ID); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, OkResponse{Success: true})
}

// ==============================
// Public market data handlers
// ==============================

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	bids, asks, err := s.book.Levels(mux.Vars(r)["ticker"])
	if err != nil {
		s.writeErr(w, err)
		return
	}
	resp := OrderBookResponse{
		BidLevels: make([]LevelInfo, 0, len(bids)),
		AskLevels: make([]LevelInfo, 0, len(asks)),
	}
	for _, l := range bids {
		resp.BidLevels = append(resp.BidLevels, LevelInfo{Price: l.Price, Qty: l.Qty})
	}
	for _, l := range asks {
		resp.AskLevels = append(resp.AskLevels, LevelInfo{Price: l.Price, Qty: l.Qty})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	if _, err := s.instruments.Lookup(ticker); err != nil {
		s.writeErr(w, err)
		return
	}
	trades, err := s.trades.Recent(ticker, historyLimit(r.URL.Query().Get("limit"), s.cfg.HistoryLimit))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	out := make([]TransactionInfo, 0, len(trades))
	for _, t := range trades {
		out = append(out, TransactionInfo{
			Ticker:    t.Ticker,
			Amount:    t.Qty,
			Price:     t.Price,
			Timestamp: t.Timestamp,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// maxHistoryLimit caps client-supplied history limits so one request
// cannot pull the whole trade log into memory.
const maxHistoryLimit = 100

// historyLimit resolves the limit query parameter against the configured
// default, ignoring malformed or non-positive values and clamping the
// rest.
func historyLimit(q string, def int) int {
	limit := def
	if q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit
}

func (s *Server) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	instruments, err := s.instruments.List()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	out := make([]InstrumentBody, 0, len(instruments))
	for _, inst := range instruments {
		out = append(out, InstrumentBody{Name: inst.Name, Ticker: inst.Ticker})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body RegisterBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := s.identity.Register(body.Name)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, UserInfo{
		ID:     user.ID,
		Name:   user.Name,
		Role:   user.Role,
		APIKey: user.APIKey,
	})
}

// ==============================
// Balance handlers
// ==============================

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := s.ledger.Balances(currentUser(r).ID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balances)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleBalanceChange(w, r, s.ledger.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleBalanceChange(w, r, s.ledger.Withdraw)
}

func (s *Server) handleBalanceChange(w http.ResponseWriter, r *http.Request, apply func(userID, asset string, amount int64) error) {
	var body BalanceChangeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := s.identity.Get(body.UserID); err != nil {
		s.writeErr(w, err)
		return
	}
	if err := apply(body.UserID, body.Ticker, body.Amount); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, OkResponse{Success: true})
}

// ==============================
// Admin instrument handlers
// ==============================

func (s *Server) handleCreateInstrument(w http.ResponseWriter, r *http.Request) {
	var body InstrumentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.instruments.Create(&venue.Instrument{Name: body.Name, Ticker: body.Ticker}); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, OkResponse{Success: true})
}

func (s *Server) handleDeleteInstrument(w http.ResponseWriter, r *http.Request) {
	if err := s.instruments.Delete(mux.Vars(r)["ticker"]); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, OkResponse{Success: true})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.identity.Delete(mux.Vars(r)["id"])
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, UserInfo{
		ID:     user.ID,
		Name:   user.Name,
		Role:   user.Role,
		APIKey: user.APIKey,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Response helpers
// ==============================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorw("write_response_failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, ErrorResponse{Detail: detail})
}

// writeErr maps the venue error taxonomy to HTTP statuses.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, venue.ErrInvalidOrder),
		errors.Is(err, venue.ErrInsufficientFunds),
		errors.Is(err, venue.ErrInsufficientLiquidity),
		errors.Is(err, venue.ErrClosedOrder),
		errors.Is(err, venue.ErrInstrumentExists):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, venue.ErrUnauthorized):
		s.writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, venue.ErrForbidden):
		s.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, venue.ErrOrderNotFound),
		errors.Is(err, venue.ErrInstrumentNotFound),
		errors.Is(err, venue.ErrUserNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Errorw("internal_error", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
