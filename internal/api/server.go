package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"agrivest/internal/config"
	"agrivest/internal/ledger"
	"agrivest/internal/metrics"
)

type Server struct {
	cfg     config.Config
	log     *slog.Logger
	ledger  *ledger.Service
	metrics *metrics.Metrics
	limiter *RateLimiter
	mux     *chi.Mux
}

// New wires the router. m may be nil, in which case /metrics is not served.
func New(cfg config.Config, logger *slog.Logger, svc *ledger.Service, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		log:     logger,
		ledger:  svc,
		metrics: m,
		limiter: NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger),
		mux:     chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Limiter() *RateLimiter {
	return s.limiter
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if s.metrics != nil {
		r.Use(s.metrics.InstrumentHandler)
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limiter.Handler)

		r.Post("/accounts", s.handleRegister)
		r.Get("/accounts/{id}", s.handleAccount)
		r.Post("/accounts/{id}/investments", s.handleOpenInvestment)
		r.Get("/accounts/{id}/investments", s.handleListInvestments)
		r.Get("/accounts/{id}/transactions", s.handleListTransactions)
		r.Post("/accounts/{id}/withdrawals", s.handleRequestWithdrawal)
		r.Get("/accounts/{id}/withdrawals", s.handleAccountWithdrawals)
		r.Get("/accounts/{id}/referrals/stats", s.handleReferralStats)
		r.Get("/accounts/{id}/referrals/commissions", s.handleCommissions)
		r.Get("/investments/{id}", s.handleInvestment)
		r.Get("/packages", s.handlePackages)
		r.Get("/referrals/leaderboard", s.handleLeaderboard)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Post("/accounts/{id}/topups", s.handleTopUp)
			r.Get("/withdrawals", s.handleListWithdrawals)
			r.Post("/withdrawals/{id}/approve", s.handleApproveWithdrawal)
			r.Post("/withdrawals/{id}/reject", s.handleRejectWithdrawal)
			r.Post("/accrual/run", s.handleRunAccrual)
			r.Post("/cascade/sweep", s.handleCascadeSweep)
		})
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name         string `json:"name"`
		ReferralCode string `json:"referral_code"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := s.ledger.RegisterAccount(r.Context(), ledger.RegisterInput{
		Name:         in.Name,
		ReferralCode: in.ReferralCode,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.ledger.Account(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleOpenInvestment(w http.ResponseWriter, r *http.Request) {
	var in struct {
		PackageID string      `json:"package_id"`
		Sector    string      `json:"sector"`
		Amount    rupeeAmount `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	inv, err := s.ledger.OpenInvestmentByPackage(r.Context(), chi.URLParam(r, "id"), in.PackageID, in.Sector, int64(in.Amount))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (s *Server) handleListInvestments(w http.ResponseWriter, r *http.Request) {
	out, err := s.ledger.ListInvestments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"investments": out})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.ledger.ListTransactions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (s *Server) handleRequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Amount rupeeAmount `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	wd, err := s.ledger.RequestWithdrawal(r.Context(), chi.URLParam(r, "id"), int64(in.Amount))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wd)
}

func (s *Server) handleReferralStats(w http.ResponseWriter, r *http.Request) {
	out, err := s.ledger.ReferralStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCommissions(w http.ResponseWriter, r *http.Request) {
	out, err := s.ledger.ListCommissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commissions": out})
}

func (s *Server) handleInvestment(w http.ResponseWriter, r *http.Request) {
	inv, err := s.ledger.Investment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handlePackages(w http.ResponseWriter, r *http.Request) {
	out, err := s.ledger.ListPackages(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": out})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.ledger.Leaderboard(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": out})
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Amount    rupeeAmount `json:"amount"`
		Reference string      `json:"reference"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	line, err := s.ledger.TopUp(r.Context(), chi.URLParam(r, "id"), int64(in.Amount), in.Reference)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

func (s *Server) handleListWithdrawals(w http.ResponseWriter, r *http.Request) {
	out, err := s.ledger.ListWithdrawals(r.Context(), statusParam(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": out})
}

func (s *Server) handleAccountWithdrawals(w http.ResponseWriter, r *http.Request) {
	out, err := s.ledger.ListAccountWithdrawals(r.Context(), chi.URLParam(r, "id"), statusParam(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": out})
}

func statusParam(r *http.Request) ledger.WithdrawalStatus {
	return ledger.WithdrawalStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
}

func (s *Server) handleApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	wd, err := s.ledger.ApproveWithdrawal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

func (s *Server) handleRejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	wd, err := s.ledger.RejectWithdrawal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

func (s *Server) handleRunAccrual(w http.ResponseWriter, r *http.Request) {
	var in struct {
		AsOf string `json:"as_of"`
	}
	if err := decodeOptionalJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var asOf time.Time
	if v := strings.TrimSpace(in.AsOf); v != "" {
		parsed, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "as_of must be YYYY-MM-DD")
			return
		}
		asOf = parsed
	}
	summary, err := s.ledger.RunDailyAccrual(r.Context(), asOf)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCascadeSweep(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Limit int `json:"limit"`
	}
	if err := decodeOptionalJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := s.ledger.SweepCascadeTasks(r.Context(), in.Limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrNegativeBalance),
		errors.Is(err, ledger.ErrBelowMinimum), errors.Is(err, ledger.ErrBelowWithdrawalMinimum),
		errors.Is(err, ledger.ErrPackageInactive), errors.Is(err, ledger.ErrInvalidSector),
		errors.Is(err, ledger.ErrUnknownReferralCode):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrAlreadyTerminal), errors.Is(err, ledger.ErrWithdrawalProcessed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrConcurrentUpdate):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// rupeeAmount accepts a JSON number or string in rupees and holds paise.
type rupeeAmount int64

func (a *rupeeAmount) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if raw == "" || raw == "null" {
		*a = 0
		return nil
	}
	paise, err := ledger.ParseRupees(raw)
	if err != nil {
		return err
	}
	*a = rupeeAmount(paise)
	return nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

// decodeOptionalJSON treats an empty body as an empty object.
func decodeOptionalJSON(r *http.Request, out any) error {
	if err := decodeJSON(r, out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
