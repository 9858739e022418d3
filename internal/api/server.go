package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketbot/internal/config"
	"marketbot/internal/ledger"

	cache "marketbot/internal/cache/redis"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	cfg   config.ServerConfig
	log   *slog.Logger
	game  *ledger.Service
	board *cache.BoardCache
	mux   *chi.Mux
}

// New builds the HTTP surface over the game engine. board may be nil when no
// cache is configured; the board endpoint then reports unavailable.
func New(cfg config.ServerConfig, logger *slog.Logger, game *ledger.Service, board *cache.BoardCache) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:   cfg,
		log:   logger,
		game:  game,
		board: board,
		mux:   chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/accounts", s.handleCreateAccount)
		r.Get("/accounts/{uid}", s.handleGetAccount)
		r.Get("/accounts/{uid}/portfolio", s.handlePortfolio)
		r.Get("/accounts/{uid}/inventory", s.handleInventory)
		r.Get("/accounts/{uid}/transactions", s.handleTransactions)
		r.Get("/accounts/{uid}/networth", s.handleNetWorth)

		r.Get("/stocks", s.handleStocksList)
		r.Get("/stocks/{ticker}", s.handleStockDetail)
		r.Get("/stocks/{ticker}/history", s.handleStockHistory)
		r.Get("/stocks/{ticker}/shareholders", s.handleShareholders)

		r.Post("/orders/buy", s.handleBuy)
		r.Post("/orders/sell", s.handleSell)

		r.Post("/wires/preview", s.handleWirePreview)
		r.Post("/wires", s.handleWire)
		r.Get("/entities", s.handleEntities)

		r.Get("/bounties", s.handleBountyList)
		r.Get("/bounties/{level_id}", s.handleBountyDetail)
		r.Post("/bounties/{level_id}/contribute", s.handleBountyContribute)

		r.Post("/items/cash", s.handleCashItem)
		r.Post("/items/swap", s.handleSwapItem)

		r.Get("/market", s.handleMarketState)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/board", s.handleBoard)

		r.Group(func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Patch("/accounts/{uid}", s.handleUpdateAccount)
			r.Post("/accounts/{uid}/card", s.handleUpdateCard)
			r.Post("/bounties/{level_id}/accept", s.handleBountyAccept)
			r.Post("/admin/stocks", s.handleCreateStock)
			r.Post("/admin/interest", s.handleApplyInterest)
			r.Post("/admin/settle", s.handleSettle)
			r.Post("/admin/session", s.handleSetSession)
			r.Post("/admin/sync", s.handleSyncAll)
			r.Post("/admin/seed", s.handleSeed)
		})
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			writeError(w, http.StatusForbidden, "admin endpoints disabled")
			return
		}
		if bearerToken(r.Header.Get("Authorization")) != s.cfg.AdminToken {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UID string `json:"uid"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(in.UID) == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}
	account, err := s.game.CreateAccount(r.Context(), in.UID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.game.GetAccount(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var in ledger.AccountUpdate
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := s.game.UpdateAccount(r.Context(), chi.URLParam(r, "uid"), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	asOf := time.Now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "as_of must be RFC3339")
			return
		}
		asOf = t
	}
	p, err := s.game.GetPortfolioAsOf(r.Context(), uid, asOf)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"portfolio": p,
		"net_worth": p.NetWorth(),
	})
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	items, err := s.game.GetInventory(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txs, err := s.game.GetTransactions(r.Context(), chi.URLParam(r, "uid"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (s *Server) handleNetWorth(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	p, err := s.game.GetPortfolio(r.Context(), uid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	change, err := s.game.DayOverDayChange(r.Context(), uid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"net_worth":  p.NetWorth(),
		"day_change": change,
	})
}

func (s *Server) handleStocksList(w http.ResponseWriter, r *http.Request) {
	stocks, err := s.game.GetAllStocks(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stocks": stocks})
}

func (s *Server) handleStockDetail(w http.ResponseWriter, r *http.Request) {
	stock, err := s.game.GetStock(r.Context(), chi.URLParam(r, "ticker"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

func (s *Server) handleStockHistory(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	history, err := s.game.PriceHistory(r.Context(), chi.URLParam(r, "ticker"), days)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handleShareholders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	holders, err := s.game.TopShareholders(r.Context(), chi.URLParam(r, "ticker"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shareholders": holders})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UID         string `json:"uid"`
		Ticker      string `json:"ticker"`
		Quantity    int64  `json:"quantity"`
		AllowCredit bool   `json:"allow_credit"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	record, err := s.game.Buy(r.Context(), in.UID, in.Ticker, in.Quantity, in.AllowCredit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UID      string `json:"uid"`
		Ticker   string `json:"ticker"`
		Quantity int64  `json:"quantity"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	record, err := s.game.Sell(r.Context(), in.UID, in.Ticker, in.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// destinationFor maps a wire destination id onto the tagged variant: known
// entity identifiers dispatch to the entity, anything else is an account id.
func (s *Server) destinationFor(identifier string) ledger.Destination {
	if e, ok := s.game.Entity(identifier); ok {
		return ledger.EntityDestination(e)
	}
	return ledger.UserDestination(identifier)
}

func (s *Server) handleWirePreview(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UID         string `json:"uid"`
		Destination string `json:"destination"`
		Amount      int64  `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	preview, err := s.game.PreviewWire(r.Context(), s.destinationFor(in.Destination), in.UID, in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleWire(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UID         string `json:"uid"`
		Destination string `json:"destination"`
		Amount      int64  `json:"amount"`
		Memo        string `json:"memo"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	record, err := s.game.ExecuteWire(r.Context(), s.destinationFor(in.Destination), in.UID, in.Amount, in.Memo)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	type entityView struct {
		Name       string `json:"name"`
		Identifier string `json:"identifier"`
	}
	var out []entityView
	for _, e := range s.game.Entities() {
		out = append(out, entityView{Name: e.Name, Identifier: e.Identifier})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": out})
}

func (s *Server) handleBountyList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	bounties, err := s.game.TopBounties(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bounties": bounties})
}

func (s *Server) handleBountyDetail(w http.ResponseWriter, r *http.Request) {
	bounty, err := s.game.GetBounty(r.Context(), chi.URLParam(r, "level_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bounty)
}

func (s *Server) handleBountyContribute(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UID    string `json:"uid"`
		Amount int64  `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	record, err := s.game.ContributeToBounty(r.Context(), in.UID, chi.URLParam(r, "level_id"), in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleBountyAccept(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UID string `json:"uid"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	record, err := s.game.AcceptBounty(r.Context(), chi.URLParam(r, "level_id"), in.UID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleCashItem(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UID    string `json:"uid"`
		ItemID string `json:"item_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	record, err := s.game.CashInItem(r.Context(), in.UID, in.ItemID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleSwapItem(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UID        string `json:"uid"`
		FromItemID string `json:"from_item_id"`
		ToItemID   string `json:"to_item_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.game.SwapItem(r.Context(), in.UID, in.FromItemID, in.ToItemID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ItemID string `json:"item_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := s.game.UpdateCreditTier(r.Context(), chi.URLParam(r, "uid"), in.ItemID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleMarketState(w http.ResponseWriter, r *http.Request) {
	state, err := s.game.GetMarketState(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.game.Leaderboard(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	if s.board == nil {
		writeError(w, http.StatusServiceUnavailable, "board cache not configured")
		return
	}
	snap, err := s.board.Get(r.Context())
	if errors.Is(err, cache.ErrNoSnapshot) {
		writeError(w, http.StatusNotFound, "no board published yet")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCreateStock(w http.ResponseWriter, r *http.Request) {
	var in ledger.Stock
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(in.Ticker) == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}
	stock, err := s.game.CreateStock(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stock)
}

func (s *Server) handleApplyInterest(w http.ResponseWriter, r *http.Request) {
	charged, err := s.game.ApplyInterest(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"charged": charged})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var in struct {
		GrantWeekly bool `json:"grant_weekly"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := s.game.Settle(r.Context(), in.GrantWeekly)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSetSession(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Session ledger.Session `json:"session"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch in.Session {
	case ledger.SessionClosed, ledger.SessionPre, ledger.SessionOpen, ledger.SessionAfter:
	default:
		writeError(w, http.StatusBadRequest, "unknown session")
		return
	}
	state, err := s.game.SetSession(r.Context(), in.Session)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	if err := s.game.SynchronizeAll(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	if err := s.game.SeedDefaults(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var (
		accountNotFound *ledger.AccountNotFoundError
		stockNotFound   *ledger.StockNotFoundError
		itemNotFound    *ledger.ItemNotFoundError
		requestNotFound *ledger.RequestNotFoundError
		insufficientBal *ledger.InsufficientBalanceError
		insufficientQty *ledger.InsufficientQuantityError
		insufficientItm *ledger.InsufficientItemQuantityError
		invalidAmount   *ledger.InvalidAmountError
		marketClosed    *ledger.MarketClosedError
		wireRejected    *ledger.WireRejectionError
	)
	switch {
	case errors.As(err, &accountNotFound),
		errors.As(err, &stockNotFound),
		errors.As(err, &itemNotFound),
		errors.As(err, &requestNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &insufficientBal),
		errors.As(err, &insufficientQty),
		errors.As(err, &insufficientItm),
		errors.As(err, &invalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &marketClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &wireRejected):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
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
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}
