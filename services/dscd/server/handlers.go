package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"stablevault/services/dscd/middleware"
)

type collateralRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type debtRequest struct {
	Amount string `json:"amount"`
}

type combinedRequest struct {
	Token            string `json:"token"`
	CollateralAmount string `json:"collateralAmount"`
	DebtAmount       string `json:"debtAmount"`
}

type liquidateRequest struct {
	Token       string `json:"token"`
	User        string `json:"user"`
	DebtToCover string `json:"debtToCover"`
}

type approveRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type priceRequest struct {
	Token string `json:"token"`
	Price string `json:"price"`
}

var errNoPrincipal = errors.New("acting account unknown")

// caller returns the acting account: the bearer token subject, or the dev
// account header when authentication is disabled.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorJSON{Error: "unauthenticated", Message: errNoPrincipal.Error()})
		return common.Address{}, false
	}
	return p.Account, true
}

func (s *Server) respondAccount(w http.ResponseWriter, r *http.Request, user common.Address) {
	view, err := s.node.Account(user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderAccount(view))
}

func (s *Server) handleCollateral(w http.ResponseWriter, r *http.Request) {
	overview, err := s.node.Overview()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderOverview(overview))
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.node.Accounts()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]string, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Hex())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": out})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondAccount(w, r, user)
}

// handleEvents returns the most recent engine events. The optional limit
// query parameter keeps only the newest entries.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	list := s.node.Events()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest))
			return
		}
		if limit < len(list) {
			list = list[len(list)-limit:]
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": renderEvents(list)})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	user, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req collateralRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amt, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.DepositCollateral(user, req.Token, amt); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondAccount(w, r, user)
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	user, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req collateralRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amt, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.RedeemCollateral(user, req.Token, amt); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondAccount(w, r, user)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	user, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req debtRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amt, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.MintDebt(user, amt); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondAccount(w, r, user)
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	user, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req debtRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amt, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.BurnDebt(user, amt); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondAccount(w, r, user)
}

func parseCombined(r *http.Request) (combinedRequest, *uint256.Int, *uint256.Int, error) {
	var req combinedRequest
	if err := decodeJSON(r, &req); err != nil {
		return req, nil, nil, err
	}
	collateral, err := parseAmount("collateralAmount", req.CollateralAmount)
	if err != nil {
		return req, nil, nil, err
	}
	debt, err := parseAmount("debtAmount", req.DebtAmount)
	if err != nil {
		return req, nil, nil, err
	}
	return req, collateral, debt, nil
}

func (s *Server) handleDepositAndMint(w http.ResponseWriter, r *http.Request) {
	user, ok := s.caller(w, r)
	if !ok {
		return
	}
	req, collateral, debt, err := parseCombined(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.DepositAndMint(user, req.Token, collateral, debt); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondAccount(w, r, user)
}

func (s *Server) handleRedeemForDebt(w http.ResponseWriter, r *http.Request) {
	user, ok := s.caller(w, r)
	if !ok {
		return
	}
	req, collateral, debt, err := parseCombined(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.RedeemForDebt(user, req.Token, collateral, debt); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondAccount(w, r, user)
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	liquidator, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req liquidateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	debt, err := parseAmount("debtToCover", req.DebtToCover)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.node.Liquidate(liquidator, req.Token, user, debt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderLiquidation(result))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amt, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.Approve(owner, req.Token, amt); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	operator, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req priceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	round, err := s.node.SetPrice(req.Token, req.Price)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("operator price override", "account", operator.Hex(), "token", req.Token, "round", round.RoundID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":     req.Token,
		"roundId":   round.RoundID,
		"answer":    round.Answer.String(),
		"updatedAt": round.UpdatedAt.UTC().Format(time.RFC3339),
	})
}
