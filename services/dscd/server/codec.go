package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablevault/core/events"
	"stablevault/native/dsc"
	"stablevault/services/dscd/node"
)

var errBadRequest = errors.New("invalid request")

func decodeJSON(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func parseAmount(field, raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: %s is required", errBadRequest, field)
	}
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return amount, nil
}

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %s is not an address", errBadRequest, field)
	}
	return common.HexToAddress(raw), nil
}

func amount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func optionalAmount(v *uint256.Int) *string {
	if v == nil {
		return nil
	}
	s := v.Dec()
	return &s
}

type positionJSON struct {
	Symbol    string `json:"symbol"`
	Token     string `json:"token"`
	Deposited string `json:"deposited"`
	Wallet    string `json:"wallet"`
	UsdValue  string `json:"usdValue"`
}

type accountJSON struct {
	Address       string         `json:"address"`
	Debt          string         `json:"debt"`
	DebtBalance   string         `json:"debtBalance"`
	CollateralUsd string         `json:"collateralUsd"`
	HealthFactor  string         `json:"healthFactor"`
	Liquidatable  bool           `json:"liquidatable"`
	Positions     []positionJSON `json:"positions"`
}

func renderAccount(v *node.AccountView) accountJSON {
	out := accountJSON{
		Address:       v.Address.Hex(),
		Debt:          amount(v.Debt),
		DebtBalance:   amount(v.DebtBalance),
		CollateralUsd: amount(v.CollateralUsd),
		HealthFactor:  amount(v.HealthFactor),
		Liquidatable:  v.HealthFactor != nil && v.HealthFactor.Lt(dsc.MinHealthFactor),
		Positions:     make([]positionJSON, 0, len(v.Positions)),
	}
	for _, p := range v.Positions {
		out.Positions = append(out.Positions, positionJSON{
			Symbol:    p.Symbol,
			Token:     p.Token.Hex(),
			Deposited: amount(p.Deposited),
			Wallet:    amount(p.Wallet),
			UsdValue:  amount(p.UsdValue),
		})
	}
	return out
}

type collateralJSON struct {
	Symbol       string  `json:"symbol"`
	Token        string  `json:"token"`
	Decimals     uint8   `json:"decimals"`
	Feed         string  `json:"feed"`
	FeedDecimals uint8   `json:"feedDecimals"`
	RoundID      uint64  `json:"roundId"`
	UpdatedAt    string  `json:"updatedAt,omitempty"`
	Price        *string `json:"price"`
	PriceError   string  `json:"priceError,omitempty"`
	Custody      string  `json:"custody"`
}

type paramsJSON struct {
	Precision               string `json:"precision"`
	MinHealthFactor         string `json:"minHealthFactor"`
	AdditionalFeedPrecision string `json:"additionalFeedPrecision"`
	LiquidationThreshold    uint64 `json:"liquidationThreshold"`
	LiquidationPrecision    uint64 `json:"liquidationPrecision"`
	LiquidationBonus        uint64 `json:"liquidationBonus"`
	OracleTimeoutSeconds    int64  `json:"oracleTimeoutSeconds"`
}

type overviewJSON struct {
	Engine             string           `json:"engine"`
	DebtSymbol         string           `json:"debtSymbol"`
	DebtToken          string           `json:"debtToken"`
	Params             paramsJSON       `json:"params"`
	Collateral         []collateralJSON `json:"collateral"`
	DebtSupply         string           `json:"debtSupply"`
	TotalDebt          string           `json:"totalDebt"`
	TotalCollateralUsd *string          `json:"totalCollateralUsd"`
}

func renderOverview(o *node.Overview) overviewJSON {
	out := overviewJSON{
		Engine:     o.Engine.Hex(),
		DebtSymbol: o.DebtSymbol,
		DebtToken:  o.DebtToken.Hex(),
		Params: paramsJSON{
			Precision:               amount(o.Params.Precision),
			MinHealthFactor:         amount(o.Params.MinHealthFactor),
			AdditionalFeedPrecision: amount(o.Params.AdditionalFeedPrecision),
			LiquidationThreshold:    o.Params.LiquidationThreshold,
			LiquidationPrecision:    o.Params.LiquidationPrecision,
			LiquidationBonus:        o.Params.LiquidationBonus,
			OracleTimeoutSeconds:    int64(o.OracleTimeout / time.Second),
		},
		Collateral:         make([]collateralJSON, 0, len(o.Collateral)),
		DebtSupply:         amount(o.DebtSupply),
		TotalDebt:          amount(o.TotalDebt),
		TotalCollateralUsd: optionalAmount(o.TotalCollateralUsd),
	}
	for _, c := range o.Collateral {
		entry := collateralJSON{
			Symbol:       c.Symbol,
			Token:        c.Token.Hex(),
			Decimals:     c.Decimals,
			Feed:         c.Feed.Hex(),
			FeedDecimals: c.FeedDecimals,
			RoundID:      c.RoundID,
			Price:        optionalAmount(c.Price),
			PriceError:   c.PriceError,
			Custody:      amount(c.Custody),
		}
		if !c.UpdatedAt.IsZero() {
			entry.UpdatedAt = c.UpdatedAt.UTC().Format(time.RFC3339)
		}
		out.Collateral = append(out.Collateral, entry)
	}
	return out
}

type liquidationJSON struct {
	DebtCovered      string `json:"debtCovered"`
	CollateralSeized string `json:"collateralSeized"`
	Bonus            string `json:"bonus"`
	StartFactor      string `json:"startHealthFactor"`
	EndFactor        string `json:"endHealthFactor"`
}

func renderLiquidation(r *dsc.LiquidationResult) liquidationJSON {
	return liquidationJSON{
		DebtCovered:      amount(r.DebtCovered),
		CollateralSeized: amount(r.CollateralSeized),
		Bonus:            amount(r.Bonus),
		StartFactor:      amount(r.StartFactor),
		EndFactor:        amount(r.EndFactor),
	}
}

func renderEvents(list []events.Event) []interface{} {
	out := make([]interface{}, 0, len(list))
	for _, evt := range list {
		if payload := events.Payload(evt); payload != nil {
			out = append(out, payload)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorJSON struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	HealthFactor string `json:"healthFactor,omitempty"`
}

// statusFor maps engine and node failures onto HTTP statuses and stable
// error codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, node.ErrUnknownToken):
		return http.StatusNotFound, "unknown_token"
	case errors.Is(err, node.ErrInvalidPrice):
		return http.StatusBadRequest, "invalid_price"
	}
	code := dsc.Outcome(err)
	switch code {
	case "zero_amount", "unsupported_collateral", "overflow":
		return http.StatusBadRequest, code
	case "health_factor_broken", "health_factor_ok", "health_factor_not_improved", "underflow", "transfer_failed":
		return http.StatusUnprocessableEntity, code
	case "stale_price", "invalid_price":
		return http.StatusServiceUnavailable, code
	case "reentrant_call":
		return http.StatusConflict, code
	default:
		return http.StatusInternalServerError, code
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	body := errorJSON{Error: code, Message: err.Error()}
	var broken *dsc.HealthFactorBrokenError
	var ok *dsc.HealthFactorOkError
	switch {
	case errors.As(err, &broken):
		body.HealthFactor = amount(broken.Factor)
	case errors.As(err, &ok):
		body.HealthFactor = amount(ok.Factor)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "route", r.URL.Path, "error", err.Error())
		if status == http.StatusInternalServerError {
			body.Message = "internal error"
		}
	}
	writeJSON(w, status, body)
}
