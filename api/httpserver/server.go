// Package httpserver exposes the auction engine over HTTP with a websocket
// event feed. It is the host-side counterpart of the vsock daemon protocol
// and speaks the same enclaveapi shapes.
//
// Routes that act for an account take the account from a signed call in the
// Authorization header ("COSE <base64 COSE_Sign1>"), never from the body.
package httpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/reserveauction/core"
	"github.com/cloudx-io/reserveauction/custody"
	"github.com/cloudx-io/reserveauction/enclaveapi"
	"github.com/cloudx-io/reserveauction/engine"
	"github.com/cloudx-io/reserveauction/events"
)

const (
	maxBodyBytes = 1 << 20
	authScheme   = "COSE"
)

// Ledger authenticates signed calls and applies transfer permits.
type Ledger interface {
	Authenticate(signed []byte) (custody.Call, common.Address, error)
	ApplyPermit(signed []byte) error
}

// WrappedAsset holds balances credited through the fallback payment rail.
type WrappedAsset interface {
	Unwrap(holder common.Address, amount decimal.Decimal) error
	BalanceOf(holder common.Address) decimal.Decimal
}

// Deps are the server's collaborators. Without a Ledger every signed route
// answers 401; a nil Wrapped, Feed or History turns its routes off.
type Deps struct {
	Ledger  Ledger
	Wrapped WrappedAsset
	Feed    *events.Broadcaster
	History events.Store
}

type Server struct {
	engine   *engine.Engine
	ledger   Ledger
	wrapped  WrappedAsset
	feed     *events.Broadcaster
	history  events.Store
	upgrader websocket.Upgrader
}

func New(e *engine.Engine, deps Deps) *Server {
	return &Server{
		engine:  e,
		ledger:  deps.Ledger,
		wrapped: deps.Wrapped,
		feed:    deps.Feed,
		history: deps.History,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	s.RegisterRoutes(r)
	return r
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/auctions", s.listAuctions)
	r.Route("/auctions/{tokenID}", func(r chi.Router) {
		r.Get("/", s.getAuction)
		r.Post("/", s.createAuction)
		r.Post("/bids", s.placeBid)
		r.Post("/cancel", s.cancelAuction)
		r.Post("/end", s.endAuction)
		r.Put("/reserve", s.setReserve)
		r.Get("/events", s.auctionEvents)
	})

	r.Get("/recovery", s.recoveryStatus)
	r.Post("/recovery/token/{tokenID}", s.recoverToken)
	r.Post("/recovery/value", s.recoverValue)
	r.Post("/recovery/disable", s.disableRecovery)

	r.Get("/wrapped/{address}", s.wrappedBalance)
	r.Post("/wrapped/unwrap", s.unwrap)

	r.Get("/events", s.streamEvents)
}

// Request bodies. Identities are hex addresses, amounts base-unit integers.
type createBody struct {
	Terms  enclaveapi.Terms `json:"terms"`
	Permit string           `json:"permit,omitempty"`
}

type bidBody struct {
	Amount string `json:"amount"`
	Value  string `json:"value"`
}

type reserveBody struct {
	ReservePrice string `json:"reserve_price"`
}

type amountBody struct {
	Amount string `json:"amount"`
}

type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }
func (b badRequest) Unwrap() error { return b.err }

// StatusFor maps an engine error code to an HTTP status.
func StatusFor(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case "not_found":
		return http.StatusNotFound
	case "unauthenticated":
		return http.StatusUnauthorized
	case "not_creator", "not_admin":
		return http.StatusForbidden
	case "already_exists", "already_started", "not_started", "not_complete", "expired":
		return http.StatusConflict
	case "internal":
		return http.StatusInternalServerError
	case "bad_request":
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, status int, resp enclaveapi.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("ERROR: Failed to encode %s: %v", resp.Type, err)
	}
}

func writeError(w http.ResponseWriter, reqType string, err error) {
	code := enclaveapi.ErrorCode(err)
	var br badRequest
	if code == "internal" && errors.As(err, &br) {
		code = "bad_request"
	}
	writeJSON(w, StatusFor(code), enclaveapi.Response{
		Type:      reqType + "_response",
		Message:   err.Error(),
		ErrorCode: code,
	})
}

func decodeBody[T any](raw []byte) (T, error) {
	var body T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return body, badRequest{fmt.Errorf("failed to parse request: %w", err)}
	}
	return body, nil
}

// authenticate reads the body and verifies the signed call in the
// Authorization header against it. The call must name action and tokenID
// and carry the body byte for byte. It returns the body and the signer.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, action string, tokenID core.TokenID) ([]byte, common.Address, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, common.Address{}, badRequest{fmt.Errorf("failed to read request: %w", err)}
	}

	scheme, encoded, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || scheme != authScheme {
		return nil, common.Address{}, fmt.Errorf("%s authorization required: %w", authScheme, enclaveapi.ErrUnauthenticated)
	}
	if s.ledger == nil {
		return nil, common.Address{}, fmt.Errorf("no account keys: %w", enclaveapi.ErrUnauthenticated)
	}
	signed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, common.Address{}, enclaveapi.Unauthenticated(fmt.Errorf("decode call: %w", err))
	}
	call, signer, err := s.ledger.Authenticate(signed)
	if err != nil {
		return nil, common.Address{}, enclaveapi.Unauthenticated(err)
	}
	if call.Action != action || call.TokenID != uint64(tokenID) || !bytes.Equal(call.Body, body) {
		return nil, common.Address{}, enclaveapi.Unauthenticated(
			fmt.Errorf("call signed for %s on token %d does not match the request", call.Action, call.TokenID))
	}
	return body, signer, nil
}

func tokenParam(r *http.Request) (core.TokenID, error) {
	raw := chi.URLParam(r, "tokenID")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest{fmt.Errorf("invalid token id %q", raw)}
	}
	return core.TokenID(id), nil
}

func (s *Server) auctionResponse(w http.ResponseWriter, reqType string, status int, tokenID core.TokenID, message string) {
	resp := enclaveapi.Response{Type: reqType + "_response", Success: true, Message: message}
	if a, ok := s.engine.Auction(tokenID); ok {
		resp.Auction = enclaveapi.FromAuction(a)
	}
	writeJSON(w, status, resp)
}

func (s *Server) listAuctions(w http.ResponseWriter, r *http.Request) {
	all := s.engine.Auctions()
	out := make([]*enclaveapi.Auction, 0, len(all))
	for _, a := range all {
		out = append(out, enclaveapi.FromAuction(a))
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.Printf("ERROR: Failed to encode auctions: %v", err)
	}
}

func (s *Server) getAuction(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenParam(r)
	if err != nil {
		writeError(w, enclaveapi.TypeAuction, err)
		return
	}
	a, ok := s.engine.Auction(tokenID)
	if !ok {
		writeError(w, enclaveapi.TypeAuction, fmt.Errorf("token %d: %w", tokenID, core.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, enclaveapi.Response{
		Type:    enclaveapi.TypeAuction + "_response",
		Success: true,
		Auction: enclaveapi.FromAuction(a),
	})
}

func (s *Server) createAuction(w http.ResponseWriter, r *http.Request) {
	const reqType = enclaveapi.TypeCreate
	tokenID, err := tokenParam(r)
	if err != nil {
		writeError(w, reqType, err)
		return
	}
	raw, signer, err := s.authenticate(w, r, reqType, tokenID)
	if err != nil {
		writeError(w, reqType, err)
		return
	}
	body, err := decodeBody[createBody](raw)
	if err != nil {
		writeError(w, reqType, err)
		return
	}
	terms, err := body.Terms.ToCore()
	if err != nil {
		writeError(w, reqType, badRequest{err})
		return
	}
	if signer != terms.Creator {
		writeError(w, reqType, fmt.Errorf("signer %s for creator %s: %w", signer.Hex(), terms.Creator.Hex(), core.ErrNotCreator))
		return
	}

	var opts []engine.CreateOption
	if body.Permit != "" {
		signed, err := base64.StdEncoding.DecodeString(body.Permit)
		if err != nil {
			writeError(w, reqType, badRequest{fmt.Errorf("decode permit: %w", err)})
			return
		}
		opts = append(opts, engine.WithAuthorization(func(context.Context) error {
			if err := s.ledger.ApplyPermit(signed); err != nil {
				return fmt.Errorf("%w: permit refused: %w", enclaveapi.ErrBadRequest, err)
			}
			return nil
		}))
	}

	if err := s.engine.Create(r.Context(), tokenID, terms, opts...); err != nil {
		writeError(w, reqType, err)
		return
	}
	s.auctionResponse(w, reqType, http.StatusCreated, tokenID, fmt.Sprintf("Auction created for token %d", tokenID))
}

func (s *Server) placeBid(w http.ResponseWriter, r *http.Request) {
	const reqType = enclaveapi.TypeBid
	tokenID, err := tokenParam(r)
	if err != nil {
		writeError(w, reqType, err)
		return
	}
	raw, bidder, err := s.authenticate(w, r, reqType, tokenID)
	if err != nil {
		writeError(w, reqType, err)
		return
	}
	body, err := decodeBody[bidBody](raw)
	if err != nil {
		writeError(w, reqType, err)
		return
	}
	amount, err := enclaveapi.ParseAmount(body.Amount)
	if err != nil {
		writeError(w, reqType, err)
		return
	}
	value, err := enclaveapi.ParseAmount(body.Value)
	if err != nil {
		writeError(w, reqType, err)
		return
	}

	if err := s.engine.Bid(r.Context(), tokenID, bidder, amount, value); err != nil {
		writeError(w, reqType, err)
		return
	}
	s.auctionResponse(w, reqType, http.StatusOK, tokenID, fmt.Sprintf("Bid of %s accepted on token %d", body.Amount, tokenID))
}

func (s *Server) cancelAuction(w http.ResponseWriter, r *http.Request) {
	const reqType = enclaveapi.TypeCancel
	tokenID, err := tokenParam(r)
	if err != nil {
		writeError(w, reqType, err)
		return
	}
	_, caller, err := s.authenticate(w, r, reqType, tokenID)
	if err != nil {
		writeError(w, reqType, err)
		return
	}

	if err := s.engine.Cancel(r.Context(), tokenID, caller); err != nil {
		writeError(w, reqType, err)
		return
	}
	writeJSON(w, http.StatusOK, enclaveapi.Response{
		Type:    reqType + "_response",
		Success: true,
		Message: fmt.Sprintf("Auction for token %d canceled", tokenID),
	})
}

// endAuction settles without an attestation; attested settlements come from
// the enclave daemon. Anyone may end a finished auction, so it is unsigned.
func (s *Server) endAuction(w http.ResponseWriter, r *http.Request) {
	const reqType = enclaveapi.TypeEnd
	tokenID, err := tokenParam(r)
	if err != nil {
		writeError(w, reqType, err)
		return
	}

	settlement, err := s.engine.End(r.Context(), tokenID)
	if err != nil {
		writeError(w, reqType, err)
		return
	}
	writeJSON(w, http.StatusOK, enclaveapi.Response{
		Type:       reqType + "_response",
		Success:    true,
		Message:    fmt.Sprintf("Auction for token %d settled", tokenID),
		Settlement: enclaveapi.FromSettlement(settlement),
	})
}

func (s *Server) setReserve(w http.ResponseWriter, r *http.Request) {
	const reqType = enclaveapi.TypeSetReserve
	tokenID, err := tokenParam(r)
	if err != nil {
		writeError(w, reqType, err)
		return
	}
	raw, caller, err := s.authenticate(w, r, reqType, tokenID)
	if err != nil {
		writeError(w, reqType, err)
		return
	}
	body, err := decodeBody[reserveBody](raw)
	if err != nil {
		writeError(w, reqType, err)
		return
	}
	price, err := enclaveapi.ParseAmount(body.ReservePrice)
	if err != nil {
		writeError(w, reqType, err)
		return
	}

	if err := s.engine.SetReservePrice(r.Context(), tokenID, caller, price); err != nil {
		writeError(w, reqType, err)
		return
	}
	s.auctionResponse(w, reqType, http.StatusOK, tokenID, fmt.Sprintf("Reserve price for token %d set to %s", tokenID, body.ReservePrice))
}

func (s *Server) recoveryResponse(w http.ResponseWriter, reqType, message string) {
	enabled := s.engine.RecoveryEnabled()
	writeJSON(w, http.StatusOK, enclaveapi.Response{
		Type:            reqType + "_response",
		Success:         true,
		Message:         message,
		RecoveryEnabled: &enabled,
	})
}

func (s *Server) recoveryStatus(w http.ResponseWriter, r *http.Request) {
	s.recoveryResponse(w, "recovery", "")
}

func (s *Server) recoverToken(w http.ResponseWriter, r *http.Request) {
	const reqType = enclaveapi.TypeRecoverToken
	tokenID, err := tokenParam(r)
	if err != nil {
		writeError(w, reqType, err)
		return
	}
	_, caller, err := s.authenticate(w, r, reqType, tokenID)
	if err != nil {
		writeError(w, reqType, err)
		return
	}

	if err := s.engine.RecoverToken(r.Context(), caller, tokenID); err != nil {
		writeError(w, reqType, err)
		return
	}
	s.recoveryResponse(w, reqType, fmt.Sprintf("Token %d recovered", tokenID))
}

func (s *Server) recoverValue(w http.ResponseWriter, r *http.Request) {
	const reqType = enclaveapi.TypeRecoverValue
	raw, caller, err := s.authenticate(w, r, reqType, 0)
	if err != nil {
		writeError(w, reqType, err)
		return
	}
	body, err := decodeBody[amountBody](raw)
	if err != nil {
		writeError(w, reqType, err)
		return
	}
	amount, err := enclaveapi.ParseAmount(body.Amount)
	if err != nil {
		writeError(w, reqType, err)
		return
	}

	if err := s.engine.RecoverValue(r.Context(), caller, amount); err != nil {
		writeError(w, reqType, err)
		return
	}
	s.recoveryResponse(w, reqType, fmt.Sprintf("Value %s recovered", body.Amount))
}

func (s *Server) disableRecovery(w http.ResponseWriter, r *http.Request) {
	const reqType = enclaveapi.TypeDisableRecovery
	_, caller, err := s.authenticate(w, r, reqType, 0)
	if err != nil {
		writeError(w, reqType, err)
		return
	}

	if err := s.engine.DisableRecovery(r.Context(), caller); err != nil {
		writeError(w, reqType, err)
		return
	}
	s.recoveryResponse(w, reqType, "Admin recovery disabled")
}

func (s *Server) wrappedBalance(w http.ResponseWriter, r *http.Request) {
	const reqType = "wrapped"
	if s.wrapped == nil {
		http.Error(w, "wrapped asset disabled", http.StatusNotFound)
		return
	}
	holder, err := enclaveapi.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, reqType, badRequest{err})
		return
	}
	writeJSON(w, http.StatusOK, enclaveapi.Response{
		Type:           reqType + "_response",
		Success:        true,
		WrappedBalance: s.wrapped.BalanceOf(holder).String(),
	})
}

// unwrap converts the signer's wrapped balance back to native value.
func (s *Server) unwrap(w http.ResponseWriter, r *http.Request) {
	const reqType = enclaveapi.TypeUnwrap
	if s.wrapped == nil {
		http.Error(w, "wrapped asset disabled", http.StatusNotFound)
		return
	}
	raw, holder, err := s.authenticate(w, r, reqType, 0)
	if err != nil {
		writeError(w, reqType, err)
		return
	}
	body, err := decodeBody[amountBody](raw)
	if err != nil {
		writeError(w, reqType, err)
		return
	}
	amount, err := enclaveapi.ParseAmount(body.Amount)
	if err != nil {
		writeError(w, reqType, err)
		return
	}

	if err := s.wrapped.Unwrap(holder, amount); err != nil {
		if errors.Is(err, custody.ErrInsufficientFunds) {
			err = badRequest{err}
		}
		writeError(w, reqType, err)
		return
	}
	writeJSON(w, http.StatusOK, enclaveapi.Response{
		Type:           reqType + "_response",
		Success:        true,
		Message:        fmt.Sprintf("Unwrapped %s for %s", body.Amount, holder.Hex()),
		WrappedBalance: s.wrapped.BalanceOf(holder).String(),
	})
}
