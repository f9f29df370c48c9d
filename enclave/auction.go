package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/cloudx-io/reserveauction/core"
	"github.com/cloudx-io/reserveauction/custody"
	"github.com/cloudx-io/reserveauction/enclaveapi"
	"github.com/cloudx-io/reserveauction/engine"
)

const codeBadRequest = "bad_request"

// RequestHandler runs decoded daemon requests against a node.
type RequestHandler struct {
	node     *Node
	attester func() (EnclaveAttester, error)
	clock    engine.Clock
}

func NewRequestHandler(node *Node, attester func() (EnclaveAttester, error), clock engine.Clock) *RequestHandler {
	if clock == nil {
		clock = engine.SystemClock
	}
	return &RequestHandler{node: node, attester: attester, clock: clock}
}

// Handle dispatches one JSON request on its "type" field.
func (h *RequestHandler) Handle(ctx context.Context, raw []byte) enclaveapi.Response {
	startTime := time.Now()

	var baseReq struct {
		Type string `json:"type"`
	}
	var response enclaveapi.Response
	if err := json.Unmarshal(raw, &baseReq); err != nil {
		log.Printf("ERROR: Failed to decode base request: %v", err)
		response = rejected("error", fmt.Errorf("failed to decode request: %w", err))
	} else if baseReq.Type == enclaveapi.TypeSigned {
		response = h.signed(ctx, raw)
	} else {
		log.Printf("INFO: Received request type: %s", baseReq.Type)
		response = h.dispatch(ctx, baseReq.Type, raw, common.Address{})
	}

	response.RequestID = uuid.NewString()
	response.ProcessingTime = time.Since(startTime).Milliseconds()
	return response
}

// signed authenticates a signed call and dispatches the request in its body
// with the signer as the acting identity.
func (h *RequestHandler) signed(ctx context.Context, raw []byte) enclaveapi.Response {
	req, err := decodeRequest[enclaveapi.SignedRequest](raw)
	if err != nil {
		return rejected("error", err)
	}
	signed, err := base64.StdEncoding.DecodeString(req.Call)
	if err != nil {
		return rejected("error", enclaveapi.Unauthenticated(fmt.Errorf("decode call: %w", err)))
	}
	call, signer, err := h.node.Tokens.Authenticate(signed)
	if err != nil {
		return rejected("error", enclaveapi.Unauthenticated(err))
	}

	var inner struct {
		Type    string `json:"type"`
		TokenID uint64 `json:"token_id"`
	}
	if err := json.Unmarshal(call.Body, &inner); err != nil {
		return rejected("error", fmt.Errorf("failed to decode signed request: %w", err))
	}
	if inner.Type != call.Action || inner.TokenID != call.TokenID {
		return rejected(inner.Type, enclaveapi.Unauthenticated(
			fmt.Errorf("call signed for %s on token %d", call.Action, call.TokenID)))
	}

	log.Printf("INFO: Received signed %s request from %s", inner.Type, signer.Hex())
	return h.dispatch(ctx, inner.Type, call.Body, signer)
}

// dispatch runs one request. signer is the authenticated account, or the null
// address for an unsigned request.
func (h *RequestHandler) dispatch(ctx context.Context, reqType string, raw []byte, signer common.Address) enclaveapi.Response {
	if enclaveapi.RequiresSignature(reqType) && signer == (common.Address{}) {
		return failed(reqType, fmt.Errorf("%s: %w", reqType, enclaveapi.ErrUnauthenticated))
	}

	switch reqType {
	case enclaveapi.TypePing:
		return enclaveapi.Response{Type: "pong", Success: true, Message: "TEE server is healthy"}
	case enclaveapi.TypeCreate:
		return h.create(ctx, raw, signer)
	case enclaveapi.TypeBid:
		return h.bid(ctx, raw, signer)
	case enclaveapi.TypeCancel:
		return h.cancel(ctx, raw, signer)
	case enclaveapi.TypeEnd:
		return h.end(ctx, raw)
	case enclaveapi.TypeSetReserve:
		return h.setReserve(ctx, raw, signer)
	case enclaveapi.TypeAuction:
		return h.auction(raw)
	case enclaveapi.TypeRecoverToken:
		return h.recoverToken(ctx, raw, signer)
	case enclaveapi.TypeRecoverValue:
		return h.recoverValue(ctx, raw, signer)
	case enclaveapi.TypeDisableRecovery:
		return h.disableRecovery(ctx, raw, signer)
	case enclaveapi.TypeUnwrap:
		return h.unwrap(raw, signer)
	default:
		return rejected("error", fmt.Errorf("unknown request type: %s", reqType))
	}
}

func responseType(reqType string) string {
	return reqType + "_response"
}

// failed reports an engine error.
func failed(reqType string, err error) enclaveapi.Response {
	log.Printf("INFO: %s request failed: %v", reqType, err)
	return enclaveapi.Response{
		Type:      responseType(reqType),
		Success:   false,
		Message:   err.Error(),
		ErrorCode: enclaveapi.ErrorCode(err),
	}
}

// rejected reports a malformed request. Categorical errors keep their code.
func rejected(reqType string, err error) enclaveapi.Response {
	resp := failed(reqType, err)
	if resp.ErrorCode == "internal" {
		resp.ErrorCode = codeBadRequest
	}
	return resp
}

func decodeRequest[T any](raw []byte) (T, error) {
	var req T
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("failed to decode request: %w", err)
	}
	return req, nil
}

func (h *RequestHandler) withAuction(resp enclaveapi.Response, tokenID core.TokenID) enclaveapi.Response {
	if a, ok := h.node.Engine.Auction(tokenID); ok {
		resp.Auction = enclaveapi.FromAuction(a)
	}
	return resp
}

func (h *RequestHandler) create(ctx context.Context, raw []byte, signer common.Address) enclaveapi.Response {
	req, err := decodeRequest[enclaveapi.CreateRequest](raw)
	if err != nil {
		return rejected("error", err)
	}
	terms, err := req.Terms.ToCore()
	if err != nil {
		return rejected(req.Type, err)
	}
	if signer != terms.Creator {
		return failed(req.Type, fmt.Errorf("signer %s for creator %s: %w", signer.Hex(), terms.Creator.Hex(), core.ErrNotCreator))
	}

	var opts []engine.CreateOption
	if req.Permit != "" {
		signed, err := base64.StdEncoding.DecodeString(req.Permit)
		if err != nil {
			return rejected(req.Type, fmt.Errorf("decode permit: %w", err))
		}
		opts = append(opts, engine.WithAuthorization(func(context.Context) error {
			if err := h.node.Tokens.ApplyPermit(signed); err != nil {
				return fmt.Errorf("%w: permit refused: %w", enclaveapi.ErrBadRequest, err)
			}
			return nil
		}))
	}

	tokenID := core.TokenID(req.TokenID)
	if err := h.node.Engine.Create(ctx, tokenID, terms, opts...); err != nil {
		return failed(req.Type, err)
	}
	return h.withAuction(enclaveapi.Response{
		Type:    responseType(req.Type),
		Success: true,
		Message: fmt.Sprintf("Auction created for token %d", req.TokenID),
	}, tokenID)
}

func (h *RequestHandler) bid(ctx context.Context, raw []byte, bidder common.Address) enclaveapi.Response {
	req, err := decodeRequest[enclaveapi.BidRequest](raw)
	if err != nil {
		return rejected("error", err)
	}
	amount, err := enclaveapi.ParseAmount(req.Amount)
	if err != nil {
		return rejected(req.Type, err)
	}
	value, err := enclaveapi.ParseAmount(req.Value)
	if err != nil {
		return rejected(req.Type, err)
	}

	tokenID := core.TokenID(req.TokenID)
	if err := h.node.Engine.Bid(ctx, tokenID, bidder, amount, value); err != nil {
		return failed(req.Type, err)
	}
	return h.withAuction(enclaveapi.Response{
		Type:    responseType(req.Type),
		Success: true,
		Message: fmt.Sprintf("Bid of %s accepted on token %d", req.Amount, req.TokenID),
	}, tokenID)
}

func (h *RequestHandler) cancel(ctx context.Context, raw []byte, caller common.Address) enclaveapi.Response {
	req, err := decodeRequest[enclaveapi.TokenRequest](raw)
	if err != nil {
		return rejected("error", err)
	}

	if err := h.node.Engine.Cancel(ctx, core.TokenID(req.TokenID), caller); err != nil {
		return failed(req.Type, err)
	}
	return enclaveapi.Response{
		Type:    responseType(req.Type),
		Success: true,
		Message: fmt.Sprintf("Auction for token %d canceled", req.TokenID),
	}
}

// end settles the auction and attests the settlement. The settlement stands
// even when attestation fails; the response then carries no attestation.
func (h *RequestHandler) end(ctx context.Context, raw []byte) enclaveapi.Response {
	req, err := decodeRequest[enclaveapi.TokenRequest](raw)
	if err != nil {
		return rejected("error", err)
	}

	settlement, err := h.node.Engine.End(ctx, core.TokenID(req.TokenID))
	if err != nil {
		return failed(req.Type, err)
	}

	resp := enclaveapi.Response{
		Type:       responseType(req.Type),
		Success:    true,
		Message:    fmt.Sprintf("Auction for token %d settled", req.TokenID),
		Settlement: enclaveapi.FromSettlement(settlement),
	}

	attester, err := h.attester()
	if err != nil {
		log.Printf("ERROR: Settlement for token %d not attested: %v", req.TokenID, err)
		resp.Message += fmt.Sprintf("; attestation unavailable: %v", err)
		return resp
	}
	attestation, err := AttestSettlement(attester, settlement, req.Nonce, h.clock.Now())
	if err != nil {
		resp.Message += fmt.Sprintf("; attestation failed: %v", err)
		return resp
	}
	resp.Attestation = attestation.EncodeBase64()
	return resp
}

func (h *RequestHandler) setReserve(ctx context.Context, raw []byte, caller common.Address) enclaveapi.Response {
	req, err := decodeRequest[enclaveapi.SetReserveRequest](raw)
	if err != nil {
		return rejected("error", err)
	}
	price, err := enclaveapi.ParseAmount(req.ReservePrice)
	if err != nil {
		return rejected(req.Type, err)
	}

	tokenID := core.TokenID(req.TokenID)
	if err := h.node.Engine.SetReservePrice(ctx, tokenID, caller, price); err != nil {
		return failed(req.Type, err)
	}
	return h.withAuction(enclaveapi.Response{
		Type:    responseType(req.Type),
		Success: true,
		Message: fmt.Sprintf("Reserve price for token %d set to %s", req.TokenID, req.ReservePrice),
	}, tokenID)
}

func (h *RequestHandler) auction(raw []byte) enclaveapi.Response {
	req, err := decodeRequest[enclaveapi.TokenRequest](raw)
	if err != nil {
		return rejected("error", err)
	}
	a, ok := h.node.Engine.Auction(core.TokenID(req.TokenID))
	if !ok {
		return failed(req.Type, fmt.Errorf("token %d: %w", req.TokenID, core.ErrNotFound))
	}
	return enclaveapi.Response{
		Type:    responseType(req.Type),
		Success: true,
		Auction: enclaveapi.FromAuction(a),
	}
}

func (h *RequestHandler) recoveryResponse(reqType, message string) enclaveapi.Response {
	enabled := h.node.Engine.RecoveryEnabled()
	return enclaveapi.Response{
		Type:            responseType(reqType),
		Success:         true,
		Message:         message,
		RecoveryEnabled: &enabled,
	}
}

func (h *RequestHandler) recoverToken(ctx context.Context, raw []byte, caller common.Address) enclaveapi.Response {
	req, err := decodeRequest[enclaveapi.TokenRequest](raw)
	if err != nil {
		return rejected("error", err)
	}

	if err := h.node.Engine.RecoverToken(ctx, caller, core.TokenID(req.TokenID)); err != nil {
		return failed(req.Type, err)
	}
	return h.recoveryResponse(req.Type, fmt.Sprintf("Token %d recovered", req.TokenID))
}

func (h *RequestHandler) recoverValue(ctx context.Context, raw []byte, caller common.Address) enclaveapi.Response {
	req, err := decodeRequest[enclaveapi.AmountRequest](raw)
	if err != nil {
		return rejected("error", err)
	}
	amount, err := enclaveapi.ParseAmount(req.Amount)
	if err != nil {
		return rejected(req.Type, err)
	}

	if err := h.node.Engine.RecoverValue(ctx, caller, amount); err != nil {
		return failed(req.Type, err)
	}
	return h.recoveryResponse(req.Type, fmt.Sprintf("Value %s recovered", req.Amount))
}

func (h *RequestHandler) disableRecovery(ctx context.Context, raw []byte, caller common.Address) enclaveapi.Response {
	req, err := decodeRequest[enclaveapi.AmountRequest](raw)
	if err != nil {
		return rejected("error", err)
	}

	if err := h.node.Engine.DisableRecovery(ctx, caller); err != nil {
		return failed(req.Type, err)
	}
	return h.recoveryResponse(req.Type, "Admin recovery disabled")
}

// unwrap converts the signer's wrapped balance, credited when a direct
// payment was refused, back to native value.
func (h *RequestHandler) unwrap(raw []byte, holder common.Address) enclaveapi.Response {
	req, err := decodeRequest[enclaveapi.AmountRequest](raw)
	if err != nil {
		return rejected("error", err)
	}
	amount, err := enclaveapi.ParseAmount(req.Amount)
	if err != nil {
		return rejected(req.Type, err)
	}

	if err := h.node.Wrapped.Unwrap(holder, amount); err != nil {
		if errors.Is(err, custody.ErrInsufficientFunds) {
			return rejected(req.Type, err)
		}
		return failed(req.Type, err)
	}
	return enclaveapi.Response{
		Type:           responseType(req.Type),
		Success:        true,
		Message:        fmt.Sprintf("Unwrapped %s for %s", req.Amount, holder.Hex()),
		WrappedBalance: h.node.Wrapped.BalanceOf(holder).String(),
	}
}
