package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"token-ledger/internal/auth"
	"token-ledger/internal/domain"
	"token-ledger/internal/token"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// CodeBadRequest reports a malformed request envelope.
const CodeBadRequest = "bad_request"

type valueResponse struct {
	Value interface{} `json:"value"`
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error,omitempty"`
}

// envelope is the body of every mutating request. Signers sign
// auth.Payload(op, nonce, expiration_ledger, args).
type envelope struct {
	Args       json.RawMessage   `json:"args"`
	Nonce      uint64            `json:"nonce"`
	Expiration uint32            `json:"expiration_ledger"`
	Signatures map[string]string `json:"signatures"`
}

type transferArgs struct {
	From   domain.Address `json:"from"`
	To     domain.Address `json:"to"`
	Amount domain.Amount  `json:"amount"`
}

type transferFromArgs struct {
	Spender domain.Address `json:"spender"`
	From    domain.Address `json:"from"`
	To      domain.Address `json:"to"`
	Amount  domain.Amount  `json:"amount"`
}

type approveArgs struct {
	From             domain.Address `json:"from"`
	Spender          domain.Address `json:"spender"`
	Amount           domain.Amount  `json:"amount"`
	ExpirationLedger uint32         `json:"expiration_ledger"`
}

type mintArgs struct {
	To     domain.Address `json:"to"`
	Amount domain.Amount  `json:"amount"`
}

type burnArgs struct {
	From   domain.Address `json:"from"`
	Amount domain.Amount  `json:"amount"`
}

type burnFromArgs struct {
	Spender domain.Address `json:"spender"`
	From    domain.Address `json:"from"`
	Amount  domain.Amount  `json:"amount"`
}

type callerArgs struct {
	Caller domain.Address `json:"caller"`
}

type newOwnerArgs struct {
	NewOwner domain.Address `json:"new_owner"`
}

// addressed is implemented by argument types to expose required addresses.
type addressed interface {
	addresses() []domain.Address
}

func (a transferArgs) addresses() []domain.Address     { return []domain.Address{a.From, a.To} }
func (a transferFromArgs) addresses() []domain.Address { return []domain.Address{a.Spender, a.From, a.To} }
func (a approveArgs) addresses() []domain.Address      { return []domain.Address{a.From, a.Spender} }
func (a mintArgs) addresses() []domain.Address         { return []domain.Address{a.To} }
func (a burnArgs) addresses() []domain.Address         { return []domain.Address{a.From} }
func (a burnFromArgs) addresses() []domain.Address     { return []domain.Address{a.Spender, a.From} }
func (a callerArgs) addresses() []domain.Address       { return []domain.Address{a.Caller} }
func (a newOwnerArgs) addresses() []domain.Address     { return []domain.Address{a.NewOwner} }

func (s *Server) handleName(w http.ResponseWriter, r *http.Request) {
	v, err := s.token.Name(r.Context())
	s.respond(w, v, err)
}

func (s *Server) handleSymbol(w http.ResponseWriter, r *http.Request) {
	v, err := s.token.Symbol(r.Context())
	s.respond(w, v, err)
}

func (s *Server) handleDecimals(w http.ResponseWriter, r *http.Request) {
	v, err := s.token.Decimals(r.Context())
	s.respond(w, v, err)
}

func (s *Server) handleTotalSupply(w http.ResponseWriter, r *http.Request) {
	v, err := s.token.TotalSupply(r.Context())
	s.respond(w, v, err)
}

func (s *Server) handlePaused(w http.ResponseWriter, r *http.Request) {
	v, err := s.token.Paused(r.Context())
	s.respond(w, v, err)
}

func (s *Server) handleOwner(w http.ResponseWriter, r *http.Request) {
	v, err := s.token.GetOwner(r.Context())
	s.respond(w, v, err)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	holder, err := domain.ParseAddress(r.PathValue("holder"))
	if err != nil {
		s.fail(w, err)
		return
	}
	v, err := s.token.BalanceOf(r.Context(), holder)
	s.respond(w, v, err)
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	owner, err := domain.ParseAddress(r.PathValue("owner"))
	if err != nil {
		s.fail(w, err)
		return
	}
	spender, err := domain.ParseAddress(r.PathValue("spender"))
	if err != nil {
		s.fail(w, err)
		return
	}
	v, err := s.token.Allowance(r.Context(), owner, spender)
	s.respond(w, v, err)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var a transferArgs
	ctx, ok := s.decode(w, r, "transfer", &a)
	if !ok {
		return
	}
	s.result(w, s.token.Transfer(ctx, a.From, a.To, a.Amount))
}

func (s *Server) handleTransferFrom(w http.ResponseWriter, r *http.Request) {
	var a transferFromArgs
	ctx, ok := s.decode(w, r, "transfer_from", &a)
	if !ok {
		return
	}
	s.result(w, s.token.TransferFrom(ctx, a.Spender, a.From, a.To, a.Amount))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var a approveArgs
	ctx, ok := s.decode(w, r, "approve", &a)
	if !ok {
		return
	}
	s.result(w, s.token.Approve(ctx, a.From, a.Spender, a.Amount, a.ExpirationLedger))
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var a mintArgs
	ctx, ok := s.decode(w, r, "mint", &a)
	if !ok {
		return
	}
	s.result(w, s.token.Mint(ctx, a.To, a.Amount))
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var a burnArgs
	ctx, ok := s.decode(w, r, "burn", &a)
	if !ok {
		return
	}
	s.result(w, s.token.Burn(ctx, a.From, a.Amount))
}

func (s *Server) handleBurnFrom(w http.ResponseWriter, r *http.Request) {
	var a burnFromArgs
	ctx, ok := s.decode(w, r, "burn_from", &a)
	if !ok {
		return
	}
	s.result(w, s.token.BurnFrom(ctx, a.Spender, a.From, a.Amount))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var a callerArgs
	ctx, ok := s.decode(w, r, "pause", &a)
	if !ok {
		return
	}
	s.result(w, s.token.Pause(ctx, a.Caller))
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	var a callerArgs
	ctx, ok := s.decode(w, r, "unpause", &a)
	if !ok {
		return
	}
	s.result(w, s.token.Unpause(ctx, a.Caller))
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var a newOwnerArgs
	ctx, ok := s.decode(w, r, "transfer_ownership", &a)
	if !ok {
		return
	}
	s.result(w, s.token.TransferOwnership(ctx, a.NewOwner))
}

func (s *Server) handleRenounceOwnership(w http.ResponseWriter, r *http.Request) {
	ctx, ok := s.decode(w, r, "renounce_ownership", nil)
	if !ok {
		return
	}
	s.result(w, s.token.RenounceOwnership(ctx))
}

// decode reads the request envelope into args and returns a context carrying
// the invocation proofs. On failure it has already written the response.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, op string, args interface{}) (context.Context, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: CodeBadRequest, Error: err.Error()})
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: CodeBadRequest, Error: err.Error()})
		return nil, false
	}

	if args != nil {
		if len(env.Args) == 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Code: CodeBadRequest, Error: "missing args"})
			return nil, false
		}
		dec := json.NewDecoder(bytes.NewReader(env.Args))
		dec.DisallowUnknownFields()
		if err := dec.Decode(args); err != nil {
			s.fail(w, argError(err))
			return nil, false
		}
		if ad, ok := args.(addressed); ok {
			for _, a := range ad.addresses() {
				if a.IsZero() {
					s.fail(w, fmt.Errorf("%w: missing or zero address", domain.ErrInvalidAddress))
					return nil, false
				}
			}
		}
	}

	proofs := auth.Proofs{
		Op:         op,
		Args:       env.Args,
		Nonce:      env.Nonce,
		Expiration: env.Expiration,
		Signatures: make(map[domain.Address][]byte, len(env.Signatures)),
	}
	for addrText, sigText := range env.Signatures {
		addr, err := domain.ParseAddress(addrText)
		if err != nil {
			s.fail(w, err)
			return nil, false
		}
		sig, err := base64.StdEncoding.DecodeString(sigText)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Code: CodeBadRequest, Error: fmt.Sprintf("signature for %s: %v", addrText, err)})
			return nil, false
		}
		proofs.Signatures[addr] = sig
	}

	return auth.WithProofs(r.Context(), proofs), true
}

// argError surfaces domain errors hidden inside JSON decoding errors.
func argError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidAddress):
		return err
	default:
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
}

var errMalformed = errors.New("malformed arguments")

func (s *Server) respond(w http.ResponseWriter, v interface{}, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valueResponse{Value: v})
}

func (s *Server) result(w http.ResponseWriter, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, errorResponse{Code: token.CodeSuccess})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, errMalformed) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: CodeBadRequest, Error: err.Error()})
		return
	}

	code := token.ErrorCode(err)
	status := StatusFor(code)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Code: code, Error: err.Error()})
}

// StatusFor maps an error code to an HTTP status.
func StatusFor(code string) int {
	switch code {
	case token.CodeSuccess:
		return http.StatusOK
	case token.CodeUnauthorized:
		return http.StatusUnauthorized
	case token.CodeContractPaused, token.CodeAlreadyDeployed:
		return http.StatusConflict
	case token.CodeInsufficientBalance, token.CodeInsufficientAllowance,
		token.CodeInvalidAmount, token.CodeInvalidExpiration, token.CodeOverflow:
		return http.StatusUnprocessableEntity
	case token.CodeNotDeployed:
		return http.StatusNotFound
	case token.CodeInvalidAddress:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
