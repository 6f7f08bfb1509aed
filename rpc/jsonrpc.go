package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"finerp/core"
	coreerrors "finerp/core/errors"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603

	codeServerError   = -32000
	codeUnauthorized  = -32001
	codeNotFound      = -32004
	codeRateLimited   = -32020
	codeAuthorization = -32030
	codeInvariant     = -32031
	codeTiming        = -32032
	codeStateMachine  = -32033
	codeValidation    = -32034
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

func invalidParams(message string, data interface{}) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: message, Data: data}
}

// errorKindData is attached to errors raised by contract execution.
type errorKindData struct {
	Kind string `json:"kind"`
}

// toRPCError maps an execution error onto a JSON-RPC error whose code is
// chosen by the error's kind.
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	switch {
	case errors.Is(err, core.ErrUnknownContract), errors.Is(err, core.ErrUnknownMethod):
		return &RPCError{Code: codeMethodNotFound, Message: err.Error()}
	case errors.Is(err, core.ErrBlockNotFound), errors.Is(err, core.ErrReceiptNotFound):
		return &RPCError{Code: codeNotFound, Message: err.Error()}
	}
	kind := coreerrors.KindOf(err)
	code := codeServerError
	switch kind {
	case coreerrors.KindAuthorization:
		code = codeAuthorization
	case coreerrors.KindInvariant:
		code = codeInvariant
	case coreerrors.KindTiming:
		code = codeTiming
	case coreerrors.KindStateMachine:
		code = codeStateMachine
	case coreerrors.KindValidation:
		code = codeValidation
	}
	return &RPCError{Code: code, Message: err.Error(), Data: errorKindData{Kind: kind.String()}}
}

func writeError(w http.ResponseWriter, status int, id json.RawMessage, rpcErr *RPCError) {
	if status <= 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr})
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}
