package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// JSON-RPC error codes providers use for throttling and transient overload
var retryableRPCCodes = map[int]bool{
	-32005: true, // limit exceeded (EIP-1474)
	-32016: true, // rate limited (some providers)
	-32029: true, // too many requests
	-32090: true, // rate limited (Alchemy-style)
	429:    true,
}

// Codes that describe the request itself; retrying cannot help
var permanentRPCCodes = map[int]bool{
	3:      true, // execution reverted
	-32600: true, // invalid request
	-32601: true, // method not found
	-32602: true, // invalid params
}

var retryableMessages = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"broken pipe",
	"rate limit",
	"too many requests",
	"header not found",
	"temporarily unavailable",
	"service unavailable",
	"bad gateway",
	"no such host",
	"eof",
}

var permanentMessages = []string{
	"execution reverted",
	"revert",
	"invalid argument",
	"invalid params",
	"insufficient funds",
	"nonce too low",
}

// IsRetryable classifies a chain error as transient (network, timeout, throttling)
// or permanent (revert, invalid input). Unknown errors are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case 429, 502, 503, 504:
			return true
		}
		return false
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		code := rpcErr.ErrorCode()
		if retryableRPCCodes[code] {
			return true
		}
		if permanentRPCCodes[code] {
			return false
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range permanentMessages {
		if strings.Contains(msg, m) {
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	for _, m := range retryableMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsRevert reports whether err is a contract revert
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == 3 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}

// RevertReason extracts the Error(string) reason carried by a revert, if any
func RevertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return "", false
	}
	hexData, ok := dataErr.ErrorData().(string)
	if !ok {
		return "", false
	}
	data, decodeErr := hexutil.Decode(hexData)
	if decodeErr != nil {
		return "", false
	}
	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		return "", false
	}
	return reason, true
}

// ContractCallError wraps a failed contract interaction with what was being called
type ContractCallError struct {
	Op       string // read, write, estimateGas
	Contract string
	Method   string
	Args     []string
	Reason   string // decoded revert reason, when available
	Err      error
}

func (e *ContractCallError) Error() string {
	msg := fmt.Sprintf("%s %s(%s) on %s failed", e.Op, e.Method, strings.Join(e.Args, ", "), e.Contract)
	if e.Reason != "" {
		msg += fmt.Sprintf(" (reverted: %s)", e.Reason)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *ContractCallError) Unwrap() error {
	return e.Err
}

func newContractCallError(op, contract, method string, args []interface{}, err error) *ContractCallError {
	reason, _ := RevertReason(err)
	return &ContractCallError{
		Op:       op,
		Contract: contract,
		Method:   method,
		Args:     stringifyArgs(args),
		Reason:   reason,
		Err:      err,
	}
}

func stringifyArgs(args []interface{}) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = fmt.Sprintf("%v", a)
	}
	return out
}
