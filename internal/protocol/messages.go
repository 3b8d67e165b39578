package protocol

import (
	"errors"
	"fmt"
)

// Message types. Requests without a dedicated response type are acknowledged
// with a frame of the same type and an empty (or minimal) payload.
const (
	MsgRegister       uint16 = 0x0001
	MsgRegisterResp   uint16 = 0x0002
	MsgLogin          uint16 = 0x0003
	MsgLoginResp      uint16 = 0x0004
	MsgLogout         uint16 = 0x0005
	MsgGetListings    uint16 = 0x0010
	MsgListingsResp   uint16 = 0x0011
	MsgMarketBuy      uint16 = 0x0012
	MsgMarketSell     uint16 = 0x0013
	MsgMarketDelist   uint16 = 0x0014
	MsgMarketSearch   uint16 = 0x0015
	MsgTradeSend      uint16 = 0x0020
	MsgTradeNotify    uint16 = 0x0021
	MsgTradeAccept    uint16 = 0x0022
	MsgTradeDecline   uint16 = 0x0023
	MsgTradeCancel    uint16 = 0x0024
	MsgTradeCompleted uint16 = 0x0025
	MsgTradeList      uint16 = 0x0026
	MsgTradeListResp  uint16 = 0x0027
	MsgInventory      uint16 = 0x0030
	MsgInventoryResp  uint16 = 0x0031
	MsgProfile        uint16 = 0x0032
	MsgProfileResp    uint16 = 0x0033
	MsgSkinDetail     uint16 = 0x0034
	MsgSkinDetailResp uint16 = 0x0035
	MsgUserSearch     uint16 = 0x0036
	MsgUserSearchResp uint16 = 0x0037
	MsgUnbox          uint16 = 0x0040
	MsgUnboxResp      uint16 = 0x0041
	MsgGetCases       uint16 = 0x0042
	MsgGetCasesResp   uint16 = 0x0043
	MsgQuests         uint16 = 0x0050
	MsgQuestsResp     uint16 = 0x0051
	MsgClaimReward    uint16 = 0x0052
	MsgClaimRewardOK  uint16 = 0x0053
	MsgChat           uint16 = 0x0060
	MsgReport         uint16 = 0x0061
	MsgChatHistory    uint16 = 0x0062
	MsgChatHistResp   uint16 = 0x0063
	MsgTxHistory      uint16 = 0x0070
	MsgTxHistoryResp  uint16 = 0x0071
	MsgPriceHistory   uint16 = 0x0072
	MsgPriceHistResp  uint16 = 0x0073
	MsgHeartbeat      uint16 = 0x0090
	MsgError          uint16 = 0x00FF
)

// ErrorCode is the closed set of wire-level failure codes.
type ErrorCode uint32

const (
	CodeSuccess            ErrorCode = 0
	CodeInvalidCredentials ErrorCode = 1
	CodeUserExists         ErrorCode = 2
	CodeInsufficientFunds  ErrorCode = 3
	CodeItemNotFound       ErrorCode = 4
	CodePermissionDenied   ErrorCode = 5
	CodeTradeExpired       ErrorCode = 6
	CodeInvalidTrade       ErrorCode = 7
	CodeSessionExpired     ErrorCode = 8
	CodeServerFull         ErrorCode = 9
	CodeBanned             ErrorCode = 10
	CodeTradeLocked        ErrorCode = 11
	CodeInvalidRequest     ErrorCode = 12
	CodeDatabaseError      ErrorCode = 13
)

func (c ErrorCode) String() string {
	switch c {
	case CodeSuccess:
		return "SUCCESS"
	case CodeInvalidCredentials:
		return "INVALID_CREDENTIALS"
	case CodeUserExists:
		return "USER_EXISTS"
	case CodeInsufficientFunds:
		return "INSUFFICIENT_FUNDS"
	case CodeItemNotFound:
		return "ITEM_NOT_FOUND"
	case CodePermissionDenied:
		return "PERMISSION_DENIED"
	case CodeTradeExpired:
		return "TRADE_EXPIRED"
	case CodeInvalidTrade:
		return "INVALID_TRADE"
	case CodeSessionExpired:
		return "SESSION_EXPIRED"
	case CodeServerFull:
		return "SERVER_FULL"
	case CodeBanned:
		return "BANNED"
	case CodeTradeLocked:
		return "TRADE_LOCKED"
	case CodeInvalidRequest:
		return "INVALID_REQUEST"
	case CodeDatabaseError:
		return "DATABASE_ERROR"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint32(c))
	}
}

// DomainError is a failure with a wire code. Handlers translate any other
// error into CodeDatabaseError, so engines attach codes to every expected
// failure path.
type DomainError struct {
	Code ErrorCode
	msg  string
}

func (e *DomainError) Error() string {
	if e.msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.msg)
}

// Errf builds a DomainError with a formatted message.
func Errf(code ErrorCode, format string, args ...any) error {
	return &DomainError{Code: code, msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the wire code from err, defaulting to CodeDatabaseError
// for anything that is not a DomainError.
func CodeOf(err error) ErrorCode {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeDatabaseError
}
