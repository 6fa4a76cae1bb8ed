// Package att encodes and decodes the Attribute Protocol PDUs the stack
// speaks [Vol 3, Part F]. Requests are keyed by 16-bit handles; the
// protocol allows one outstanding request per direction.
package att

import (
	"fmt"

	"github.com/pkg/errors"
)

// DefaultMTU is the default ATT_MTU.
const DefaultMTU = 23

// MaxMTU is 512 bytes of value length and 3 bytes of header
// [Vol 3, Part F, 3.2.9].
const MaxMTU = 512 + 3

// Method opcodes.
const (
	ErrorRspCode           = 0x01
	ExchangeMTUReqCode     = 0x02
	ExchangeMTURspCode     = 0x03
	FindInformationReqCode = 0x04
	FindInformationRspCode = 0x05
	ReadByTypeReqCode      = 0x08
	ReadByTypeRspCode      = 0x09
	ReadReqCode            = 0x0a
	ReadRspCode            = 0x0b
	ReadByGroupTypeReqCode = 0x10
	ReadByGroupTypeRspCode = 0x11
	WriteReqCode           = 0x12
	WriteRspCode           = 0x13
	WriteCmdCode           = 0x52
	NotificationCode       = 0x1b
	IndicationCode         = 0x1d
	ConfirmationCode       = 0x1e
)

// Error is an ATT protocol error code carried in an Error Response
// [Vol 3, Part F, 3.4.1.1].
type Error uint8

const (
	ErrSuccess           Error = 0x00
	ErrInvalidHandle     Error = 0x01
	ErrReadNotPerm       Error = 0x02
	ErrWriteNotPerm      Error = 0x03
	ErrInvalidPDU        Error = 0x04
	ErrAuthentication    Error = 0x05
	ErrReqNotSupp        Error = 0x06
	ErrInvalidOffset     Error = 0x07
	ErrAuthorization     Error = 0x08
	ErrPrepQueueFull     Error = 0x09
	ErrAttrNotFound      Error = 0x0a
	ErrAttrNotLong       Error = 0x0b
	ErrInsuffEncrKeySize Error = 0x0c
	ErrInvalAttrValueLen Error = 0x0d
	ErrUnlikely          Error = 0x0e
	ErrInsuffEnc         Error = 0x0f
	ErrUnsuppGroupType   Error = 0x10
	ErrInsuffResources   Error = 0x11
)

func (e Error) Error() string {
	switch e {
	case ErrInvalidHandle:
		return "invalid handle"
	case ErrReadNotPerm:
		return "read not permitted"
	case ErrWriteNotPerm:
		return "write not permitted"
	case ErrInvalidPDU:
		return "invalid pdu"
	case ErrAuthentication:
		return "insufficient authentication"
	case ErrReqNotSupp:
		return "request not supported"
	case ErrInvalidOffset:
		return "invalid offset"
	case ErrAuthorization:
		return "insufficient authorization"
	case ErrAttrNotFound:
		return "attribute not found"
	case ErrAttrNotLong:
		return "attribute not long"
	case ErrInvalAttrValueLen:
		return "invalid attribute value length"
	case ErrUnlikely:
		return "unlikely error"
	case ErrInsuffEnc:
		return "insufficient encryption"
	case ErrUnsuppGroupType:
		return "unsupported group type"
	case ErrInsuffResources:
		return "insufficient resources"
	default:
		return fmt.Sprintf("att error 0x%02x", uint8(e))
	}
}

var (
	// ErrInvalidResponse means one or more of the response fields are invalid.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrSeqProtoTimeout means the request hasn't been acknowledged in time
	// [Vol 3, Part F, 3.3.3].
	ErrSeqProtoTimeout = errors.New("req timeout")
)
