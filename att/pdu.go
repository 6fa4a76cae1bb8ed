package att

import (
	"encoding/binary"
)

// ErrorRsp builds an Error Response for the given request opcode and handle.
func ErrorRsp(reqOp uint8, handle uint16, e Error) []byte {
	b := make([]byte, 5)
	b[0] = ErrorRspCode
	b[1] = reqOp
	binary.LittleEndian.PutUint16(b[2:], handle)
	b[4] = uint8(e)
	return b
}

// ParseErrorRsp decodes an Error Response.
func ParseErrorRsp(b []byte) (reqOp uint8, handle uint16, e Error, err error) {
	if len(b) != 5 || b[0] != ErrorRspCode {
		return 0, 0, 0, ErrInvalidResponse
	}
	return b[1], binary.LittleEndian.Uint16(b[2:]), Error(b[4]), nil
}

// ExchangeMTUReq builds an Exchange MTU Request.
func ExchangeMTUReq(rxMTU uint16) []byte {
	b := make([]byte, 3)
	b[0] = ExchangeMTUReqCode
	binary.LittleEndian.PutUint16(b[1:], rxMTU)
	return b
}

// ExchangeMTURsp builds an Exchange MTU Response.
func ExchangeMTURsp(rxMTU uint16) []byte {
	b := make([]byte, 3)
	b[0] = ExchangeMTURspCode
	binary.LittleEndian.PutUint16(b[1:], rxMTU)
	return b
}

// ParseMTU decodes the MTU field shared by request and response.
func ParseMTU(b []byte) (uint16, error) {
	if len(b) != 3 {
		return 0, ErrInvalidResponse
	}
	return binary.LittleEndian.Uint16(b[1:]), nil
}

// ReadByGroupTypeReq builds the request driving primary service discovery.
func ReadByGroupTypeReq(start, end uint16, typ []byte) []byte {
	b := make([]byte, 5+len(typ))
	b[0] = ReadByGroupTypeReqCode
	binary.LittleEndian.PutUint16(b[1:], start)
	binary.LittleEndian.PutUint16(b[3:], end)
	copy(b[5:], typ)
	return b
}

// ReadByTypeReq builds the request driving characteristic discovery.
func ReadByTypeReq(start, end uint16, typ []byte) []byte {
	b := make([]byte, 5+len(typ))
	b[0] = ReadByTypeReqCode
	binary.LittleEndian.PutUint16(b[1:], start)
	binary.LittleEndian.PutUint16(b[3:], end)
	copy(b[5:], typ)
	return b
}

// FindInformationReq builds the request driving descriptor discovery.
func FindInformationReq(start, end uint16) []byte {
	b := make([]byte, 5)
	b[0] = FindInformationReqCode
	binary.LittleEndian.PutUint16(b[1:], start)
	binary.LittleEndian.PutUint16(b[3:], end)
	return b
}

// ParseHandleRange decodes the start/end handles shared by the discovery
// requests, with the attribute/group type trailing.
func ParseHandleRange(b []byte) (start, end uint16, typ []byte, err error) {
	if len(b) < 5 {
		return 0, 0, nil, ErrInvalidResponse
	}
	return binary.LittleEndian.Uint16(b[1:]), binary.LittleEndian.Uint16(b[3:]), b[5:], nil
}

// ListRsp builds a Read By (Group) Type or Find Information response:
// a per-entry length (or format) byte followed by the packed entries.
func ListRsp(code uint8, lengthOrFormat uint8, data []byte) []byte {
	b := make([]byte, 2+len(data))
	b[0] = code
	b[1] = lengthOrFormat
	copy(b[2:], data)
	return b
}

// ParseListRsp decodes a discovery response into its per-entry length (or
// format) and packed entry data. A response with no entries is invalid
// [Vol 3, Part F, 3.4.4.1]; the server signals exhaustion with an Error
// Response instead, so an empty list here would stall discovery loops.
func ParseListRsp(code uint8, b []byte) (lengthOrFormat uint8, data []byte, err error) {
	if len(b) < 3 || b[0] != code {
		return 0, nil, ErrInvalidResponse
	}
	return b[1], b[2:], nil
}

// ReadReq builds a Read Request.
func ReadReq(handle uint16) []byte {
	b := make([]byte, 3)
	b[0] = ReadReqCode
	binary.LittleEndian.PutUint16(b[1:], handle)
	return b
}

// ReadRsp builds a Read Response.
func ReadRsp(value []byte) []byte {
	return append([]byte{ReadRspCode}, value...)
}

// WriteReq builds an acknowledged Write Request.
func WriteReq(handle uint16, value []byte) []byte {
	b := make([]byte, 3+len(value))
	b[0] = WriteReqCode
	binary.LittleEndian.PutUint16(b[1:], handle)
	copy(b[3:], value)
	return b
}

// WriteCmd builds a fire-and-forget Write Command.
func WriteCmd(handle uint16, value []byte) []byte {
	b := make([]byte, 3+len(value))
	b[0] = WriteCmdCode
	binary.LittleEndian.PutUint16(b[1:], handle)
	copy(b[3:], value)
	return b
}

// WriteRsp builds a Write Response.
func WriteRsp() []byte { return []byte{WriteRspCode} }

// ParseHandleValue decodes the (handle, value) layout shared by read/write
// requests and notifications.
func ParseHandleValue(b []byte) (handle uint16, value []byte, err error) {
	if len(b) < 3 {
		return 0, nil, ErrInvalidResponse
	}
	return binary.LittleEndian.Uint16(b[1:]), b[3:], nil
}

// Notification builds a Handle Value Notification.
func Notification(handle uint16, value []byte) []byte {
	b := make([]byte, 3+len(value))
	b[0] = NotificationCode
	binary.LittleEndian.PutUint16(b[1:], handle)
	copy(b[3:], value)
	return b
}

// Indication builds a Handle Value Indication.
func Indication(handle uint16, value []byte) []byte {
	b := make([]byte, 3+len(value))
	b[0] = IndicationCode
	binary.LittleEndian.PutUint16(b[1:], handle)
	copy(b[3:], value)
	return b
}

// Confirmation builds a Handle Value Confirmation.
func Confirmation() []byte { return []byte{ConfirmationCode} }

// Opcode returns the method opcode of a PDU, or zero for an empty one.
func Opcode(b []byte) uint8 {
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

// IsResponse reports whether the opcode completes an outstanding request.
func IsResponse(op uint8) bool {
	switch op {
	case ErrorRspCode, ExchangeMTURspCode, FindInformationRspCode,
		ReadByTypeRspCode, ReadRspCode, ReadByGroupTypeRspCode, WriteRspCode:
		return true
	}
	return false
}
