package assembler

// ErrorCode is the MTConnect errorCode attribute vocabulary.
type ErrorCode string

const (
	CodeNoDevice       ErrorCode = "NO_DEVICE"
	CodeAssetNotFound  ErrorCode = "ASSET_NOT_FOUND"
	CodeOutOfRange     ErrorCode = "OUT_OF_RANGE"
	CodeInvalidXPath   ErrorCode = "INVALID_XPATH"
	CodeUnsupported    ErrorCode = "UNSUPPORTED"
	CodeInvalidRequest ErrorCode = "INVALID_REQUEST"
)

// RequestError is one entry of an MTConnectError document. Parameter
// validation accumulates several; existence failures surface exactly one.
type RequestError struct {
	Code    ErrorCode
	Message string
}

func (e *RequestError) Error() string {
	return string(e.Code) + ": " + e.Message
}
