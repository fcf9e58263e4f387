package errors

// ErrorCode is reported back to the submitter of a request that was
// sequenced but could not be applied.
type ErrorCode string

const (
	// NoEnoughAsset means the user's available balance could not cover the reservation or transfer.
	NoEnoughAsset ErrorCode = "no_enough_asset"
	// OrderNotFound means the cancel target is not active or belongs to another user.
	OrderNotFound ErrorCode = "order_not_found"
	// ParameterInvalid means the request failed validation.
	ParameterInvalid ErrorCode = "parameter_invalid"
	// InternalServerError is used when the engine halted while handling the request.
	InternalServerError ErrorCode = "internal_server_error"
)

func (c ErrorCode) String() string {
	return string(c)
}
