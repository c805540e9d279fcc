package bridge

import (
	"errors"
	"fmt"
)

// ErrorCode типизированный код ошибки ядра моста.
// Позволяет классифицировать ошибки и решать, можно ли повторить операцию.
type ErrorCode int

const (
	// Ошибки конструирования
	ErrCodeCapabilityUnsatisfiable ErrorCode = iota + 2000
	ErrCodeBridgeNotRegistered
	ErrCodeBridgeNotEmpty
	ErrCodeInvalidArgument

	// Ошибки входа в мост
	ErrCodePushRejected
	ErrCodeBridgeDissolved
	ErrCodeChannelInBridge

	// Ошибки выхода и управления участником
	ErrCodeNotInBridge
	ErrCodeNotDepartable
	ErrCodeDepartRequired
	ErrCodeAlreadySuspended
	ErrCodeNotSuspended
	ErrCodeChannelLeaving

	// Ошибки очередей
	ErrCodeOwningAction
	ErrCodeQueueFull

	// Ошибки слияния
	ErrCodeMergeInhibited
	ErrCodeSameBridge

	// Ошибки реестра технологий
	ErrCodeTechnologyInvalid
	ErrCodeTechnologyExists
	ErrCodeTechnologyNotFound
)

// String возвращает строковое представление кода ошибки
func (code ErrorCode) String() string {
	switch code {
	case ErrCodeCapabilityUnsatisfiable:
		return "CapabilityUnsatisfiable"
	case ErrCodeBridgeNotRegistered:
		return "BridgeNotRegistered"
	case ErrCodeBridgeNotEmpty:
		return "BridgeNotEmpty"
	case ErrCodeInvalidArgument:
		return "InvalidArgument"
	case ErrCodePushRejected:
		return "PushRejected"
	case ErrCodeBridgeDissolved:
		return "BridgeDissolved"
	case ErrCodeChannelInBridge:
		return "ChannelInBridge"
	case ErrCodeNotInBridge:
		return "NotInBridge"
	case ErrCodeNotDepartable:
		return "NotDepartable"
	case ErrCodeDepartRequired:
		return "DepartRequired"
	case ErrCodeAlreadySuspended:
		return "AlreadySuspended"
	case ErrCodeNotSuspended:
		return "NotSuspended"
	case ErrCodeChannelLeaving:
		return "ChannelLeaving"
	case ErrCodeOwningAction:
		return "OwningAction"
	case ErrCodeQueueFull:
		return "QueueFull"
	case ErrCodeMergeInhibited:
		return "MergeInhibited"
	case ErrCodeSameBridge:
		return "SameBridge"
	case ErrCodeTechnologyInvalid:
		return "TechnologyInvalid"
	case ErrCodeTechnologyExists:
		return "TechnologyExists"
	case ErrCodeTechnologyNotFound:
		return "TechnologyNotFound"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// Error ошибка ядра моста.
// Содержит код, идентификатор моста и имя канала для сопоставления с логами.
type Error struct {
	Code     ErrorCode
	Message  string
	BridgeID string
	Channel  string
	Context  map[string]interface{}
	Wrapped  error
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	msg := fmt.Sprintf("[мост:%d] %s", e.Code, e.Message)
	if e.BridgeID != "" {
		msg = fmt.Sprintf("[мост:%d] мост %s: %s", e.Code, e.BridgeID, e.Message)
	}
	if e.Channel != "" {
		msg += fmt.Sprintf(" (канал %s)", e.Channel)
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap возвращает обернутую ошибку
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду, поэтому работает errors.Is(err, ErrMergeInhibited)
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// GetContext возвращает значение из контекста ошибки по ключу
func (e *Error) GetContext(key string) interface{} {
	if e.Context == nil {
		return nil
	}
	return e.Context[key]
}

// Эталонные ошибки для errors.Is
var (
	ErrCapabilityUnsatisfiable = &Error{Code: ErrCodeCapabilityUnsatisfiable, Message: "нет технологии с требуемыми возможностями"}
	ErrBridgeNotRegistered     = &Error{Code: ErrCodeBridgeNotRegistered, Message: "мост не зарегистрирован"}
	ErrBridgeNotEmpty          = &Error{Code: ErrCodeBridgeNotEmpty, Message: "в мосту остались участники"}
	ErrInvalidArgument         = &Error{Code: ErrCodeInvalidArgument, Message: "некорректный аргумент"}
	ErrPushRejected            = &Error{Code: ErrCodePushRejected, Message: "технология отклонила канал"}
	ErrBridgeDissolved         = &Error{Code: ErrCodeBridgeDissolved, Message: "мост распущен"}
	ErrChannelInBridge         = &Error{Code: ErrCodeChannelInBridge, Message: "канал уже находится в мосту"}
	ErrNotInBridge             = &Error{Code: ErrCodeNotInBridge, Message: "канал не является участником моста"}
	ErrNotDepartable           = &Error{Code: ErrCodeNotDepartable, Message: "канал нельзя забрать через depart"}
	ErrDepartRequired          = &Error{Code: ErrCodeDepartRequired, Message: "канал покидает мост только через depart"}
	ErrAlreadySuspended        = &Error{Code: ErrCodeAlreadySuspended, Message: "канал уже приостановлен"}
	ErrNotSuspended            = &Error{Code: ErrCodeNotSuspended, Message: "канал не приостановлен"}
	ErrChannelLeaving          = &Error{Code: ErrCodeChannelLeaving, Message: "канал покидает мост"}
	ErrOwningAction            = &Error{Code: ErrCodeOwningAction, Message: "действие допустимо только в очереди моста"}
	ErrQueueFull               = &Error{Code: ErrCodeQueueFull, Message: "очередь участника переполнена"}
	ErrMergeInhibited          = &Error{Code: ErrCodeMergeInhibited, Message: "слияние запрещено"}
	ErrSameBridge              = &Error{Code: ErrCodeSameBridge, Message: "слияние моста с самим собой"}
	ErrTechnologyInvalid       = &Error{Code: ErrCodeTechnologyInvalid, Message: "некорректная технология"}
	ErrTechnologyExists        = &Error{Code: ErrCodeTechnologyExists, Message: "технология уже зарегистрирована"}
	ErrTechnologyNotFound      = &Error{Code: ErrCodeTechnologyNotFound, Message: "технология не найдена"}
)

// newError создает ошибку с кодом и привязкой к мосту/каналу
func newError(code ErrorCode, bridgeID, channel, message string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		BridgeID: bridgeID,
		Channel:  channel,
	}
}

// wrapError оборачивает ошибку технологии или канала
func wrapError(code ErrorCode, bridgeID, channel, message string, err error) *Error {
	e := newError(code, bridgeID, channel, message)
	e.Wrapped = err
	return e
}

// HasErrorCode проверяет, содержит ли цепочка ошибок указанный код
func HasErrorCode(err error, code ErrorCode) bool {
	var bridgeErr *Error
	if errors.As(err, &bridgeErr) {
		return bridgeErr.Code == code
	}
	return false
}

// IsRecoverable определяет, имеет ли смысл повторить операцию позже
func IsRecoverable(err error) bool {
	var bridgeErr *Error
	if !errors.As(err, &bridgeErr) {
		return false
	}
	switch bridgeErr.Code {
	case ErrCodeMergeInhibited, ErrCodePushRejected, ErrCodeQueueFull, ErrCodeChannelLeaving:
		return true
	default:
		return false
	}
}
