package domain

import "errors"

// Типизированные отказы движка. Сервис и HTTP-слой оборачивают их через %w,
// сопоставление делается через errors.Is.
var (
	ErrNotAuthorized              = errors.New("actor role is not bound to the current step")
	ErrMissingRequiredComment     = errors.New("comment is required for this action")
	ErrMissingRevisionAreas       = errors.New("at least one revision area is required")
	ErrStaleTransition            = errors.New("expected version does not match current version")
	ErrNotFound                   = errors.New("workflow not found")
	ErrUnknownDocumentType        = errors.New("unknown document type")
	ErrUnknownRole                = errors.New("unknown role")
	ErrUnknownFlag                = errors.New("flag is not recognized by the current step")
	ErrAlreadySubmitted           = errors.New("workflow already submitted")
	ErrTerminalState              = errors.New("workflow is in a terminal state")
	ErrNotInReview                = errors.New("workflow is not awaiting review")
	ErrInvalidAction              = errors.New("invalid action")
	ErrInvalidDefinition          = errors.New("invalid document type definition")
	ErrAttachmentStoreUnavailable = errors.New("attachment store unavailable")
	ErrAttachmentNotFound         = errors.New("attachment not found")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrNotAuthorized, "NotAuthorized"},
	{ErrMissingRequiredComment, "MissingRequiredComment"},
	{ErrMissingRevisionAreas, "MissingRevisionAreas"},
	{ErrStaleTransition, "StaleTransition"},
	{ErrNotFound, "NotFound"},
	{ErrUnknownDocumentType, "UnknownDocumentType"},
	{ErrUnknownRole, "UnknownRole"},
	{ErrUnknownFlag, "UnknownFlag"},
	{ErrAlreadySubmitted, "AlreadySubmitted"},
	{ErrTerminalState, "TerminalState"},
	{ErrNotInReview, "NotInReview"},
	{ErrInvalidAction, "InvalidAction"},
	{ErrInvalidDefinition, "InvalidDefinition"},
	{ErrAttachmentStoreUnavailable, "AttachmentStoreUnavailable"},
	{ErrAttachmentNotFound, "AttachmentNotFound"},
}

// ErrorKind возвращает имя вида ошибки для ответа API и меток метрик.
// Для неклассифицированных ошибок "Internal".
func ErrorKind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}
