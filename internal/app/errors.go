package app

// DomainError carries an HTTP status and a stable machine-readable code
// alongside the human message. Handlers map it straight onto the error
// envelope; everything else becomes a 500.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	return e.Message
}

func domainError(status int, code, message string) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message}
}

func domainErrorWithDetails(status int, code, message string, details map[string]any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}
