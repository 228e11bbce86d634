package protocol

const (
	// Join/handshake layer.
	ErrAuthRequired = "E_AUTH_REQUIRED"
	ErrBanned       = "E_BANNED"

	// Message validation.
	ErrValidation = "E_VALIDATION"

	// Policy layer.
	ErrNoPermission = "E_NO_PERMISSION"
	ErrAdmission    = "E_ADMISSION"

	// External collaborators.
	ErrResolution = "E_RESOLUTION"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrAuthRequired: {},
	ErrBanned:       {},
	ErrValidation:   {},
	ErrNoPermission: {},
	ErrAdmission:    {},
	ErrResolution:   {},
	ErrInternal:     {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
