package upload

import "errors"

var (
	// ErrStorageUpload classifies failures reported by the object storage
	ErrStorageUpload = errors.New("storage upload failed")
	// ErrRegistration classifies explicit, missing or transport registry failures
	ErrRegistration = errors.New("registration failed")
	// ErrRegistrationTimeout classifies items forced out of REGISTERING by the final flush
	ErrRegistrationTimeout = errors.New("registration timed out")
	// ErrSessionActive is returned when a session is started while another is uploading
	ErrSessionActive = errors.New("upload session already active")
	// ErrNoSession is returned by operations that need a session when none exists
	ErrNoSession = errors.New("no upload session")
)

const (
	msgNoErrorMessage       = "Registration failed (no error message provided)"
	msgNoResultFmt          = "No result from backend (expected %d results, got %d)"
	msgRegistrationTimeout  = "Registration timeout - no response from backend"
	msgRegistrationNoAnswer = "Registration incomplete - no response received"
)

// Classify maps an item onto the error taxonomy. It returns nil for items
// that are not failed.
func Classify(item Item) error {
	switch item.Status {
	case StatusStorageUploadFailed:
		return ErrStorageUpload
	case StatusRegistrationFailed:
		if item.Error == msgRegistrationTimeout || item.Error == msgRegistrationNoAnswer {
			return ErrRegistrationTimeout
		}
		return ErrRegistration
	}
	return nil
}
