package schedule

import "fmt"

// AcquisitionError covers session launch failures, non-success HTTP
// statuses, timeouts, and the no-download-no-response outcome.
type AcquisitionError struct {
	Op         string // launch, navigate, download, request
	StatusCode int    // 0 when not an HTTP status failure
	Err        error
}

func (e *AcquisitionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("acquisition %s: http %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("acquisition %s: %v", e.Op, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// ExtractionError covers native extraction failures and OCR failures.
type ExtractionError struct {
	Op  string // native, ocr
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction %s: %v", e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ValidationError is a configured category missing from the extracted
// text. Reported, never fatal for the attempt.
type ValidationError struct {
	Category string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: category %q not found in document", e.Category)
}

// PersistenceError covers history and snapshot write failures.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
