package utility

type AppError struct {
	message string
	err     error
}

func (e *AppError) Error() string {
	if e.err != nil {
		return e.message + ": " + e.err.Error()
	}
	return e.message
}

func (e *AppError) Unwrap() error {
	return e.err
}

func Err(m string) error {
	return &AppError{message: m}
}

// Wrap annotates err with a message, keeping it reachable for errors.Is
func Wrap(m string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{message: m, err: err}
}
