package eventlogger

// Result is the outcome of LogSync and FlushBatch.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func Ok() Result {
	return Result{Success: true}
}

func Failure(message string) Result {
	return Result{Success: false, Error: message}
}
