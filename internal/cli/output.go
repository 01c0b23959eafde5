package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/roach88/msgarchive/internal/model"
	"github.com/roach88/msgarchive/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed
	ExitCommandError = 2 // Command error (bad flags, missing config, unknown account)
	ExitStorageFatal = 3 // Archive could not be opened, created or migrated
)

// Error codes reported in JSON output.
const (
	ErrCodeGeneric      = "E001"
	ErrCodeConfig       = "E002"
	ErrCodeStorageFatal = "E003"
	ErrCodeInvalidArg   = "E004"
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code. Storage fatal
// errors always map to ExitStorageFatal.
func WrapExitError(code int, message string, err error) *ExitError {
	if errors.Is(err, store.ErrStorageFatal) {
		code = ExitStorageFatal
	}
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, store.ErrStorageFatal) {
		return ExitStorageFatal
	}
	return ExitFailure
}

// errorCode maps an exit code to the code reported in JSON output.
func errorCode(exit int) string {
	switch exit {
	case ExitCommandError:
		return ErrCodeInvalidArg
	case ExitStorageFatal:
		return ErrCodeStorageFatal
	default:
		return ErrCodeGeneric
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Diagnostic output (defaults to Writer)
	Verbose   bool

	// Location renders timestamps in text output. Defaults to UTC.
	Location *time.Location
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// It writes to ErrWriter so JSON output on Writer stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// MessageView is the JSON rendering of an archived message.
type MessageView struct {
	PK        int64     `json:"pk"`
	Timestamp time.Time `json:"timestamp"`
	Account   string    `json:"account"`
	Remote    string    `json:"remote"`
	Resource  string    `json:"resource,omitempty"`
	Type      string    `json:"type"`
	Direction string    `json:"direction"`
	Text      string    `json:"text"`
	Corrected bool      `json:"corrected,omitempty"`
	Retracted bool      `json:"retracted,omitempty"`
	Reactions []string  `json:"reactions,omitempty"`
}

func newMessageView(row *model.MessageRow) MessageView {
	v := MessageView{
		PK:        row.PK,
		Timestamp: row.Timestamp.UTC(),
		Account:   row.Account.String(),
		Remote:    row.Remote.String(),
		Resource:  row.Resource,
		Type:      row.Type.String(),
		Direction: row.Direction.String(),
		Text:      row.DisplayText(),
		Corrected: len(row.Corrections) > 0,
		Retracted: row.IsRetracted(),
	}
	for _, r := range row.Reactions {
		v.Reactions = append(v.Reactions, r.Emojis)
	}
	return v
}

// Messages outputs rows as a JSON list or one line per message.
func (f *OutputFormatter) Messages(rows []*model.MessageRow) error {
	if f.Format == "json" {
		views := make([]MessageView, 0, len(rows))
		for _, row := range rows {
			views = append(views, newMessageView(row))
		}
		return f.Success(views)
	}

	for _, row := range rows {
		if _, err := fmt.Fprintln(f.Writer, f.messageLine(row)); err != nil {
			return err
		}
	}
	return nil
}

func (f *OutputFormatter) messageLine(row *model.MessageRow) string {
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	ts := row.Timestamp.In(loc).Format(time.DateTime)

	from := row.Resource
	switch {
	case row.Direction == model.DirectionOutgoing:
		from = "me"
	case from == "":
		from = row.Remote.String()
	}

	text := row.DisplayText()
	switch {
	case row.IsRetracted():
		text = "(retracted)"
	case len(row.Corrections) > 0:
		text += " (edited)"
	}
	return fmt.Sprintf("[%s] %s: %s", ts, from, text)
}
