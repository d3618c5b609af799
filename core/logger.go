package core

// Logger is any service that can log messages.
// args may hold errors, map[string]interface{} extras, or a Person to attach to the entry.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Person identifies who an entry is about; loggers that support it (rollbar) attach it to the entry.
type Person struct {
	ID       string
	Username string
	Email    string
}

type nopLogger struct{}

// NopLogger discards everything; components default to it when no Logger is given.
var NopLogger Logger = nopLogger{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}
