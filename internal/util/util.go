package util

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// LoggingError logs and returns the given error
func LoggingError(err error) error {
	logrus.WithError(err).Error()
	return err
}

// LoggingNewError creates a new error from the message, logs, and returns it
func LoggingNewError(msg string) error {
	err := errors.New(msg)
	logrus.WithError(err).Error()
	return err
}

// LoggingErrorMsg wraps the error with the message, logs, and returns it
func LoggingErrorMsg(err error, msg string) error {
	logrus.WithError(err).Error(SanitizeLog(msg))
	return errors.Wrap(err, msg)
}

// LoggingErrorMsgf wraps the error with the formatted message, logs, and returns it
func LoggingErrorMsgf(err error, msg string, args ...any) error {
	return LoggingErrorMsg(err, fmt.Sprintf(msg, args...))
}

// SanitizeLog prevents certain classes of injection attacks before logging
// https://codeql.github.com/codeql-query-help/go/go-log-injection/
func SanitizeLog(log string) string {
	escapedLog := strings.ReplaceAll(log, "\n", "")
	return strings.ReplaceAll(escapedLog, "\r", "")
}

// Is2xxResponse returns true if the given status code is a 2xx response
func Is2xxResponse(statusCode int) bool {
	return statusCode/100 == 2
}

// Is4xxResponse returns true if the given status code is a 4xx response
func Is4xxResponse(statusCode int) bool {
	return statusCode/100 == 4
}
