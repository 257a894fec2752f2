package busrpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"dikt/internal/domain"
)

const (
	errorPrefix  = Interface + ".Error."
	genericError = "org.freedesktop.DBus.Error.Failed"
	unknownError = "org.freedesktop.DBus.Error.UnknownMethod"
)

// toBusError maps a facade error to a bus error named after its code so the
// caller can recover the code without parsing the message.
func toBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	name := genericError
	if code := domain.CodeOf(err, ""); code != "" {
		name = errorPrefix + string(code)
	}
	return dbus.NewError(name, []interface{}{domain.DetailOf(err)})
}

// fromBusError is the inverse of toBusError. Context expiry is reported as
// domain.ErrTimeout and a missing method as domain.ErrUnsupported.
func fromBusError(method string, err error) error {
	if err == nil {
		return nil
	}

	if name, body, ok := busErrorParts(err); ok {
		if strings.HasPrefix(name, errorPrefix) {
			detail := ""
			if len(body) > 0 {
				detail, _ = body[0].(string)
			}
			return &domain.Error{Code: domain.ErrorCode(strings.TrimPrefix(name, errorPrefix)), Detail: detail}
		}
		if name == unknownError {
			return fmt.Errorf("%s: %w: %w", method, domain.ErrUnsupported, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", method, domain.ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w", method, err)
}

func busErrorParts(err error) (string, []interface{}, bool) {
	var value dbus.Error
	if errors.As(err, &value) {
		return value.Name, value.Body, true
	}
	var ptr *dbus.Error
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Name, ptr.Body, true
	}
	return "", nil, false
}
