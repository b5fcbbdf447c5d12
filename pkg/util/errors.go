package util

import (
	"errors"
	"strings"
)

// ReportErrs joins the non-nil errors into a single comma separated error.
func ReportErrs(errs []error) error {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return errors.New(strings.Join(msgs, ", "))
}
