package report

import (
	"errors"

	"github.com/godispatch/dws/dispatcher"
)

type multiHandler []dispatcher.ResultHandler

// Multi hands every result to all handlers in order. The errors of failing
// handlers are joined; a failure does not stop the remaining handlers.
func Multi(handlers ...dispatcher.ResultHandler) dispatcher.ResultHandler {
	return multiHandler(handlers)
}

func (m multiHandler) HandleResult(result dispatcher.Result) error {
	var errs []error
	for _, h := range m {
		if err := h.HandleResult(result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
