package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/stepdriver/api/schemas"
)

// cdpSignatures maps fragments of DevTools protocol errors onto the pipeline's
// error taxonomy. The protocol reports most failures only as message text.
var cdpSignatures = []struct {
	fragment string
	sentinel error
}{
	{"could not find node with given id", schemas.ErrStaleLocator},
	{"no node with given id found", schemas.ErrStaleLocator},
	{"node is detached", schemas.ErrStaleLocator},
	{"node with given id does not belong to the document", schemas.ErrStaleLocator},
	{"cannot find context with specified id", schemas.ErrNavigationPending},
	{"execution context was destroyed", schemas.ErrNavigationPending},
	{"inspected target navigated or closed", schemas.ErrNavigationPending},
	{"node is not visible", schemas.ErrElementNotInteractable},
	{"node does not have a layout object", schemas.ErrElementNotInteractable},
	{"could not compute box model", schemas.ErrElementNotInteractable},
	{"invalid box model", schemas.ErrElementNotInteractable},
	{"element is disabled", schemas.ErrElementNotInteractable},
	{"channel closed", schemas.ErrBrowserClosed},
	{"invalid context", schemas.ErrBrowserClosed},
	{"target closed", schemas.ErrBrowserClosed},
}

// classify wraps err with the sentinel its message corresponds to. A deadline
// on opCtx always wins so timeouts are never mistaken for transient faults.
func classify(opCtx context.Context, action string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", action, context.DeadlineExceeded)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", action, err)
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range cdpSignatures {
		if strings.Contains(msg, sig.fragment) {
			return fmt.Errorf("%s: %w (%v)", action, sig.sentinel, err)
		}
	}
	return fmt.Errorf("%s failed: %w", action, err)
}
