package presence

import (
	"context"
	"errors"
	"fmt"

	"hzpresence/internal/app/identity"
	"hzpresence/internal/pkg/errs"
)

// Middleware runs before identity validation. A non-nil error aborts the connection
// and its message is delivered to the client as an error event.
type Middleware func(ctx context.Context, hs *Handshake) error

// ConnectHook is the host's onConnect callback. It may return a replacement user name
// and metadata attached to the session, or an error rejecting the login. Panics are
// recovered and treated as errors.
type ConnectHook func(ctx context.Context, h Handle, socketID string) (userName string, metadata map[string]any, err error)

// Handle is the capability handed to hooks: the operations a hook may perform on the
// instance, nothing more.
type Handle interface {
	// InstanceUID returns the UID of the instance running the hook.
	InstanceUID() string

	// Handshake returns the connection data of a socket known to this instance.
	Handshake(socketID string) (*Handshake, bool)

	// InstanceSockets queries the shared store; see Service.InstanceSockets.
	InstanceSockets(ctx context.Context, instanceUID ...string) (map[string]string, error)
}

// errAbandoned marks a pipeline stopped because the socket went away.
var errAbandoned = errors.New("connection abandoned during authentication")

// identityResult is the outcome of a successful authentication.
type identityResult struct {
	userName string
	metadata map[string]any
}

// authenticate runs middleware, validation and the onConnect hook in that order.
func (s *Service) authenticate(ctx context.Context, sess *Session) (identityResult, error) {
	for i, mw := range s.middleware {
		err := callAsync(ctx, func() error { return mw(ctx, sess.handshake) })
		if err != nil {
			if errors.Is(err, errAbandoned) {
				return identityResult{}, err
			}
			s.logger.Debug().Err(err).Int("middleware", i).Str("socket_id", sess.ID).Msg("Middleware rejected connection.")
			return identityResult{}, errs.Wrap(errs.ErrMiddlewareRejected, err)
		}
	}

	userName := sess.handshake.UserName()
	if err := identity.Validate(userName); err != nil {
		return identityResult{}, err
	}

	if s.hook == nil {
		return identityResult{userName: userName}, nil
	}

	var (
		hookName string
		metadata map[string]any
	)
	err := callAsync(ctx, func() error {
		var hookErr error
		hookName, metadata, hookErr = s.hook(ctx, s.handle, sess.ID)
		return hookErr
	})
	if err != nil {
		if errors.Is(err, errAbandoned) {
			return identityResult{}, err
		}
		return identityResult{}, errs.Wrap(errs.ErrHookRejected, err)
	}

	if hookName != "" {
		if err := identity.Validate(hookName); err != nil {
			return identityResult{}, err
		}
		userName = hookName
	}

	return identityResult{userName: userName, metadata: metadata}, nil
}

// callAsync runs fn on its own goroutine so a hanging host callback stalls only this
// socket, and converts panics into errors. If ctx ends first, errAbandoned is returned
// and fn's eventual result is discarded.
func callAsync(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- panicError(r)
			}
		}()
		done <- fn()
	}()

	select {
	case err := <-done:
		if err == nil && ctx.Err() != nil {
			return errAbandoned
		}
		return err
	case <-ctx.Done():
		return errAbandoned
	}
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}
