package rushit

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := NewThreadError("epoll_wait", 3, ErrCodeResource, "wait failed")

	msg := err.Error()
	if !strings.Contains(msg, "rushit:") {
		t.Errorf("message %q missing prefix", msg)
	}
	if !strings.Contains(msg, "wait failed") {
		t.Errorf("message %q missing cause", msg)
	}
	if !strings.Contains(msg, "op=epoll_wait") {
		t.Errorf("message %q missing operation", msg)
	}
}

func TestErrorCodeFallsBackAsMessage(t *testing.T) {
	err := NewError("connect", ErrCodeUnreachable, "")
	if !strings.Contains(err.Error(), string(ErrCodeUnreachable)) {
		t.Errorf("message %q should carry the code", err.Error())
	}
}

func TestWrapErrorNil(t *testing.T) {
	if got := WrapError("op", nil); got != nil {
		t.Errorf("WrapError(nil) = %v, want nil", got)
	}
}

func TestWrapErrorErrnoMapping(t *testing.T) {
	tests := []struct {
		errno syscall.Errno
		code  ErrorCode
	}{
		{syscall.EINTR, ErrCodeInterrupted},
		{syscall.EINVAL, ErrCodeConfig},
		{syscall.ENOMEM, ErrCodeResource},
		{syscall.EMFILE, ErrCodeResource},
		{syscall.ETIMEDOUT, ErrCodeTimeout},
		{syscall.ECONNREFUSED, ErrCodeUnreachable},
		{syscall.EPIPE, ErrCodeIOError},
	}
	for _, tt := range tests {
		err := WrapError("syscall", tt.errno)
		if err.Code != tt.code {
			t.Errorf("errno %v mapped to %q, want %q", tt.errno, err.Code, tt.code)
		}
		if err.Errno != tt.errno {
			t.Errorf("errno %v not preserved", tt.errno)
		}
	}
}

func TestWrapErrorKeepsStructure(t *testing.T) {
	inner := NewFlowError("recv", 1, 5, ErrCodeIOError, "short read")
	wrapped := WrapError("client_events", inner)

	if wrapped.Op != "client_events" {
		t.Errorf("Op = %q, want client_events", wrapped.Op)
	}
	if wrapped.Thread != 1 || wrapped.Flow != 5 {
		t.Errorf("context lost: thread=%d flow=%d", wrapped.Thread, wrapped.Flow)
	}
	if wrapped.Code != ErrCodeIOError {
		t.Errorf("Code = %q, want %q", wrapped.Code, ErrCodeIOError)
	}
}

func TestErrorsIsAndAs(t *testing.T) {
	inner := errors.New("root cause")
	err := fmt.Errorf("outer: %w", WrapError("op", inner))

	var re *Error
	if !errors.As(err, &re) {
		t.Fatal("errors.As failed to find *Error")
	}
	if !errors.Is(err, inner) {
		t.Error("errors.Is failed to find the inner error")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("check_options", ErrCodeConfig, "bad flag")
	if !IsCode(err, ErrCodeConfig) {
		t.Error("IsCode missed matching code")
	}
	if IsCode(err, ErrCodeResource) {
		t.Error("IsCode matched wrong code")
	}
	if IsCode(errors.New("plain"), ErrCodeConfig) {
		t.Error("IsCode matched a plain error")
	}
}

func TestIsErrno(t *testing.T) {
	err := WrapError("connect", syscall.ECONNREFUSED)
	if !IsErrno(err, syscall.ECONNREFUSED) {
		t.Error("IsErrno missed matching errno")
	}
	if IsErrno(err, syscall.EPIPE) {
		t.Error("IsErrno matched wrong errno")
	}
}
