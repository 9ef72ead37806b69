package netutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		kind      string
		transient bool
	}{
		{name: "nil", err: nil, kind: ""},
		{name: "deadline", err: fmt.Errorf("send: %w", context.DeadlineExceeded), kind: KindTimeout, transient: true},
		{name: "canceled", err: context.Canceled, kind: KindCanceled},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "api.telegram.org"}, kind: KindDNS, transient: true},
		{name: "dns timeout", err: &net.DNSError{Err: "timeout", IsTimeout: true}, kind: KindTimeout, transient: true},
		{name: "dial", err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}, kind: KindDial, transient: true},
		{
			name:      "url wrapping dial",
			err:       &url.Error{Op: "Post", URL: "http://x", Err: &net.OpError{Op: "dial", Err: errors.New("refused")}},
			kind:      KindDial,
			transient: true,
		},
		{name: "url timeout", err: &url.Error{Op: "Post", URL: "http://x", Err: timeoutErr{}}, kind: KindTimeout, transient: true},
		{name: "plain", err: errors.New("boom"), kind: KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.kind {
				t.Fatalf("Classify = %q, want %q", got, tc.kind)
			}
			if got := IsTransient(tc.err); got != tc.transient {
				t.Fatalf("IsTransient = %v, want %v", got, tc.transient)
			}
		})
	}
}
