package mqttclient

import (
	"errors"
	"testing"
)

func TestClassifyErrorMapsKnownFamilies(t *testing.T) {
	cases := []struct {
		err  error
		want Outcome
	}{
		{errors.New("dial tcp: connection refused"), OutcomeNoConnection},
		{errors.New("read: connection reset by peer"), OutcomeConnectionLost},
		{errors.New("protocol violation in CONNACK"), OutcomeProtocolError},
		{errors.New("Not Authorized"), OutcomeInvalidParams},
		{errors.New("out of memory allocating buffer"), OutcomeOutOfMemory},
		{errors.New("x509: certificate signed by unknown authority"), OutcomeSystemError},
		{errors.New("something unexpected happened"), OutcomeUnknown},
		{nil, OutcomeSuccess},
	}
	for _, tc := range cases {
		if got := classifyError(tc.err); got != tc.want {
			t.Errorf("classifyError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
