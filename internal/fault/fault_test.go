package fault

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	_, statErr := os.Stat("/definitely/not/here.jpg")
	require.Error(t, statErr)

	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"classified", New(KindAuthorization, "list", nil), KindAuthorization},
		{"wrapped classified", fmt.Errorf("outer: %w", New(KindRejected, "commit", nil)), KindRejected},
		{"missing file", statErr, KindLocalIO},
		{"url error", &url.Error{Op: "Post", URL: "http://x", Err: errors.New("connection refused")}, KindNetwork},
		{"short body", io.ErrUnexpectedEOF, KindNetwork},
		{"anything else", errors.New("boom"), KindRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestOnlyNetworkIsTransient(t *testing.T) {
	assert.True(t, KindNetwork.Transient())
	assert.False(t, KindAuthorization.Transient())
	assert.False(t, KindRejected.Transient())
	assert.False(t, KindLocalIO.Transient())
	assert.False(t, IsTransient(nil))
}

func TestWrapKeepsClassification(t *testing.T) {
	inner := &Error{Kind: KindRejected, Status: 400, Detail: "bad options"}
	wrapped := Wrap("commit task", inner)

	assert.Equal(t, KindRejected, wrapped.Kind)
	assert.Equal(t, 400, wrapped.Status)
	assert.Equal(t, "commit task: rejected by server (HTTP 400): bad options", wrapped.Error())
	assert.Nil(t, Wrap("noop", nil))
}
