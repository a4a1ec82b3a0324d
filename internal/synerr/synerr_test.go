package synerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindFatal(t *testing.T) {
	assert.True(t, KindConfig.Fatal())

	for _, k := range []Kind{KindUpstream, KindDownloader, KindUpload, KindRecheck, KindStatus, KindScanner, KindLockConflict} {
		assert.False(t, k.Fatal(), "kind %q should not be fatal", k)
	}
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("connection refused")

	withOp := New(KindUpstream, "list", cause)
	assert.Equal(t, "upstream: list: connection refused", withOp.Error())

	withoutOp := New(KindUpstream, "", cause)
	assert.Equal(t, "upstream: connection refused", withoutOp.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := New(KindUpload, "put", cause)

	assert.ErrorIs(t, e, cause)
	assert.Same(t, cause, e.Unwrap())
}

func TestConstructors(t *testing.T) {
	cause := errors.New("x")

	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"Config", Config("op", cause), KindConfig},
		{"Upstream", Upstream("op", cause), KindUpstream},
		{"Downloader", Downloader("op", cause), KindDownloader},
		{"Upload", Upload("op", cause), KindUpload},
		{"Recheck", Recheck("op", cause), KindRecheck},
		{"Status", Status("op", cause), KindStatus},
		{"Scanner", Scanner("op", cause), KindScanner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se, ok := As(tt.err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, se.Kind)
		})
	}
}

func TestLockConflict(t *testing.T) {
	err := LockConflict("claim alist://a/f")

	se, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, KindLockConflict, se.Kind)
	assert.Contains(t, err.Error(), "claim alist://a/f")
	assert.Contains(t, err.Error(), "already claimed")
}

func TestAsThroughWrapping(t *testing.T) {
	cause := errors.New("root cause")
	se := New(KindScanner, "walk", cause)
	wrapped := fmt.Errorf("context: %w", se)

	found, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindScanner, found.Kind)
}

func TestAsOnPlainError(t *testing.T) {
	_, ok := As(errors.New("plain"))
	assert.False(t, ok)
}

func TestAsOnNil(t *testing.T) {
	_, ok := As(nil)
	assert.False(t, ok)
}
