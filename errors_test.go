package arbor

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("boom")
	cases := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "full",
			err:  &Error{Op: "Mapper.Add", Kind: KindStore, Path: "/a/b", Err: cause},
			want: "arbor: Mapper.Add (store) at /a/b: boom",
		},
		{
			name: "no path",
			err:  &Error{Op: "Mapper.Add", Kind: KindStore, Err: cause},
			want: "arbor: Mapper.Add (store): boom",
		},
		{
			name: "no cause",
			err:  &Error{Op: "Mapper.Register", Kind: KindConfiguration},
			want: "arbor: Mapper.Register: configuration",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}

func TestErrorMatching(t *testing.T) {
	cause := fmt.Errorf("missing: %w", ErrNotRegistered)
	err := NewUnmappedError("Mapper.FromNode", cause).WithPath("/x")

	assert.ErrorIs(t, err, ErrNotRegistered, "the wrapper is transparent to the cause chain")
	assert.ErrorIs(t, err, &Error{Kind: KindUnmapped}, "matches by kind")
	assert.ErrorIs(t, err, &Error{Kind: KindUnmapped, Op: "Mapper.FromNode"})
	assert.NotErrorIs(t, err, &Error{Kind: KindStore})
	assert.NotErrorIs(t, err, &Error{Kind: KindUnmapped, Op: "Mapper.Add"})

	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "/x", me.Path)
	assert.Equal(t, KindUnmapped, me.Kind)
}

type failingCloser struct{ err error }

func (f failingCloser) Close() error { return f.err }

func TestCloseWithLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	CloseWithLog(failingCloser{err: errors.New("pipe broke")}, logger, "payload stream")
	out := buf.String()
	assert.Contains(t, out, "payload stream")
	assert.Contains(t, out, "pipe broke")

	buf.Reset()
	CloseWithLog(failingCloser{}, logger, "quiet")
	assert.False(t, strings.Contains(buf.String(), "quiet"), "a clean close logs nothing")

	CloseWithLog(nil, logger, "nil closer is fine")
}
