package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookFuncs_NilFieldsPassThrough(t *testing.T) {
	var h HookFuncs
	ctx := context.Background()
	km := kafka.Message{Offset: 7}
	gotCtx, gotKM, gotData, err := h.BeforeHandle(ctx, "t", km, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, ctx, gotCtx)
	assert.Equal(t, int64(7), gotKM.Offset)
	assert.Equal(t, []byte("x"), gotData)
	h.AfterHandle(ctx, "t", km, nil, nil)
	h.OnError(ctx, "t", km, nil, errors.New("x"))
}

func TestHookError(t *testing.T) {
	inner := errors.New("empty payload")
	err := error(&HookError{Code: "ERR_EMPTY", Err: inner})
	assert.Equal(t, "ERR_EMPTY: empty payload", err.Error())
	assert.ErrorIs(t, err, inner)

	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "ERR_EMPTY", he.Code)
	assert.Equal(t, "ERR_TRANSFORM", (&HookError{Code: "ERR_TRANSFORM"}).Error())
}

func TestSafeHooksRecoverPanics(t *testing.T) {
	calls := 0
	h := HookFuncs{
		After: func(context.Context, string, kafka.Message, []byte, error) { calls++; panic("after") },
		Err:   func(context.Context, string, kafka.Message, []byte, error) { calls++; panic("err") },
	}
	assert.NotPanics(t, func() {
		safeAfter(h, context.Background(), "t", kafka.Message{}, nil, nil)
		safeOnError(h, context.Background(), "t", kafka.Message{}, nil, errors.New("x"))
	})
	assert.Equal(t, 2, calls)
}
