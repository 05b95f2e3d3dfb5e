package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestTransient_Wraps_Once(t *testing.T) {
	req := require.New(t)

	err := Transient(fmt.Errorf("timeout"))
	req.True(Is(err, ErrTransientDependency))

	// Wrapping twice keeps the same error
	req.Equal(err, Transient(err))
	req.Nil(Transient(nil))
}

func TestMapToGRPCError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"protocol", ErrProtocol, codes.InvalidArgument},
		{"too long", fmt.Errorf("%w: 300 characters", ErrMessageTooLong), codes.InvalidArgument},
		{"rate limited", ErrRateLimited, codes.ResourceExhausted},
		{"stopped", ErrMatchmakerStopped, codes.Unavailable},
		{"transient", Transient(fmt.Errorf("boom")), codes.Unavailable},
		{"unknown", fmt.Errorf("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, ok := status.FromError(MapToGRPCError(tt.err))
			require.True(t, ok)
			require.Equal(t, tt.code, st.Code())
		})
	}
	require.Nil(t, MapToGRPCError(nil))
}
