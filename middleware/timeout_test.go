package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/mcp-relay/protocol"
)

func TestTimeout(t *testing.T) {
	t.Run("sets deadline", func(t *testing.T) {
		var hasDeadline bool
		handler := HandlerFunc(func(ctx context.Context, _ *protocol.Request) (*protocol.Response, error) {
			_, hasDeadline = ctx.Deadline()
			return nil, nil
		})

		_, _ = Timeout(time.Second)(handler)(context.Background(), newRequest("x"))

		if !hasDeadline {
			t.Error("expected context deadline")
		}
	})

	t.Run("converts deadline into gateway error", func(t *testing.T) {
		slow := HandlerFunc(func(ctx context.Context, _ *protocol.Request) (*protocol.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

		_, err := Timeout(10*time.Millisecond)(slow)(context.Background(), newRequest("tools/call"))

		var rpcErr *protocol.Error
		if !errors.As(err, &rpcErr) {
			t.Fatalf("expected *protocol.Error, got %v", err)
		}
		if rpcErr.Code != protocol.CodeGatewayError {
			t.Errorf("code = %d, want %d", rpcErr.Code, protocol.CodeGatewayError)
		}
		if rpcErr.Message != protocol.GatewayPrefix+"request timed out" {
			t.Errorf("unexpected message %q", rpcErr.Message)
		}
	})

	t.Run("passes other errors through", func(t *testing.T) {
		want := errors.New("boom")
		failing := HandlerFunc(func(context.Context, *protocol.Request) (*protocol.Response, error) {
			return nil, want
		})

		if _, err := Timeout(time.Second)(failing)(context.Background(), newRequest("x")); !errors.Is(err, want) {
			t.Errorf("expected %v, got %v", want, err)
		}
	})
}
