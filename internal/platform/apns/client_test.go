package apns

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPushClient struct {
	mock.Mock
}

func (m *MockPushClient) Push(n *apns2.Notification) (*apns2.Response, error) {
	args := m.Called(n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apns2.Response), args.Error(1)
}

func newTestClient(mockClient PushClient) *Client {
	return &Client{
		client: mockClient,
		topic:  "com.test.app",
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		stale:  make(map[string]struct{}),
	}
}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("Happy Path - Bulk Success", func(t *testing.T) {
		mockClient := new(MockPushClient)
		client := newTestClient(mockClient)

		mockResponse := &apns2.Response{StatusCode: http.StatusOK}
		mockClient.On("Push", mock.MatchedBy(func(n *apns2.Notification) bool {
			return n.Topic == "com.test.app"
		})).Return(mockResponse, nil).Twice()

		resp, err := client.SendBulk(ctx, []string{"token-1", "token-2"}, "hello", nil, nil)

		require.NoError(t, err)
		assert.Equal(t, 2, resp.Success)
		assert.Equal(t, 0, resp.Failure)
		assert.Contains(t, resp.Receipt, "success:2")
		mockClient.AssertExpectations(t)
	})

	t.Run("Single send targets exactly one token", func(t *testing.T) {
		mockClient := new(MockPushClient)
		client := newTestClient(mockClient)

		mockClient.On("Push", mock.MatchedBy(func(n *apns2.Notification) bool {
			return n.DeviceToken == "token-1"
		})).Return(&apns2.Response{StatusCode: http.StatusOK}, nil).Once()

		resp, err := client.SendSingle(ctx, "token-1", "hello", nil, nil)

		require.NoError(t, err)
		assert.Equal(t, 1, resp.Success)
		mockClient.AssertExpectations(t)
	})

	t.Run("Dead token lands in the stale set", func(t *testing.T) {
		mockClient := new(MockPushClient)
		client := newTestClient(mockClient)

		mockResponse := &apns2.Response{
			StatusCode: http.StatusGone,
			Reason:     apns2.ReasonUnregistered,
		}
		mockClient.On("Push", mock.Anything).Return(mockResponse, nil)

		resp, err := client.SendSingle(ctx, "dead-token", "hello", nil, nil)

		require.NoError(t, err)
		assert.Equal(t, 1, resp.Failure)

		ids, err := client.InactiveIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"dead-token"}, ids)
	})

	t.Run("Rejection for configuration reasons is not stale", func(t *testing.T) {
		mockClient := new(MockPushClient)
		client := newTestClient(mockClient)

		mockResponse := &apns2.Response{
			StatusCode: http.StatusBadRequest,
			Reason:     apns2.ReasonTopicDisallowed,
		}
		mockClient.On("Push", mock.Anything).Return(mockResponse, nil)

		_, err := client.SendSingle(ctx, "token-1", "hello", nil, nil)

		require.NoError(t, err)
		ids, err := client.InactiveIDs(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("Transport failure aborts and surfaces", func(t *testing.T) {
		mockClient := new(MockPushClient)
		client := newTestClient(mockClient)

		mockClient.On("Push", mock.Anything).Return(nil, errors.New("connection refused")).Once()

		_, err := client.SendBulk(ctx, []string{"token-1", "token-2"}, "hello", nil, nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
		mockClient.AssertExpectations(t)
	})

	t.Run("Empty token list skips the wire", func(t *testing.T) {
		mockClient := new(MockPushClient)
		client := newTestClient(mockClient)

		resp, err := client.SendBulk(ctx, nil, "hello", nil, nil)

		require.NoError(t, err)
		assert.Contains(t, resp.Receipt, "skipped")
		mockClient.AssertNotCalled(t, "Push", mock.Anything)
	})
}

func TestBuildPayload(t *testing.T) {
	t.Run("Recognized args map to builder fields, rest are custom", func(t *testing.T) {
		builder := buildPayload("hello", nil, map[string]any{
			"sound":  "ping.aiff",
			"badge":  float64(4),
			"thread": "chat-9",
		})

		raw, err := builder.MarshalJSON()
		require.NoError(t, err)

		body := string(raw)
		assert.Contains(t, body, `"alert":"hello"`)
		assert.Contains(t, body, `"sound":"ping.aiff"`)
		assert.Contains(t, body, `"badge":4`)
		assert.Contains(t, body, `"thread":"chat-9"`)
	})

	t.Run("Extra entries become custom payload keys", func(t *testing.T) {
		builder := buildPayload("hello", map[string]string{
			"thread_id": "42",
			"category":  "chat",
		}, map[string]any{"sound": "ping.aiff"})

		raw, err := builder.MarshalJSON()
		require.NoError(t, err)

		body := string(raw)
		assert.Contains(t, body, `"alert":"hello"`)
		assert.Contains(t, body, `"thread_id":"42"`)
		assert.Contains(t, body, `"category":"chat"`)
		assert.Contains(t, body, `"sound":"ping.aiff"`)
	})
}

func TestSendCarriesExtraPayload(t *testing.T) {
	mockClient := new(MockPushClient)
	client := newTestClient(mockClient)

	mockClient.On("Push", mock.MatchedBy(func(n *apns2.Notification) bool {
		builder, ok := n.Payload.(*payload.Payload)
		if !ok {
			return false
		}
		raw, err := builder.MarshalJSON()
		return err == nil && strings.Contains(string(raw), `"thread_id":"42"`)
	})).Return(&apns2.Response{StatusCode: http.StatusOK}, nil).Once()

	resp, err := client.SendSingle(context.Background(), "token-1", "hello",
		map[string]string{"thread_id": "42"}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, resp.Success)
	mockClient.AssertExpectations(t)
}

func TestInactiveIDs_Sorted(t *testing.T) {
	mockClient := new(MockPushClient)
	client := newTestClient(mockClient)

	mockClient.On("Push", mock.Anything).Return(&apns2.Response{
		StatusCode: http.StatusBadRequest,
		Reason:     apns2.ReasonBadDeviceToken,
	}, nil)

	_, err := client.SendBulk(context.Background(), []string{"z-token", "a-token"}, "hello", nil, nil)
	require.NoError(t, err)

	ids, err := client.InactiveIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a-token", "z-token"}, ids)
}
