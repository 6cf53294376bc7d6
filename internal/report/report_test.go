package report

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/godispatch/dws/dispatcher"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMultiCallsEveryHandler(t *testing.T) {
	require := require.New(t)

	var got []int
	ok := dispatcher.ResultHandlerFunc(func(r dispatcher.Result) error {
		got = append(got, r.TaskID)
		return nil
	})
	broken := errors.New("broken")
	failing := dispatcher.ResultHandlerFunc(func(dispatcher.Result) error { return broken })

	err := Multi(ok, failing, ok).HandleResult(dispatcher.Result{TaskID: 5})
	require.ErrorIs(err, broken)
	require.Equal([]int{5, 5}, got)

	require.NoError(Multi().HandleResult(dispatcher.Result{TaskID: 1}))
}

func TestNewRedisHandlerRejectsBadURL(t *testing.T) {
	_, err := NewRedisHandler("not-a-url", "k")
	require.Error(t, err)
}

// TestRedisHandler needs a server; set DWS_TEST_REDIS_URL to run it
func TestRedisHandler(t *testing.T) {
	url := os.Getenv("DWS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("DWS_TEST_REDIS_URL not set")
	}
	require := require.New(t)

	key := "dws:test:" + uuid.NewString()
	h, err := NewRedisHandler(url, key)
	require.NoError(err)
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.Ping(ctx))
	defer h.client.Del(ctx, key)

	require.NoError(h.HandleResult(dispatcher.Result{TaskID: 3, WorkerID: 2, Value: 6}))

	items, err := h.client.LRange(ctx, key, 0, -1).Result()
	require.NoError(err)
	require.Len(items, 1)
	var rec Record
	require.NoError(json.Unmarshal([]byte(items[0]), &rec))
	require.Equal(2, rec.WorkerID)
	require.Equal(3, rec.TaskID)
	require.Equal(6.0, rec.Value)
}
