package rmi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
)

var (
	log *zap.SugaredLogger
)

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	log = l.Sugar()
}

// testObject is a remote object with a handful of methods for exercising the protocol.
type testObject struct {
	mut     sync.Mutex
	seen    []string
	release chan struct{}
	waiting chan struct{}
}

func newTestObject() *testObject {
	return &testObject{release: make(chan struct{}), waiting: make(chan struct{}, 1)}
}

func newTestServer(obj *testObject, metrics *Metrics) *Server {
	srv := &Server{Log: log.Named("server"), Metrics: metrics}
	record := func(ctx context.Context, method string) {
		obj.mut.Lock()
		obj.seen = append(obj.seen, fmt.Sprintf("%d:%s", Sequence(ctx), method))
		obj.mut.Unlock()
	}
	srv.Register("add", func(ctx context.Context, args Args) (any, error) {
		record(ctx, "add")
		var a, b int
		if err := args.Bind(&a, &b); err != nil {
			return nil, err
		}
		return a + b, nil
	})
	srv.Register("noop", func(ctx context.Context, args Args) (any, error) {
		record(ctx, "noop")
		return nil, nil
	})
	srv.Register("fail", func(ctx context.Context, args Args) (any, error) {
		return nil, errors.New("engine exploded")
	})
	srv.Register("panic", func(ctx context.Context, args Args) (any, error) {
		panic("oops")
	})
	srv.Register("unencodable", func(ctx context.Context, args Args) (any, error) {
		return func() {}, nil
	})
	srv.Register("wait", func(ctx context.Context, args Args) (any, error) {
		select {
		case obj.waiting <- struct{}{}:
		default:
		}
		select {
		case <-obj.release:
			return "released", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	srv.Register("block", func(ctx context.Context, args Args) (any, error) {
		obj.waiting <- struct{}{}
		<-obj.release
		return nil, nil
	})
	srv.Register("release", func(ctx context.Context, args Args) (any, error) {
		close(obj.release)
		return nil, nil
	})
	return srv
}

func startServer(t *testing.T, srv *Server) (*Client, *httptest.Server, context.CancelFunc) {
	t.Helper()
	baseCtx, cancel := context.WithCancel(context.Background())
	ts := httptest.NewUnstartedServer(srv)
	ts.Config.BaseContext = func(net.Listener) context.Context { return baseCtx }
	ts.Start()
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})

	client, err := Dial(context.Background(), ts.URL, WithClientLogger(log.Desugar()))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, ts, cancel
}

// channels runs f against both the WebSocket client and the local channel.
func channels(t *testing.T, f func(t *testing.T, ch Channel, obj *testObject)) {
	t.Run("websocket", func(t *testing.T) {
		obj := newTestObject()
		client, _, _ := startServer(t, newTestServer(obj, nil))
		f(t, client, obj)
	})
	t.Run("local", func(t *testing.T) {
		obj := newTestObject()
		local := Local(newTestServer(obj, nil))
		t.Cleanup(func() { local.Close() })
		f(t, local, obj)
	})
}

func TestInvoke(t *testing.T) {
	channels(t, func(t *testing.T, ch Channel, obj *testObject) {
		ctx := context.Background()

		cases := []struct {
			name      string
			method    string
			args      []any
			expResult string
			expCode   string
		}{
			{name: "result", method: "add", args: []any{2, 3}, expResult: "5"},
			{name: "no result", method: "noop"},
			{name: "handler error", method: "fail", expCode: CodeInternal},
			{name: "wrong arg count", method: "add", args: []any{2}, expCode: CodeInvalidArgument},
			{name: "wrong arg type", method: "add", args: []any{"two", 3}, expCode: CodeInvalidArgument},
			{name: "unknown method", method: "nope", expCode: CodeUnknownMethod},
			{name: "panic", method: "panic", expCode: CodeInternal},
			{name: "unencodable result", method: "unencodable", expCode: CodeInternal},
		}
		for _, c := range cases {
			t.Run(c.name, func(t *testing.T) {
				res, err := ch.Invoke(ctx, c.method, c.args...)
				if c.expCode != "" {
					var callErr *CallError
					require.ErrorAs(t, err, &callErr)
					assert.Equal(t, c.expCode, callErr.Code)
					assert.Equal(t, c.method, callErr.Method)
					assert.Equal(t, c.expCode == CodeInvalidArgument, errors.Is(err, ErrInvalidArgument))
					return
				}
				require.NoError(t, err)
				if c.expResult == "" {
					assert.Nil(t, res)
					return
				}
				assert.JSONEq(t, c.expResult, string(res))
			})
		}
	})
}

func TestHandlerErrorMessage(t *testing.T) {
	channels(t, func(t *testing.T, ch Channel, obj *testObject) {
		_, err := ch.Invoke(context.Background(), "fail")
		assert.EqualError(t, err, "remote fail failed (internal): engine exploded")
	})
}

func TestSequentialCallsArriveInOrder(t *testing.T) {
	channels(t, func(t *testing.T, ch Channel, obj *testObject) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			_, err := ch.Invoke(ctx, "noop")
			require.NoError(t, err)
			_, err = ch.Invoke(ctx, "add", i, i)
			require.NoError(t, err)
		}

		obj.mut.Lock()
		defer obj.mut.Unlock()
		require.Len(t, obj.seen, 10)
		for i, s := range obj.seen {
			method := "noop"
			if i%2 == 1 {
				method = "add"
			}
			assert.Equal(t, fmt.Sprintf("%d:%s", i+1, method), s)
		}
	})
}

func TestConcurrentCalls(t *testing.T) {
	channels(t, func(t *testing.T, ch Channel, obj *testObject) {
		group, ctx := errgroup.WithContext(context.Background())
		for i := 0; i < 50; i++ {
			i := i
			group.Go(func() error {
				res, err := ch.Invoke(ctx, "add", i, 1000)
				if err != nil {
					return err
				}
				var sum int
				if err := json.Unmarshal(res, &sum); err != nil {
					return err
				}
				if sum != i+1000 {
					return fmt.Errorf("got %d for %d+1000", sum, i)
				}
				return nil
			})
		}
		require.NoError(t, group.Wait())
	})
}

func TestShortCallOverlapsLongCall(t *testing.T) {
	channels(t, func(t *testing.T, ch Channel, obj *testObject) {
		ctx := context.Background()
		resCh := make(chan json.RawMessage, 1)
		go func() {
			res, err := ch.Invoke(ctx, "wait")
			assert.NoError(t, err)
			resCh <- res
		}()

		_, err := ch.Invoke(ctx, "release")
		require.NoError(t, err)

		select {
		case res := <-resCh:
			assert.JSONEq(t, `"released"`, string(res))
		case <-time.After(5 * time.Second):
			t.Fatal("long call was not released")
		}
	})
}

func TestAbandonedCall(t *testing.T) {
	channels(t, func(t *testing.T, ch Channel, obj *testObject) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := ch.Invoke(ctx, "wait")
		require.ErrorIs(t, err, context.DeadlineExceeded)

		// the channel stays usable, and the late response is dropped
		_, err = ch.Invoke(context.Background(), "release")
		require.NoError(t, err)
		res, err := ch.Invoke(context.Background(), "add", 1, 1)
		require.NoError(t, err)
		assert.Equal(t, "2", string(res))
	})
}

func TestConnectionLossFailsCalls(t *testing.T) {
	obj := newTestObject()
	client, _, cancelServer := startServer(t, newTestServer(obj, nil))

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Invoke(context.Background(), "block")
		errCh <- err
	}()

	<-obj.waiting
	cancelServer()
	defer close(obj.release)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("outstanding call did not fail")
	}

	_, err := client.Invoke(context.Background(), "noop")
	require.ErrorIs(t, err, ErrClosed)
}

func TestClientClose(t *testing.T) {
	obj := newTestObject()
	client, _, _ := startServer(t, newTestServer(obj, nil))

	require.NoError(t, client.Close())
	_, err := client.Invoke(context.Background(), "noop")
	require.ErrorIs(t, err, ErrClosed)
}

func TestLocalClose(t *testing.T) {
	obj := newTestObject()
	local := Local(newTestServer(obj, nil))

	errCh := make(chan error, 1)
	go func() {
		_, err := local.Invoke(context.Background(), "wait")
		errCh <- err
	}()
	<-obj.waiting
	require.NoError(t, local.Close())

	select {
	case err := <-errCh:
		// the handler saw its context canceled
		var callErr *CallError
		require.ErrorAs(t, err, &callErr)
		assert.Contains(t, callErr.Message, context.Canceled.Error())
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not canceled")
	}

	_, err := local.Invoke(context.Background(), "noop")
	require.ErrorIs(t, err, ErrClosed)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	obj := newTestObject()
	client, _, _ := startServer(t, newTestServer(obj, metrics))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.Invoke(ctx, "noop")
		require.NoError(t, err)
	}
	_, err := client.Invoke(ctx, "fail")
	require.Error(t, err)
	_, err = client.Invoke(ctx, "add", "x", "y")
	require.Error(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.calls.WithLabelValues("noop", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.calls.WithLabelValues("fail", CodeInternal)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.calls.WithLabelValues("add", CodeInvalidArgument)))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.inflight.WithLabelValues("noop")))
}

func TestArgsBind(t *testing.T) {
	args := Args{json.RawMessage(`3`), json.RawMessage(`"three"`), json.RawMessage(`1.5`)}

	var i int
	var s string
	var f float64
	require.NoError(t, args.Bind(&i, &s, &f))
	assert.Equal(t, 3, i)
	assert.Equal(t, "three", s)
	assert.Equal(t, 1.5, f)

	require.ErrorIs(t, args.Bind(&i, &s), ErrInvalidArgument)
	require.ErrorIs(t, args.Bind(&s, &s, &f), ErrInvalidArgument)
	require.NoError(t, Args{}.Bind())
}

func TestSequenceOutsideCall(t *testing.T) {
	assert.Equal(t, uint64(0), Sequence(context.Background()))
}

func TestNewClientOverEstablishedConn(t *testing.T) {
	obj := newTestObject()
	ts := httptest.NewServer(newTestServer(obj, nil))
	t.Cleanup(ts.Close)

	conn, _, err := websocket.Dial(context.Background(), ts.URL, nil)
	require.NoError(t, err)
	client := NewClient(conn, WithClientLogger(log.Desugar()))
	defer client.Close()

	res, err := client.Invoke(context.Background(), "add", 20, 22)
	require.NoError(t, err)
	assert.Equal(t, "42", string(res))
}

func TestSentFunc(t *testing.T) {
	channels(t, func(t *testing.T, ch Channel, obj *testObject) {
		sent := make(chan struct{})
		ctx := WithSentFunc(context.Background(), func() { close(sent) })

		resCh := make(chan json.RawMessage, 1)
		go func() {
			res, err := ch.Invoke(ctx, "wait")
			assert.NoError(t, err)
			resCh <- res
		}()

		// the call is reported sent while it is still being served
		select {
		case <-sent:
		case <-time.After(5 * time.Second):
			t.Fatal("call was not reported sent")
		}
		_, err := ch.Invoke(context.Background(), "release")
		require.NoError(t, err)
		assert.JSONEq(t, `"released"`, string(<-resCh))

		// a call made without a sent func is unaffected
		Sent(context.Background())
	})
}
