package deadline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoReturnsValue(t *testing.T) {
	t.Parallel()

	v, err := Do(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("got (%d, %v), want (42, nil)", v, err)
	}
}

func TestDoPropagatesError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	_, err := Do(context.Background(), time.Second, func(ctx context.Context) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want %v", err, boom)
	}
}

func TestDoTimesOut(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	v, err := Do(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-release // ignores ctx on purpose
		return 7, nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err=%v want ErrTimeout", err)
	}
	if v != 0 {
		t.Fatalf("v=%d want zero value", v)
	}
	if el := time.Since(start); el > time.Second {
		t.Fatalf("Do blocked for %s", el)
	}
}

func TestDoParentCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}
