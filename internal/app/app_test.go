package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestConfig_validate(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cfg     Config
		wantErr bool
	}{
		"valid":           {cfg: Config{ServiceName: "svc", StopTimeout: time.Second}},
		"no service name": {cfg: Config{StopTimeout: time.Second}, wantErr: true},
		"no stop timeout": {cfg: Config{ServiceName: "svc"}, wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func mockDep(ctrl *gomock.Controller, name string) *MockDependency {
	d := NewMockDependency(ctrl)
	d.EXPECT().Name().Return(name).AnyTimes()
	return d
}

func TestApp_StopsInReverseOrder(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctrl := gomock.NewController(t)

	started := make(chan struct{}, 2)
	first, second := mockDep(ctrl, "first"), mockDep(ctrl, "second")
	for _, d := range []*MockDependency{first, second} {
		d.EXPECT().Start().DoAndReturn(func() error {
			started <- struct{}{}
			return nil
		})
	}
	gomock.InOrder(
		second.EXPECT().Stop().Return(nil),
		first.EXPECT().Stop().Return(nil),
	)

	a, err := CreateApp(&Config{ServiceName: "svc", StopTimeout: time.Second}, first, second)
	req.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		<-started
		cancel()
	}()
	req.NoError(a.Run(ctx))
	req.Error(a.Run(ctx))
}

func TestApp_StartFailure(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctrl := gomock.NewController(t)

	failing := mockDep(ctrl, "failing")
	failing.EXPECT().Start().Return(errors.New("boom"))
	failing.EXPECT().Stop().Return(nil)

	other := mockDep(ctrl, "other")
	other.EXPECT().Start().Return(nil).MaxTimes(1)
	other.EXPECT().Stop().Return(errors.New("stop failed"))

	a, err := CreateApp(&Config{ServiceName: "svc", StopTimeout: time.Second}, failing, other)
	req.NoError(err)
	err = a.Run(context.Background())
	req.ErrorContains(err, "stop failed")
}

func TestApp_StopTimeout(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctrl := gomock.NewController(t)

	slow := mockDep(ctrl, "slow")
	slow.EXPECT().Start().Return(nil).MaxTimes(1)
	slow.EXPECT().Stop().DoAndReturn(func() error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	a, err := CreateApp(&Config{ServiceName: "svc", StopTimeout: 20 * time.Millisecond}, slow)
	req.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = a.Run(ctx)
	req.ErrorIs(err, context.DeadlineExceeded)
}

func TestApp_StartFailsAfterShutdown(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctrl := gomock.NewController(t)

	release := make(chan struct{})
	returned := make(chan struct{})
	late := mockDep(ctrl, "late")
	late.EXPECT().Start().DoAndReturn(func() error {
		defer close(returned)
		<-release
		return errors.New("too late")
	})
	late.EXPECT().Stop().Return(nil)

	a, err := CreateApp(&Config{ServiceName: "svc", StopTimeout: time.Second}, late)
	req.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req.NoError(a.Run(ctx))

	close(release)
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("start did not return")
	}
}
